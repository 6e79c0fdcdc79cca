package shadow

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/google/go-cmp/cmp"

	"github.com/thipages/js-crud-api/internal/normalize"
	"github.com/thipages/js-crud-api/internal/wire"
)

// Comparator decides whether an actual response matches the expected one.
type Comparator struct {
	// Strict also requires every expected header, except content-length, to
	// carry the same ordered values in the actual response.
	Strict bool
}

// Compare checks status, then normalized body, then (strict) headers, and
// reports the first divergence.
func (c Comparator) Compare(actual, expected wire.Response) Outcome {
	if actual.Status != expected.Status {
		return Outcome{Diff: &Diff{
			Dimension: DimensionStatus,
			Expected:  strconv.Itoa(expected.Status),
			Actual:    strconv.Itoa(actual.Status),
		}}
	}

	want := normalize.Body(expected.Body)
	got := normalize.Body(actual.Body)
	if !Equal(got, want) {
		return Outcome{Diff: &Diff{
			Dimension: DimensionBody,
			Expected:  render(want),
			Actual:    render(got),
			Text:      cmp.Diff(want, got),
		}}
	}

	if c.Strict {
		names := expected.Headers.Names()
		for _, name := range names {
			if name == "content-length" {
				continue
			}
			wantVals := expected.Headers.Values(name)
			gotVals := actual.Headers.Values(name)
			if !slices.Equal(wantVals, gotVals) {
				return Outcome{Diff: &Diff{
					Dimension: DimensionHeader,
					Header:    name,
					Expected:  fmt.Sprint(wantVals),
					Actual:    fmt.Sprint(gotVals),
				}}
			}
		}
	}
	return Outcome{Pass: true}
}

// Equal is structural equality over decoded JSON values: same keys, same
// lengths, recursively equal values.
func Equal(a, b any) bool {
	return cmp.Equal(a, b)
}

func render(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
