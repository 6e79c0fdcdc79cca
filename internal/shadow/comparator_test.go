package shadow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thipages/js-crud-api/internal/wire"
)

func resp(status int, body string, headers wire.Headers) wire.Response {
	if headers == nil {
		headers = wire.Headers{}
	}
	return wire.Response{Status: status, Headers: headers, Body: body}
}

func TestCompare_Match(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name             string
		actual, expected string
	}{
		{name: "key order ignored", actual: `{"b":2,"a":1}`, expected: `{"a":1,"b":2}`},
		{name: "whitespace ignored", actual: "{\"a\": [1, 2]}\n", expected: `{"a":[1,2]}`},
		{name: "loopback normalized", actual: `{"records":[{"ip_address":"::1"}]}`, expected: `{"records":[{"ip_address":"127.0.0.1"}]}`},
		{name: "raw text", actual: " 1\n", expected: "1"},
		{name: "empty", actual: "", expected: "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := Comparator{}.Compare(resp(200, tt.actual, nil), resp(200, tt.expected, nil))
			assert.True(t, out.Pass)
			assert.Nil(t, out.Diff)
		})
	}
}

func TestCompare_StatusMismatchWins(t *testing.T) {
	t.Parallel()
	out := Comparator{}.Compare(resp(404, `{"a":1}`, nil), resp(200, `{"a":2}`, nil))
	require.False(t, out.Pass)
	require.NotNil(t, out.Diff)
	assert.Equal(t, DimensionStatus, out.Diff.Dimension)
	assert.Equal(t, "200", out.Diff.Expected)
	assert.Equal(t, "404", out.Diff.Actual)
	assert.Equal(t, "status expected 200, got 404", out.Diff.String())
}

func TestCompare_BodyMismatch(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name             string
		actual, expected string
	}{
		{name: "value", actual: `{"id":1}`, expected: `{"id":2}`},
		{name: "extra key", actual: `{"id":1,"x":null}`, expected: `{"id":1}`},
		{name: "array length", actual: `[1,2]`, expected: `[1,2,3]`},
		{name: "json vs text", actual: `1`, expected: `{"id":1}`},
		{name: "number vs string", actual: `{"id":"1"}`, expected: `{"id":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := Comparator{}.Compare(resp(200, tt.actual, nil), resp(200, tt.expected, nil))
			require.False(t, out.Pass)
			assert.Equal(t, DimensionBody, out.Diff.Dimension)
			assert.NotEmpty(t, out.Diff.Text)
			assert.Equal(t, "body differs", out.Diff.String())
		})
	}
}

func TestCompare_StrictHeaders(t *testing.T) {
	t.Parallel()
	expected := resp(200, "{}", wire.Headers{
		"content-type":   {"application/json; charset=utf-8"},
		"content-length": {"2"},
	})
	actual := resp(200, "{}", wire.Headers{
		"content-type":   {"application/json"},
		"content-length": {"99"},
		"x-extra":        {"ignored"},
	})

	assert.True(t, Comparator{}.Compare(actual, expected).Pass, "headers ignored when not strict")

	out := Comparator{Strict: true}.Compare(actual, expected)
	require.False(t, out.Pass)
	assert.Equal(t, DimensionHeader, out.Diff.Dimension)
	assert.Equal(t, "content-type", out.Diff.Header)

	actual.Headers["content-type"] = []string{"application/json; charset=utf-8"}
	assert.True(t, Comparator{Strict: true}.Compare(actual, expected).Pass, "content-length and extra headers ignored")
}

func TestCompare_StrictHeaderOrder(t *testing.T) {
	t.Parallel()
	expected := resp(200, "", wire.Headers{"set-cookie": {"a=1", "b=2"}})
	actual := resp(200, "", wire.Headers{"set-cookie": {"b=2", "a=1"}})
	out := Comparator{Strict: true}.Compare(actual, expected)
	require.False(t, out.Pass)
	assert.Equal(t, "set-cookie", out.Diff.Header)
}

func TestEqual(t *testing.T) {
	t.Parallel()
	assert.True(t, Equal(map[string]any{"a": []any{1.0}}, map[string]any{"a": []any{1.0}}))
	assert.False(t, Equal(map[string]any{"a": []any{1.0}}, map[string]any{"a": []any{}}))
	assert.True(t, Equal("x", "x"))
	assert.True(t, Equal(nil, nil))
}
