// Package fixture parses recorded request/response corpora. A fixture file
// is a sequence of raw HTTP blocks separated by a line of "===" that alternate
// request, response, request, response. An optional leading directive block
// suppresses the whole file.
package fixture

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/thipages/js-crud-api/internal/wire"
)

// SkipAlways marks a file that must never run.
const SkipAlways = "skip-always:"

// DefaultBackend is the backend name matched by "skip-for-<backend>:" directives.
const DefaultBackend = "sqlite"

var separator = regexp.MustCompile(`(?m)^={3,}[ \t]*$`)

// Pair is one request and the response recorded for it. Err is set when
// either block could not be parsed; such a pair fails without executing.
type Pair struct {
	Index    int           `json:"index"`
	Request  wire.Request  `json:"request"`
	Response wire.Response `json:"response"`
	Err      error         `json:"-"`
}

// File is one parsed fixture file. Immutable after Parse.
type File struct {
	Path   string `json:"path"`
	Skip   bool   `json:"skip"`
	Reason string `json:"reason,omitempty"`
	Pairs  []Pair `json:"pairs"`
}

// Requests returns the request side of every pair in order.
func (f File) Requests() []wire.Request {
	out := make([]wire.Request, len(f.Pairs))
	for i, p := range f.Pairs {
		out[i] = p.Request
	}
	return out
}

// SplitBlocks splits content on separator lines into trimmed, non-empty blocks.
func SplitBlocks(content string) []string {
	parts := separator.Split(wire.NormalizeNewlines(content), -1)
	blocks := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			blocks = append(blocks, t)
		}
	}
	return blocks
}

// Parse parses fixture content. backend selects which "skip-for-<backend>:"
// directive applies; an empty backend means DefaultBackend. A trailing block
// without a response is dropped.
func Parse(content, backend string) File {
	if backend == "" {
		backend = DefaultBackend
	}
	blocks := SplitBlocks(content)

	if len(blocks) > 0 && isSkipDirective(blocks[0], backend) {
		return File{Skip: true, Reason: blocks[0], Pairs: []Pair{}}
	}

	pairs := make([]Pair, 0, len(blocks)/2)
	for i := 0; i+1 < len(blocks); i += 2 {
		p := Pair{Index: len(pairs)}
		p.Request = wire.ParseRequest(blocks[i])
		if !p.Request.Valid() {
			p.Err = fmt.Errorf("fixture: pair %d: missing request line", p.Index+1)
		}
		resp, err := wire.ParseResponse(blocks[i+1])
		if err != nil && p.Err == nil {
			p.Err = fmt.Errorf("fixture: pair %d: %w", p.Index+1, err)
		}
		p.Response = resp
		pairs = append(pairs, p)
	}
	return File{Pairs: pairs}
}

func isSkipDirective(block, backend string) bool {
	return strings.HasPrefix(block, SkipAlways) ||
		strings.HasPrefix(block, "skip-for-"+backend+":")
}
