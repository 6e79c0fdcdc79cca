// Package wire parses and serializes the raw HTTP text blocks used by the
// fixture corpus. Header names are lower-cased on parse and line endings are
// normalized to "\n".
package wire

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrNoStatusLine is returned when a response block has no status line.
	ErrNoStatusLine = errors.New("wire: missing status line")
	// ErrBadStatus is returned when the status line carries no numeric code.
	ErrBadStatus = errors.New("wire: unparseable status code")
)

// Headers maps a lower-cased header name to its values in arrival order.
type Headers map[string][]string

// Add appends a value under the lower-cased name.
func (h Headers) Add(name, value string) {
	name = strings.ToLower(name)
	h[name] = append(h[name], value)
}

// Get returns the first value for name, or "".
func (h Headers) Get(name string) string {
	if v := h[strings.ToLower(name)]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Values returns every value for name.
func (h Headers) Values(name string) []string {
	return h[strings.ToLower(name)]
}

// Has reports whether name is present.
func (h Headers) Has(name string) bool {
	_, ok := h[strings.ToLower(name)]
	return ok
}

// Names returns the header names in lexical order.
func (h Headers) Names() []string {
	names := make([]string, 0, len(h))
	for n := range h {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// First flattens the headers to their first value, which is the shape the
// adaptability rules inspect.
func (h Headers) First() map[string]string {
	out := make(map[string]string, len(h))
	for n, v := range h {
		if len(v) > 0 {
			out[n] = v[0]
		}
	}
	return out
}

// Request is one parsed request block.
type Request struct {
	Method  string  `json:"method"`
	Path    string  `json:"path"`
	Headers Headers `json:"headers"`
	Body    string  `json:"body,omitempty"`
}

// Valid reports whether the record can be executed.
func (r Request) Valid() bool {
	return r.Method != "" && r.Path != ""
}

// PathOnly returns the path without its query component.
func (r Request) PathOnly() string {
	p, _, _ := strings.Cut(r.Path, "?")
	return p
}

// Query returns the raw query component, without the leading '?'.
func (r Request) Query() string {
	_, q, _ := strings.Cut(r.Path, "?")
	return q
}

// Raw serializes the request back to fixture text. Headers are written in
// lexical order so the output is deterministic.
func (r Request) Raw() string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte(' ')
	b.WriteString(r.Path)
	writeHeaders(&b, r.Headers)
	if r.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(r.Body)
	}
	return b.String()
}

// Response is one parsed response block, or a response captured at runtime.
type Response struct {
	Status     int     `json:"status"`
	StatusText string  `json:"status_text,omitempty"`
	Headers    Headers `json:"headers"`
	Body       string  `json:"body,omitempty"`
}

// Raw serializes the response in the short "STATUS TEXT" form.
func (r Response) Raw() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(r.Status))
	if r.StatusText != "" {
		b.WriteByte(' ')
		b.WriteString(r.StatusText)
	}
	writeHeaders(&b, r.Headers)
	if r.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(r.Body)
	}
	return b.String()
}

func writeHeaders(b *strings.Builder, h Headers) {
	for _, name := range h.Names() {
		for _, v := range h[name] {
			b.WriteByte('\n')
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(v)
		}
	}
}

// NormalizeNewlines converts CRLF line endings to LF.
func NormalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// ParseHeaders parses "Name: Value" lines. Lines without a colon are ignored.
func ParseHeaders(lines []string) Headers {
	h := make(Headers)
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		h.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return h
}

// splitMessage separates the head lines from the body at the first blank line.
func splitMessage(raw string) ([]string, string) {
	text := NormalizeNewlines(raw)
	head, body, _ := strings.Cut(text, "\n\n")
	return strings.Split(head, "\n"), body
}

// ParseRequest parses a request block. When the request line is missing the
// returned record has an empty Method and callers must treat it as invalid.
func ParseRequest(raw string) Request {
	lines, body := splitMessage(raw)
	fields := strings.Fields(lines[0])
	if len(fields) == 0 {
		return Request{Headers: Headers{}}
	}
	req := Request{
		Method:  fields[0],
		Headers: ParseHeaders(lines[1:]),
		Body:    body,
	}
	if len(fields) > 1 {
		req.Path = fields[1]
	}
	return req
}

// ParseResponse parses a response block. The status line may be either
// "STATUS TEXT" or "HTTP/x STATUS TEXT".
func ParseResponse(raw string) (Response, error) {
	lines, body := splitMessage(raw)
	fields := strings.Fields(lines[0])
	if len(fields) == 0 {
		return Response{}, ErrNoStatusLine
	}

	codeAt := 0
	if strings.HasPrefix(strings.ToUpper(fields[0]), "HTTP/") {
		codeAt = 1
	}
	if len(fields) <= codeAt {
		return Response{}, fmt.Errorf("%w: %q", ErrBadStatus, lines[0])
	}
	status, err := strconv.Atoi(fields[codeAt])
	if err != nil {
		return Response{}, fmt.Errorf("%w: %q", ErrBadStatus, lines[0])
	}

	return Response{
		Status:     status,
		StatusText: strings.Join(fields[codeAt+1:], " "),
		Headers:    ParseHeaders(lines[1:]),
		Body:       body,
	}, nil
}
