package runner

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/thipages/js-crud-api/internal/executor"
	"github.com/thipages/js-crud-api/internal/oracle"
	"github.com/thipages/js-crud-api/internal/session"
	"github.com/thipages/js-crud-api/internal/shadow"
	"github.com/thipages/js-crud-api/internal/wire"
)

// FileStatus is the outcome of one fixture file.
type FileStatus string

const (
	StatusPassed  FileStatus = "passed"
	StatusFailed  FileStatus = "failed"
	StatusSkipped FileStatus = "skipped"
)

// PairResult is the outcome of one request/response pair.
type PairResult struct {
	Index    int             `json:"index"`
	Request  wire.Request    `json:"request"`
	Decision oracle.Decision `json:"decision"`
	Via      executor.Path   `json:"via,omitempty"`
	Fallback bool            `json:"fallback,omitempty"`
	Pass     bool            `json:"pass"`
	Diff     *shadow.Diff    `json:"diff,omitempty"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration_ns"`

	Expected wire.Response `json:"-"`
	Actual   wire.Response `json:"-"`
}

// Summary is a one-line description of a failed pair.
func (p PairResult) Summary() string {
	prefix := fmt.Sprintf("pair %d %s %s: ", p.Index, p.Request.Method, p.Request.Path)
	switch {
	case p.Error != "":
		return prefix + p.Error
	case p.Diff != nil:
		return prefix + p.Diff.String()
	}
	return prefix + "ok"
}

// FileResult is the outcome of one fixture file.
type FileResult struct {
	Path           string       `json:"path"`
	Status         FileStatus   `json:"status"`
	Reason         string       `json:"reason,omitempty"`
	Error          string       `json:"error,omitempty"`
	UnifiedSession bool         `json:"unified_session,omitempty"`
	Pairs          []PairResult `json:"pairs,omitempty"`
}

// FailedPair returns the pair that failed the file, if any.
func (f FileResult) FailedPair() (PairResult, bool) {
	if f.Status != StatusFailed || len(f.Pairs) == 0 {
		return PairResult{}, false
	}
	return f.Pairs[len(f.Pairs)-1], true
}

// Stats aggregates a run. Total, Passed, Failed and Skipped count files;
// Adapter, Raw and Fallback count executed pairs.
type Stats struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	Adapter  int `json:"adapter"`
	Raw      int `json:"raw"`
	Fallback int `json:"fallback"`
}

// Report is the outcome of a run.
type Report struct {
	RunID      string       `json:"run_id"`
	State      State        `json:"-"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Stats      Stats        `json:"stats"`
	Files      []FileResult `json:"files"`
}

func (r *Report) add(f FileResult) {
	r.Files = append(r.Files, f)
	r.Stats.Total++
	switch f.Status {
	case StatusPassed:
		r.Stats.Passed++
	case StatusFailed:
		r.Stats.Failed++
	default:
		r.Stats.Skipped++
	}
	for _, p := range f.Pairs {
		switch p.Via {
		case executor.PathAdapter:
			r.Stats.Adapter++
		case executor.PathRaw:
			r.Stats.Raw++
		}
		if p.Fallback {
			r.Stats.Fallback++
		}
	}
}

// Failures returns the failed files in run order.
func (r *Report) Failures() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Status == StatusFailed {
			out = append(out, f)
		}
	}
	return out
}

// Group is a bucket of failed files sharing a recognizable cause.
type Group struct {
	Key   string
	Name  string
	Files []FileResult
}

var groupOrder = []struct{ key, name string }{
	{"form", "POST form-encoded (_with_post)"},
	{"query", "Query params (?page, ?order, ?filter, ?q, ?size, ?format)"},
	{"batch", "Batch (multiple ids)"},
	{"auth", "Auth (002_auth/*)"},
	{"columns", "Columns (003_columns/*)"},
	{"other", "Other"},
}

var (
	multiID     = regexp.MustCompile(`^/records/[^/]+/[^/]*,`)
	queryGroups = []string{"page", "order", "filter", "q", "size", "format"}
)

// Classify returns the group key of a failed file.
func Classify(f FileResult) string {
	p, _ := f.FailedPair()
	req := p.Request
	ct := strings.ToLower(req.Headers.Get("content-type"))
	switch {
	case strings.Contains(f.Path, "_with_post.log"), strings.Contains(ct, "application/x-www-form-urlencoded"):
		return "form"
	case strings.Contains(f.Path, "002_auth/"), session.IsAuthEndpoint(req.PathOnly()):
		return "auth"
	case strings.Contains(f.Path, "003_columns/"):
		return "columns"
	case multiID.MatchString(req.PathOnly()):
		return "batch"
	}
	if q, err := url.ParseQuery(req.Query()); err == nil {
		for _, k := range queryGroups {
			if q.Has(k) {
				return "query"
			}
		}
	}
	return "other"
}

// Groups buckets the failed files. Empty groups are omitted.
func (r *Report) Groups() []Group {
	byKey := make(map[string][]FileResult)
	for _, f := range r.Failures() {
		k := Classify(f)
		byKey[k] = append(byKey[k], f)
	}
	var out []Group
	for _, g := range groupOrder {
		if files := byKey[g.key]; len(files) > 0 {
			out = append(out, Group{Key: g.key, Name: g.name, Files: files})
		}
	}
	return out
}

// SnippetLimit bounds expected/actual excerpts in the text export.
const SnippetLimit = 200

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > SnippetLimit {
		return string(r[:SnippetLimit]) + "..."
	}
	return s
}

var rule = strings.Repeat("=", 50)

// WriteText writes the stats block followed by the failed files, grouped.
func (r *Report) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	s := r.Stats
	fmt.Fprintf(bw, "Run: %s\n\nStats:\n%d Total\n%d Passed\n%d Failed\n%d Skipped\n", r.RunID, s.Total, s.Passed, s.Failed, s.Skipped)
	fmt.Fprintf(bw, "Paths: adapter %d | raw %d | fallback %d\n\n", s.Adapter, s.Raw, s.Fallback)

	failures := r.Failures()
	if len(failures) == 0 {
		fmt.Fprintln(bw, "No failed files.")
		return bw.Flush()
	}

	fmt.Fprintf(bw, "Failed files (%d):\n%s\n", len(failures), rule)
	for _, g := range r.Groups() {
		fmt.Fprintf(bw, "\n%s (%d):\n%s\n", g.Name, len(g.Files), rule)
		for _, f := range g.Files {
			p, _ := f.FailedPair()
			fmt.Fprintf(bw, "\n%s\n%s %s\n%s\n", f.Path, p.Request.Method, p.Request.Path, f.Error)
			if p.Diff != nil && p.Diff.Dimension == shadow.DimensionBody {
				fmt.Fprintf(bw, "Expected: %s\n", snippet(p.Diff.Expected))
				fmt.Fprintf(bw, "Actual: %s\n", snippet(p.Diff.Actual))
			}
		}
	}
	return bw.Flush()
}
