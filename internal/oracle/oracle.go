// Package oracle decides, per request, whether the client abstraction can
// express a recorded request faithfully or whether it must be replayed raw.
//
// The decision is an ordered list of rules. Each rule either returns a
// decision or defers to the next one; the first decision wins. Rules are pure
// functions of the request and the execution environment.
package oracle

import (
	"net/url"
	"strings"

	"github.com/thipages/js-crud-api/internal/wire"
)

// Decision is the outcome for one request. It is never persisted.
type Decision struct {
	Adaptable bool   `json:"adaptable"`
	Reason    string `json:"reason,omitempty"`
	// Rule names the rule that produced the decision.
	Rule string `json:"rule"`
	// ForwardedHeaders are auth headers, keyed by the service's spelling, that
	// the abstraction must send through its configuration surface.
	ForwardedHeaders map[string]string `json:"forwarded_headers,omitempty"`
}

// Env describes the execution context of the abstraction.
type Env struct {
	// CookieTransport is true when the abstraction's HTTP transport keeps
	// session cookies between calls.
	CookieTransport bool
}

// Input is the request as seen by the rules.
type Input struct {
	Method   string
	Path     string
	PathOnly string
	RawQuery string
	Query    url.Values
	Segments []string
	Headers  map[string]string
	Body     string
}

// NewInput derives the rule input from request fields. Only the first value
// of each header is considered.
func NewInput(method, path string, headers wire.Headers, body string) Input {
	pathOnly, rawQuery, _ := strings.Cut(path, "?")
	query, _ := url.ParseQuery(rawQuery)

	var segs []string
	for _, s := range strings.Split(pathOnly, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	if headers == nil {
		headers = wire.Headers{}
	}
	return Input{
		Method:   strings.ToUpper(method),
		Path:     path,
		PathOnly: pathOnly,
		RawQuery: rawQuery,
		Query:    query,
		Segments: segs,
		Headers:  headers.First(),
		Body:     body,
	}
}

// Rule is one entry of the compatibility matrix. Decide returns false to
// defer to the next rule.
type Rule struct {
	Name   string
	Decide func(in Input, env Env) (Decision, bool)
}

// Oracle evaluates rules in order.
type Oracle struct {
	env   Env
	rules []Rule
}

// New returns an Oracle using DefaultRules.
func New(env Env) *Oracle {
	return &Oracle{env: env, rules: DefaultRules()}
}

// NewWithRules returns an Oracle evaluating the given rules in order.
func NewWithRules(env Env, rules []Rule) *Oracle {
	return &Oracle{env: env, rules: rules}
}

// Env returns the environment the oracle was built for.
func (o *Oracle) Env() Env { return o.env }

// CanAdapt decides whether the request can go through the abstraction.
func (o *Oracle) CanAdapt(method, path string, headers wire.Headers, body string) Decision {
	return o.Decide(NewInput(method, path, headers, body))
}

// CanAdaptRequest is CanAdapt over a parsed request.
func (o *Oracle) CanAdaptRequest(r wire.Request) Decision {
	return o.CanAdapt(r.Method, r.Path, r.Headers, r.Body)
}

// Decide runs the rules over a prepared input.
func (o *Oracle) Decide(in Input) Decision {
	for _, r := range o.rules {
		if d, ok := r.Decide(in, o.env); ok {
			d.Rule = r.Name
			return d
		}
	}
	return Decision{Reason: "no rule matched", Rule: "none"}
}
