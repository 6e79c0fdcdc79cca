package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/thipages/js-crud-api/internal/session"
	"github.com/thipages/js-crud-api/internal/wire"
)

// ForwardedAuthHeaders are the auth headers the abstraction can carry through
// its configuration surface.
var ForwardedAuthHeaders = []string{"x-api-key", "x-api-key-db", "authorization", "x-authorization"}

// DefaultRules returns the compatibility matrix in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "content-type", Decide: contentTypeRule},
		{Name: "preflight", Decide: preflightRule},
		{Name: "patch", Decide: patchRule},
		{Name: "json-body", Decide: jsonBodyRule},
		{Name: "query-override", Decide: queryOverrideRule},
		{Name: "records", Decide: recordsRule},
		{Name: "auth", Decide: authRule},
		{Name: "unsupported", Decide: unsupportedRule},
	}
}

func no(reason string) (Decision, bool) {
	return Decision{Adaptable: false, Reason: reason}, true
}

func contentTypeRule(in Input, _ Env) (Decision, bool) {
	ct := strings.ToLower(in.Headers["content-type"])
	switch {
	case strings.Contains(ct, "application/x-www-form-urlencoded"):
		return no("form-encoded body not supported")
	case strings.Contains(ct, "xml"):
		return no("XML body not supported")
	}
	return Decision{}, false
}

func preflightRule(in Input, _ Env) (Decision, bool) {
	if in.Method == "OPTIONS" {
		return no("CORS preflight not supported")
	}
	return Decision{}, false
}

func patchRule(in Input, _ Env) (Decision, bool) {
	if in.Method == "PATCH" {
		return no("PATCH not supported (client issues PUT)")
	}
	return Decision{}, false
}

func hasBody(method string) bool {
	return method == "POST" || method == "PUT" || method == "PATCH"
}

func jsonBodyRule(in Input, _ Env) (Decision, bool) {
	if !hasBody(in.Method) {
		return Decision{}, false
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return Decision{}, false
	}
	if !strings.HasPrefix(body, "{") && !strings.HasPrefix(body, "[") {
		return no("non-JSON body")
	}
	if !json.Valid([]byte(body)) {
		return no("invalid JSON body")
	}
	return Decision{}, false
}

func queryOverrideRule(in Input, _ Env) (Decision, bool) {
	if in.Query.Has("format") {
		return no("format override not supported")
	}
	if in.Query.Has("q") {
		return no("free-text search not supported")
	}
	return Decision{}, false
}

func recordsRule(in Input, _ Env) (Decision, bool) {
	if !strings.HasPrefix(in.PathOnly, "/records/") {
		return Decision{}, false
	}
	multipleIDs := len(in.Segments) > 2 && strings.Contains(in.Segments[2], ",")
	isUpdate := in.Method == "PUT" || in.Method == "PATCH"

	if multipleIDs && isUpdate {
		return no("batch update (partial errors not surfaced)")
	}
	if in.Method == "POST" && strings.HasPrefix(strings.TrimSpace(in.Body), "[") {
		return no("batch create (partial errors not surfaced)")
	}
	if isUpdate && (in.Query.Has("include") || in.Query.Has("exclude")) {
		return no("include/exclude on update not supported")
	}
	return Decision{Adaptable: true, ForwardedHeaders: forwarded(in.Headers)}, true
}

func forwarded(headers map[string]string) map[string]string {
	var out map[string]string
	for _, name := range ForwardedAuthHeaders {
		v, ok := headers[name]
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[wire.CanonicalName(name)] = v
	}
	return out
}

func authRule(in Input, env Env) (Decision, bool) {
	if !session.IsAuthEndpoint(in.PathOnly) {
		return Decision{}, false
	}
	if !env.CookieTransport {
		return no("auth endpoint (transport does not carry cookies)")
	}
	return Decision{Adaptable: true, ForwardedHeaders: forwarded(in.Headers)}, true
}

func unsupportedRule(in Input, _ Env) (Decision, bool) {
	return no(fmt.Sprintf("endpoint %s not supported", in.PathOnly))
}
