// Package session tracks the server-side session state a fixture file
// establishes: which files need a single execution path, and the cookies
// carried between raw requests of one file.
package session

import (
	"slices"
	"strings"

	"github.com/thipages/js-crud-api/internal/wire"
)

// AuthEndpoints are the stateful authentication endpoints of the service.
var AuthEndpoints = []string{"/login", "/logout", "/register", "/password", "/me"}

// SessionCreatingHeaders make the service open a session keyed by cookie.
// API-key headers are stateless and deliberately absent.
var SessionCreatingHeaders = []string{"x-authorization", "authorization"}

// IsAuthEndpoint reports whether pathOnly (no query) is an auth endpoint.
func IsAuthEndpoint(pathOnly string) bool {
	return slices.Contains(AuthEndpoints, pathOnly)
}

// RequiresUnifiedSession reports whether any request in the file touches an
// auth endpoint or carries a session-creating header. Such files run every
// pair on the raw path so cookies stay coherent.
func RequiresUnifiedSession(reqs []wire.Request) bool {
	for _, r := range reqs {
		if IsAuthEndpoint(r.PathOnly()) {
			return true
		}
		for _, h := range SessionCreatingHeaders {
			if r.Headers.Has(h) {
				return true
			}
		}
	}
	return false
}

// Jar keeps the latest "name=value" fragment per cookie name for one fixture
// file. Insertion order is kept so the synthesized header is stable. Not safe
// for concurrent use; a file executes sequentially.
type Jar struct {
	order     []string
	fragments map[string]string
}

// NewJar returns an empty jar.
func NewJar() *Jar {
	return &Jar{fragments: make(map[string]string)}
}

// Len returns the number of stored cookies.
func (j *Jar) Len() int { return len(j.order) }

// Absorb stores every cookie assigned by set-cookie response headers.
// Attributes after the first ';' are dropped.
func (j *Jar) Absorb(h wire.Headers) {
	for _, c := range h.Values("set-cookie") {
		part, _, _ := strings.Cut(c, ";")
		part = strings.TrimSpace(part)
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, seen := j.fragments[name]; !seen {
			j.order = append(j.order, name)
		}
		j.fragments[name] = name + "=" + strings.TrimSpace(value)
	}
}

// Header joins the stored fragments into a Cookie header value.
func (j *Jar) Header() string {
	parts := make([]string, 0, len(j.order))
	for _, n := range j.order {
		parts = append(parts, j.fragments[n])
	}
	return strings.Join(parts, "; ")
}

// CookieFor returns the header value to attach to req: empty when the jar is
// empty or the request already carries its own cookie header.
func (j *Jar) CookieFor(req wire.Request) string {
	if j.Len() == 0 || req.Headers.Has("cookie") {
		return ""
	}
	return j.Header()
}
