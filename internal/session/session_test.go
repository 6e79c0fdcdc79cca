package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thipages/js-crud-api/internal/wire"
)

func TestRequiresUnifiedSession(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		reqs []wire.Request
		want bool
	}{
		{
			name: "plain records",
			reqs: []wire.Request{{Method: "GET", Path: "/records/posts", Headers: wire.Headers{}}},
			want: false,
		},
		{
			name: "login endpoint",
			reqs: []wire.Request{
				{Method: "GET", Path: "/records/posts", Headers: wire.Headers{}},
				{Method: "POST", Path: "/login", Headers: wire.Headers{}},
			},
			want: true,
		},
		{
			name: "me with query",
			reqs: []wire.Request{{Method: "GET", Path: "/me?x=1", Headers: wire.Headers{}}},
			want: true,
		},
		{
			name: "jwt header",
			reqs: []wire.Request{{Method: "GET", Path: "/records/invisibles", Headers: wire.Headers{"x-authorization": {"Bearer abc"}}}},
			want: true,
		},
		{
			name: "basic auth header",
			reqs: []wire.Request{{Method: "GET", Path: "/records/invisibles", Headers: wire.Headers{"authorization": {"Basic dXNlcjpwYXNz"}}}},
			want: true,
		},
		{
			name: "api key is stateless",
			reqs: []wire.Request{{Method: "GET", Path: "/records/invisibles", Headers: wire.Headers{"x-api-key": {"123456789abc"}}}},
			want: false,
		},
		{
			name: "login prefix is not login",
			reqs: []wire.Request{{Method: "GET", Path: "/records/login", Headers: wire.Headers{}}},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, RequiresUnifiedSession(tt.reqs))
		})
	}
}

func TestJar_AbsorbAndHeader(t *testing.T) {
	t.Parallel()
	j := NewJar()
	assert.Equal(t, 0, j.Len())
	assert.Equal(t, "", j.Header())

	j.Absorb(wire.Headers{"set-cookie": {
		"PHPSESSID=abc123; path=/; HttpOnly",
		"theme = dark",
		"broken",
		"=novalue",
	}})
	assert.Equal(t, 2, j.Len())
	assert.Equal(t, "PHPSESSID=abc123; theme=dark", j.Header())

	j.Absorb(wire.Headers{"set-cookie": {"PHPSESSID=def456; path=/"}})
	assert.Equal(t, 2, j.Len())
	assert.Equal(t, "PHPSESSID=def456; theme=dark", j.Header(), "overwrite keeps position")
}

func TestJar_CookieFor(t *testing.T) {
	t.Parallel()
	j := NewJar()
	req := wire.Request{Method: "GET", Path: "/me", Headers: wire.Headers{}}
	assert.Empty(t, j.CookieFor(req))

	j.Absorb(wire.Headers{"set-cookie": {"PHPSESSID=abc"}})
	assert.Equal(t, "PHPSESSID=abc", j.CookieFor(req))

	explicit := wire.Request{Method: "GET", Path: "/me", Headers: wire.Headers{"cookie": {"PHPSESSID=mine"}}}
	assert.Empty(t, j.CookieFor(explicit))
}

func TestIsAuthEndpoint(t *testing.T) {
	t.Parallel()
	for _, p := range AuthEndpoints {
		assert.True(t, IsAuthEndpoint(p), p)
	}
	assert.False(t, IsAuthEndpoint("/records/users"))
	assert.False(t, IsAuthEndpoint("/login/"))
}
