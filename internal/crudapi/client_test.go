package crudapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList_EncodesConditions(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api.php/records/posts", r.URL.Path)
		assert.Equal(t, "filter=id,gt,1&filter=id,lt,5&include=id,title&page=1,2", r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"records":[{"id":2}]}`)
	}))
	defer srv.Close()

	cond := &Conditions{}
	cond.Filter("id", "gt", "1")
	cond.Filter("id", "lt", "5")
	cond.Add("include", "id,title")
	cond.Add("page", "1,2")

	c := New(srv.URL+"/api.php/", WithHTTPClient(srv.Client()))
	got, err := c.List(context.Background(), "posts", cond)
	require.NoError(t, err)
	assert.JSONEq(t, `{"records":[{"id":2}]}`, string(got))
}

func TestCreate_SendsJSONAndHeaders(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/records/user", r.URL.Path)
		assert.Equal(t, []string{"application/json"}, r.Header["Content-Type"])
		assert.Equal(t, []string{"secret"}, r.Header["X-API-Key"], "header spelling kept")
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"login":"a","pass":"b"}`, string(b))
		_, _ = io.WriteString(w, "1")
	}))
	defer srv.Close()

	c := New(srv.URL, WithHTTPClient(srv.Client()), WithHeaders(map[string]string{"X-API-Key": "secret"}))
	got, err := c.Create(context.Background(), "user", map[string]string{"login": "a", "pass": "b"})
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))
}

func TestRead_Rejection(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/records/user/999", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":1001,"message":"Record '999' not found"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, WithHTTPClient(srv.Client()))
	_, err := c.Read(context.Background(), "user", "999", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 1001, apiErr.Code)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "Record '999' not found", apiErr.Message)

	b, err := json.Marshal(apiErr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":1001,"message":"Record '999' not found"}`, string(b))
}

func TestDo_UnexpectedResponses(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "html error", status: http.StatusInternalServerError, body: "<html>boom</html>"},
		{name: "error without code", status: http.StatusBadRequest, body: `{"message":"x"}`},
		{name: "success not json", status: http.StatusOK, body: "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := New(srv.URL, WithHTTPClient(srv.Client())).Delete(context.Background(), "posts", "1")
			require.ErrorIs(t, err, ErrUnexpectedResponse)
			var apiErr *APIError
			assert.False(t, errors.As(err, &apiErr))
		})
	}
}

func TestWithCookies_SessionRoundTrip(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "s1", Path: "/"})
			_, _ = io.WriteString(w, `{"id":1,"username":"u"}`)
		case "/me":
			if ck, err := r.Cookie("PHPSESSID"); err == nil && ck.Value == "s1" {
				_, _ = io.WriteString(w, `{"id":1,"username":"u"}`)
				return
			}
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"code":1011,"message":"Authentication required"}`)
		}
	}))
	defer srv.Close()

	plain := New(srv.URL, WithHTTPClient(srv.Client()))
	assert.False(t, plain.CarriesCookies())

	c := New(srv.URL, WithHTTPClient(srv.Client()), WithCookies())
	assert.True(t, c.CarriesCookies())
	ctx := context.Background()

	_, err := c.Login(ctx, "u", "p")
	require.NoError(t, err)
	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"username":"u"}`, string(me))

	_, err = plain.Me(ctx)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 1011, apiErr.Code)
}

func TestAuthCalls_Bodies(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	seen := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen[r.Method+" "+r.URL.Path] = string(b)
		mu.Unlock()
		_, _ = io.WriteString(w, "true")
	}))
	defer srv.Close()

	c := New(srv.URL, WithHTTPClient(srv.Client()))
	ctx := context.Background()
	_, err := c.Register(ctx, "u", "p")
	require.NoError(t, err)
	_, err = c.ChangePassword(ctx, "u", "p", "q")
	require.NoError(t, err)
	_, err = c.Logout(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.JSONEq(t, `{"username":"u","password":"p"}`, seen["POST /register"])
	assert.JSONEq(t, `{"username":"u","password":"p","newPassword":"q"}`, seen["POST /password"])
	assert.JSONEq(t, `{}`, seen["POST /logout"])
}

func TestStatusForCode(t *testing.T) {
	t.Parallel()
	tests := map[int]int{
		1001: 404, 1002: 422, 1003: 404, 1004: 422, 1005: 405, 1006: 404,
		1007: 404, 1008: 422, 1009: 409, 1010: 409, 1011: 401, 1012: 403,
		1013: 422, 1014: 403, 1015: 404, 1016: 405, 1017: 404, 1018: 422,
		1019: 403, 1020: 409, 1021: 422, 1022: 422, 1023: 404, 9999: 500,
		-1: 500, 42: 500,
	}
	for code, want := range tests {
		assert.Equal(t, want, StatusForCode(code), "code %d", code)
	}
}

func TestAPIError_MarshalWithoutPayload(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal(NewAPIError(-1, "boom"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":-1,"message":"boom"}`, string(b))
}
