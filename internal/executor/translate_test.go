package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thipages/js-crud-api/internal/crudapi"
	"github.com/thipages/js-crud-api/internal/wire"
)

// recordingAPI records the call it receives and answers with the call name.
type recordingAPI struct {
	call string
}

func (r *recordingAPI) answer(format string, args ...any) (json.RawMessage, error) {
	r.call = fmt.Sprintf(format, args...)
	return json.RawMessage(`true`), nil
}

func (r *recordingAPI) List(_ context.Context, table string, cond *crudapi.Conditions) (json.RawMessage, error) {
	return r.answer("list %s ?%s", table, cond.Encode())
}

func (r *recordingAPI) Read(_ context.Context, table, id string, cond *crudapi.Conditions) (json.RawMessage, error) {
	return r.answer("read %s %s ?%s", table, id, cond.Encode())
}

func (r *recordingAPI) Create(_ context.Context, table string, data any) (json.RawMessage, error) {
	b, _ := json.Marshal(data)
	return r.answer("create %s %s", table, b)
}

func (r *recordingAPI) Update(_ context.Context, table, id string, data any) (json.RawMessage, error) {
	b, _ := json.Marshal(data)
	return r.answer("update %s %s %s", table, id, b)
}

func (r *recordingAPI) Delete(_ context.Context, table, id string) (json.RawMessage, error) {
	return r.answer("delete %s %s", table, id)
}

func (r *recordingAPI) Register(_ context.Context, u, p string) (json.RawMessage, error) {
	return r.answer("register %s %s", u, p)
}

func (r *recordingAPI) Login(_ context.Context, u, p string) (json.RawMessage, error) {
	return r.answer("login %s %s", u, p)
}

func (r *recordingAPI) Logout(context.Context) (json.RawMessage, error) {
	return r.answer("logout")
}

func (r *recordingAPI) ChangePassword(_ context.Context, u, p, n string) (json.RawMessage, error) {
	return r.answer("password %s %s %s", u, p, n)
}

func (r *recordingAPI) Me(context.Context) (json.RawMessage, error) {
	return r.answer("me")
}

func TestCall_Translation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want string
	}{
		{"GET /records/posts", "list posts ?"},
		{"GET /records/posts?filter=id,gt,1&size=2&filter=id,lt,5&join=comments&join=users", "list posts ?filter=id,gt,1&filter=id,lt,5&size=2&join=comments,users"},
		{"GET /records/posts/1,2?include=id", "read posts 1,2 ?include=id"},
		{"POST /records/posts\n\n {\"b\":2, \"a\":1.50}", `create posts {"b":2,"a":1.50}`},
		{"PUT /records/posts/3\n\n{\"a\":1}", `update posts 3 {"a":1}`},
		{"DELETE /records/posts/3,4", "delete posts 3,4"},
		{"POST /login\n\n{\"username\":\"u\",\"password\":\"p\"}", "login u p"},
		{"POST /register\n\n{\"username\":\"u\",\"password\":\"p\"}", "register u p"},
		{"POST /password\n\n{\"username\":\"u\",\"password\":\"p\",\"newPassword\":\"q\"}", "password u p q"},
		{"POST /logout", "logout"},
		{"GET /me", "me"},
	}
	for _, tt := range tests {
		api := &recordingAPI{}
		_, err := call(context.Background(), api, wire.ParseRequest(tt.raw))
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, api.call, tt.raw)
	}
}

func TestCall_Untranslatable(t *testing.T) {
	t.Parallel()
	raws := []string{
		"GET /openapi/x",
		"GET /records",
		"GET /records/posts/1/2",
		"PUT /records/posts\n\n{}",
		"DELETE /records/posts",
		"POST /records/posts",
		"POST /records/posts\n\n{oops",
		"OPTIONS /records/posts",
		"GET /login",
		"POST /me\n\n{}",
		"POST /login\n\nnot json",
	}
	for _, raw := range raws {
		api := &recordingAPI{}
		_, err := call(context.Background(), api, wire.ParseRequest(raw))
		assert.ErrorIs(t, err, ErrUntranslatable, raw)
		assert.Empty(t, api.call, raw)
	}
}
