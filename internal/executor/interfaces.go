package executor

import (
	"context"
	"encoding/json"

	"github.com/thipages/js-crud-api/internal/crudapi"
)

// API is the client abstraction the adaptable path calls. *crudapi.Client
// satisfies it.
type API interface {
	List(ctx context.Context, table string, cond *crudapi.Conditions) (json.RawMessage, error)
	Read(ctx context.Context, table, id string, cond *crudapi.Conditions) (json.RawMessage, error)
	Create(ctx context.Context, table string, data any) (json.RawMessage, error)
	Update(ctx context.Context, table, id string, data any) (json.RawMessage, error)
	Delete(ctx context.Context, table, id string) (json.RawMessage, error)
	Register(ctx context.Context, username, password string) (json.RawMessage, error)
	Login(ctx context.Context, username, password string) (json.RawMessage, error)
	Logout(ctx context.Context) (json.RawMessage, error)
	ChangePassword(ctx context.Context, username, password, newPassword string) (json.RawMessage, error)
	Me(ctx context.Context) (json.RawMessage, error)
}

// ClientFactory builds an API that sends the given headers on every call.
type ClientFactory func(headers map[string]string) API
