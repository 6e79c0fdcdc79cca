package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/thipages/js-crud-api/internal/crudapi"
	"github.com/thipages/js-crud-api/internal/wire"
)

// ErrUntranslatable is returned when a request has no abstraction call that
// expresses it.
var ErrUntranslatable = errors.New("executor: request has no abstraction call")

// call maps req onto one abstraction operation.
func call(ctx context.Context, api API, req wire.Request) (json.RawMessage, error) {
	var segs []string
	for _, s := range strings.Split(req.PathOnly(), "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	method := strings.ToUpper(req.Method)

	if len(segs) >= 2 && segs[0] == "records" {
		return callRecords(ctx, api, method, segs, req)
	}
	if len(segs) == 1 {
		return callAuth(ctx, api, method, segs[0], req.Body)
	}
	return nil, fmt.Errorf("%w: %s %s", ErrUntranslatable, method, req.Path)
}

func callRecords(ctx context.Context, api API, method string, segs []string, req wire.Request) (json.RawMessage, error) {
	if len(segs) > 3 {
		return nil, fmt.Errorf("%w: %s %s", ErrUntranslatable, method, req.Path)
	}
	table := segs[1]
	id := ""
	if len(segs) == 3 {
		id = segs[2]
	}

	switch method {
	case "GET":
		cond, err := crudapi.ParseConditions(req.Query())
		if err != nil {
			return nil, fmt.Errorf("executor: parse query: %w", err)
		}
		if id != "" {
			return api.Read(ctx, table, id, cond)
		}
		return api.List(ctx, table, cond)
	case "POST":
		data, err := jsonBody(req.Body)
		if err != nil {
			return nil, err
		}
		return api.Create(ctx, table, data)
	case "PUT", "PATCH":
		if id == "" {
			return nil, fmt.Errorf("%w: update without id", ErrUntranslatable)
		}
		data, err := jsonBody(req.Body)
		if err != nil {
			return nil, err
		}
		return api.Update(ctx, table, id, data)
	case "DELETE":
		if id == "" {
			return nil, fmt.Errorf("%w: delete without id", ErrUntranslatable)
		}
		return api.Delete(ctx, table, id)
	}
	return nil, fmt.Errorf("%w: method %s", ErrUntranslatable, method)
}

type authBody struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	NewPassword string `json:"newPassword"`
}

func callAuth(ctx context.Context, api API, method, endpoint, body string) (json.RawMessage, error) {
	switch {
	case method == "GET" && endpoint == "me":
		return api.Me(ctx)
	case method == "POST" && endpoint == "logout":
		return api.Logout(ctx)
	case method != "POST":
		return nil, fmt.Errorf("%w: %s /%s", ErrUntranslatable, method, endpoint)
	}

	var creds authBody
	if err := json.Unmarshal([]byte(body), &creds); err != nil {
		return nil, fmt.Errorf("%w: /%s body: %v", ErrUntranslatable, endpoint, err)
	}
	switch endpoint {
	case "login":
		return api.Login(ctx, creds.Username, creds.Password)
	case "register":
		return api.Register(ctx, creds.Username, creds.Password)
	case "password":
		return api.ChangePassword(ctx, creds.Username, creds.Password, creds.NewPassword)
	}
	return nil, fmt.Errorf("%w: POST /%s", ErrUntranslatable, endpoint)
}

// jsonBody returns the body as raw JSON so the abstraction sends it without
// re-encoding numbers or key order.
func jsonBody(body string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return nil, fmt.Errorf("%w: body is not JSON", ErrUntranslatable)
	}
	return json.RawMessage(trimmed), nil
}
