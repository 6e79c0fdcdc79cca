// Package crudapi is a narrow client for a CRUD REST service exposing
// /records/{table} collections and session-based auth endpoints. Every call
// resolves to the decoded success payload or an *APIError carrying the
// service's error code.
package crudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultTimeout bounds a single call when no HTTP client is supplied.
const DefaultTimeout = 30 * time.Second

// Client issues calls against one service base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
	cookies    bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithHeaders sets headers sent on every call. Names are used as given so the
// service sees the expected spelling.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			c.headers[k] = v
		}
	}
}

// WithCookies makes the client keep session cookies between calls.
func WithCookies() Option {
	return func(c *Client) { c.cookies = true }
}

// New creates a client for baseURL, e.g. "http://localhost:8081/api.php".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: make(map[string]string),
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if c.cookies && c.httpClient.Jar == nil {
		jar, _ := cookiejar.New(nil)
		hc := *c.httpClient
		hc.Jar = jar
		c.httpClient = &hc
	}
	return c
}

// CarriesCookies reports whether session cookies survive between calls.
func (c *Client) CarriesCookies() bool { return c.httpClient.Jar != nil }

// List returns the records of table matching cond (may be nil).
func (c *Client) List(ctx context.Context, table string, cond *Conditions) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, []string{"records", table}, cond, nil)
}

// Read returns one record, or several when id is comma-joined.
func (c *Client) Read(ctx context.Context, table, id string, cond *Conditions) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, []string{"records", table, id}, cond, nil)
}

// Create inserts data and returns the new primary key.
func (c *Client) Create(ctx context.Context, table string, data any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, []string{"records", table}, nil, data)
}

// Update replaces the fields in data on the record(s) identified by id and
// returns the affected row count(s).
func (c *Client) Update(ctx context.Context, table, id string, data any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, []string{"records", table, id}, nil, data)
}

// Delete removes the record(s) identified by id.
func (c *Client) Delete(ctx context.Context, table, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodDelete, []string{"records", table, id}, nil, nil)
}

type credentials struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	NewPassword string `json:"newPassword,omitempty"`
}

// Register creates a user account.
func (c *Client) Register(ctx context.Context, username, password string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, []string{"register"}, nil, credentials{Username: username, Password: password})
}

// Login opens a session.
func (c *Client) Login(ctx context.Context, username, password string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, []string{"login"}, nil, credentials{Username: username, Password: password})
}

// Logout closes the session.
func (c *Client) Logout(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, []string{"logout"}, nil, struct{}{})
}

// ChangePassword sets a new password for username.
func (c *Client) ChangePassword(ctx context.Context, username, password, newPassword string) (json.RawMessage, error) {
	body := credentials{Username: username, Password: password, NewPassword: newPassword}
	return c.do(ctx, http.MethodPost, []string{"password"}, nil, body)
}

// Me returns the identity of the current session.
func (c *Client) Me(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, []string{"me"}, nil, nil)
}

// URL renders the address of a call: path segments under the base URL plus
// the encoded conditions.
func (c *Client) URL(parts []string, cond *Conditions) string {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, c.baseURL)
	for _, p := range parts {
		escaped = append(escaped, strings.ReplaceAll(url.PathEscape(p), "%2C", ","))
	}
	u := strings.Join(escaped, "/")
	if q := cond.Encode(); q != "" {
		u += "?" + q
	}
	return u
}

func (c *Client) do(ctx context.Context, method string, parts []string, cond *Conditions, data any) (json.RawMessage, error) {
	var body io.Reader
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("crudapi: encode body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(parts, cond), body)
	if err != nil {
		return nil, fmt.Errorf("crudapi: build request: %w", err)
	}
	for k, v := range c.headers {
		req.Header[k] = []string{v}
	}
	if data != nil {
		req.Header["Content-Type"] = []string{"application/json"}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crudapi: %s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("crudapi: read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("%w: status %d with non-JSON body", ErrUnexpectedResponse, resp.StatusCode)
		}
		return json.RawMessage(bytes.TrimSpace(raw)), nil
	}
	if apiErr, ok := decodeAPIError(resp.StatusCode, raw); ok {
		return nil, apiErr
	}
	return nil, fmt.Errorf("%w: status %d", ErrUnexpectedResponse, resp.StatusCode)
}
