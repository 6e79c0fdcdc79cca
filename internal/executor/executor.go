// Package executor runs one recorded request either through the client
// abstraction or as a raw HTTP request, and returns a wire.Response either
// way so callers never need to know which path produced it.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/thipages/js-crud-api/internal/crudapi"
	"github.com/thipages/js-crud-api/internal/oracle"
	"github.com/thipages/js-crud-api/internal/session"
	"github.com/thipages/js-crud-api/internal/wire"
)

// Path names the execution path that produced a response.
type Path string

const (
	PathAdapter Path = "adapter"
	PathRaw     Path = "raw"
)

// Result is the outcome of Execute.
type Result struct {
	Response wire.Response
	Path     Path
	// Fallback is set when the adapter path failed unexpectedly and the raw
	// path answered instead.
	Fallback bool
	// AdapterErr is the failure that caused the fallback.
	AdapterErr error
}

// Executor performs requests against one service base URL. Not safe for
// concurrent use; files execute sequentially.
type Executor struct {
	baseURL         string
	transport       http.RoundTripper
	timeout         time.Duration
	cookieTransport bool
	apiJar          http.CookieJar
	newAPI          ClientFactory
	raw             *http.Client
	logger          *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithTransport sets the round tripper used by both paths.
func WithTransport(rt http.RoundTripper) Option {
	return func(e *Executor) { e.transport = rt }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithCookieTransport makes the abstraction keep session cookies between
// calls until ResetSession.
func WithCookieTransport(on bool) Option {
	return func(e *Executor) { e.cookieTransport = on }
}

// WithClientFactory replaces the abstraction constructor.
func WithClientFactory(f ClientFactory) Option {
	return func(e *Executor) { e.newAPI = f }
}

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor for baseURL.
func New(baseURL string, opts ...Option) *Executor {
	e := &Executor{
		baseURL: baseURL,
		timeout: crudapi.DefaultTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.transport == nil {
		e.transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	e.raw = &http.Client{
		Transport: e.transport,
		Timeout:   e.timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	if e.newAPI == nil {
		e.newAPI = e.defaultAPI
	}
	e.ResetSession()
	return e
}

// Env describes the abstraction's execution context for the oracle.
func (e *Executor) Env() oracle.Env {
	return oracle.Env{CookieTransport: e.cookieTransport}
}

// ResetSession drops the abstraction's session cookies. Call it at the start
// of every fixture file.
func (e *Executor) ResetSession() {
	e.apiJar = nil
	if e.cookieTransport {
		jar, _ := cookiejar.New(nil)
		e.apiJar = jar
	}
}

func (e *Executor) defaultAPI(headers map[string]string) API {
	hc := &http.Client{Transport: e.transport, Timeout: e.timeout, Jar: e.apiJar}
	return crudapi.New(e.baseURL, crudapi.WithHTTPClient(hc), crudapi.WithHeaders(headers))
}

// Execute runs req along the path chosen by d. An adaptable request whose
// abstraction call fails for any reason other than a service rejection is
// retried on the raw path. The jar is only touched by the raw path.
func (e *Executor) Execute(ctx context.Context, req wire.Request, jar *session.Jar, d oracle.Decision) (Result, error) {
	if d.Adaptable {
		resp, err := e.Adapt(ctx, req, d.ForwardedHeaders)
		if err == nil {
			return Result{Response: resp, Path: PathAdapter}, nil
		}
		e.logger.Warn("adapter failed, falling back to raw",
			"method", req.Method, "path", req.Path, "error", err)
		resp, rawErr := e.Raw(ctx, req, jar)
		return Result{Response: resp, Path: PathRaw, Fallback: true, AdapterErr: err}, rawErr
	}
	resp, err := e.Raw(ctx, req, jar)
	return Result{Response: resp, Path: PathRaw}, err
}

// Adapt performs req through the abstraction. A service rejection becomes a
// response whose status comes from the error-code table and whose body is
// the rejection payload. Any other failure is returned as an error.
func (e *Executor) Adapt(ctx context.Context, req wire.Request, headers map[string]string) (wire.Response, error) {
	data, err := call(ctx, e.newAPI(headers), req)
	if err != nil {
		var apiErr *crudapi.APIError
		if !errors.As(err, &apiErr) {
			return wire.Response{}, err
		}
		body, merr := apiErr.MarshalJSON()
		if merr != nil {
			return wire.Response{}, fmt.Errorf("executor: encode rejection: %w", merr)
		}
		status := crudapi.StatusForCode(apiErr.Code)
		return wire.Response{Status: status, StatusText: http.StatusText(status), Headers: adapterHeaders(), Body: string(body)}, nil
	}
	return wire.Response{Status: http.StatusOK, StatusText: http.StatusText(http.StatusOK), Headers: adapterHeaders(), Body: string(data)}, nil
}

// AdapterContentType is the content type reported for every abstraction
// response; the abstraction only ever yields decoded JSON.
const AdapterContentType = "application/json; charset=utf-8"

func adapterHeaders() wire.Headers {
	return wire.Headers{"content-type": {AdapterContentType}}
}

// Raw performs req as recorded: header casing restored, host and
// content-length dropped, the jar's cookies attached unless the request
// carries its own, and the body sent for write verbs. Redirects are not
// followed. Set-cookie headers of the response are absorbed into jar.
func (e *Executor) Raw(ctx context.Context, req wire.Request, jar *session.Jar) (wire.Response, error) {
	target, err := BuildURL(e.baseURL, req.Path)
	if err != nil {
		return wire.Response{}, err
	}

	var body io.Reader
	if req.Body != "" && isWrite(req.Method) {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return wire.Response{}, fmt.Errorf("executor: build request: %w", err)
	}
	for _, name := range req.Headers.Names() {
		if name == "host" || name == "content-length" {
			continue
		}
		httpReq.Header[headerKey(name)] = []string{strings.Join(req.Headers.Values(name), ", ")}
	}
	if jar != nil {
		if c := jar.CookieFor(req); c != "" {
			httpReq.Header["Cookie"] = []string{c}
		}
	}

	resp, err := e.raw.Do(httpReq)
	if err != nil {
		return wire.Response{}, fmt.Errorf("executor: %s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return wire.Response{}, fmt.Errorf("executor: read response: %w", err)
	}

	headers := wire.Headers{}
	for name, values := range resp.Header {
		for _, v := range values {
			headers.Add(name, v)
		}
	}
	if jar != nil {
		jar.Absorb(headers)
	}

	return wire.Response{
		Status:     resp.StatusCode,
		StatusText: strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "),
		Headers:    headers,
		Body:       string(raw),
	}, nil
}

// headerKey is the outgoing key for a recorded header: the service's spelling
// when it has one, the canonical MIME form otherwise so the transport's own
// defaults (User-Agent, Accept-Encoding) are replaced rather than doubled.
func headerKey(name string) string {
	if c := wire.CanonicalName(name); c != name {
		return c
	}
	return http.CanonicalHeaderKey(name)
}

func isWrite(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// BuildURL resolves a fixture path against the base URL. Absolute URLs pass
// through. Otherwise the path is appended under the base path and the query
// string is kept verbatim.
func BuildURL(baseURL, path string) (string, error) {
	lower := strings.ToLower(path)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return path, nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("executor: invalid base url %q: %w", baseURL, err)
	}
	basePath := base.EscapedPath()
	if !strings.HasSuffix(basePath, "/") {
		basePath += "/"
	}
	pathOnly, query, _ := strings.Cut(strings.TrimPrefix(path, "/"), "?")

	u := base.Scheme + "://" + base.Host + basePath + pathOnly
	if query != "" {
		u += "?" + query
	}
	return u, nil
}
