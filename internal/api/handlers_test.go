package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thipages/js-crud-api/internal/agui"
	"github.com/thipages/js-crud-api/internal/api"
	"github.com/thipages/js-crud-api/internal/executor"
	"github.com/thipages/js-crud-api/internal/fixture"
	"github.com/thipages/js-crud-api/internal/oracle"
	"github.com/thipages/js-crud-api/internal/runner"
	"github.com/thipages/js-crud-api/internal/session"
	"github.com/thipages/js-crud-api/internal/testutil"
	"github.com/thipages/js-crud-api/internal/wire"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

const passing = `GET /records/posts/1
===
200 OK
Content-Type: application/json; charset=utf-8

{"id":1,"title":"hello"}
`

const failing = `GET /records/posts/1
===
200 OK
Content-Type: application/json; charset=utf-8

{"id":1,"title":"goodbye"}
`

func fixtureFile(path, content string) fixture.File {
	f := fixture.Parse(content, "")
	f.Path = path
	return f
}

func crudLauncher(srv *testutil.CRUDServer) api.Launcher {
	return func(context.Context) (*runner.Runner, []fixture.File, error) {
		exec := executor.New(srv.BaseURL(),
			executor.WithTransport(srv.Client().Transport),
			executor.WithLogger(discard))
		files := []fixture.File{
			fixtureFile("001_records/001_read.log", passing),
			fixtureFile("001_records/002_mismatch.log", failing),
		}
		return runner.New(exec, runner.WithLogger(discard)), files, nil
	}
}

func newTestServer(t *testing.T, launch api.Launcher) (*api.Server, *httptest.Server) {
	t.Helper()
	srv, err := api.New(t.Context(), launch, oracle.New(oracle.Env{}), api.Options{
		Logger: discard,
		Stream: agui.StreamConfig{Heartbeat: time.Second, MaxDuration: 5 * time.Second},
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.StopCurrent()
		_ = srv.Wait(context.Background())
		ts.Close()
	})
	return srv, ts
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestHealth(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])
}

func TestNoRun(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/runs/current"},
		{http.MethodPost, "/api/v1/runs/current/stop"},
		{http.MethodGet, "/api/v1/runs/current/report"},
		{http.MethodGet, "/api/v1/runs/current/stream"},
	} {
		req, err := http.NewRequest(tc.method, ts.URL+tc.path, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, tc.path)
	}
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()
	crud := testutil.NewCRUDServer(t, "posts")
	crud.Seed("posts", map[string]any{"title": "hello"})
	srv, ts := newTestServer(t, crudLauncher(crud))

	resp := post(t, ts.URL+"/api/v1/runs", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	started := decode[api.RunView](t, resp)
	assert.Equal(t, 2, started.Files)

	require.NoError(t, srv.Wait(t.Context()))

	resp, err := http.Get(ts.URL + "/api/v1/runs/current")
	require.NoError(t, err)
	view := decode[api.RunView](t, resp)
	assert.Equal(t, "completed", view.State)
	assert.NotEmpty(t, view.RunID)
	assert.Equal(t, runner.Stats{Total: 2, Passed: 1, Failed: 1, Adapter: 2}, view.Stats)

	resp, err = http.Get(ts.URL + "/api/v1/runs/current/report")
	require.NoError(t, err)
	rep := decode[runner.Report](t, resp)
	assert.Equal(t, view.RunID, rep.RunID)
	require.Len(t, rep.Files, 2)
	assert.Equal(t, runner.StatusFailed, rep.Files[1].Status)

	resp, err = http.Get(ts.URL + "/api/v1/runs/current/report?format=text")
	require.NoError(t, err)
	text, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(text), "Run: "+view.RunID)
	assert.Contains(t, string(text), "001_records/002_mismatch.log")

	resp, err = http.Get(ts.URL + "/api/v1/runs/current/stream")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(body), "event: RUN_STARTED"))
	assert.Equal(t, 2, strings.Count(string(body), "event: STEP_FINISHED"))
	assert.Equal(t, 1, strings.Count(string(body), "event: RUN_FINISHED"))

	// A finished run is replaced by the next one.
	resp = post(t, ts.URL+"/api/v1/runs", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

// gateExec blocks every request until release is closed.
type gateExec struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateExec) Execute(ctx context.Context, _ wire.Request, _ *session.Jar, _ oracle.Decision) (executor.Result, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return executor.Result{Path: executor.PathRaw, Response: wire.Response{Status: 200, StatusText: "OK"}}, nil
}

func (g *gateExec) ResetSession()   {}
func (g *gateExec) Env() oracle.Env { return oracle.Env{} }

func TestRunInProgress(t *testing.T) {
	t.Parallel()
	gate := &gateExec{entered: make(chan struct{}, 1), release: make(chan struct{})}
	launch := func(context.Context) (*runner.Runner, []fixture.File, error) {
		files := []fixture.File{
			fixtureFile("a.log", "GET /records/posts\n===\n200 OK\n"),
			fixtureFile("b.log", "GET /records/posts\n===\n200 OK\n"),
		}
		return runner.New(gate, runner.WithLogger(discard)), files, nil
	}
	srv, ts := newTestServer(t, launch)

	resp := post(t, ts.URL+"/api/v1/runs", "")
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case <-gate.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("run never reached the executor")
	}

	resp = post(t, ts.URL+"/api/v1/runs", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, decode[map[string]string](t, resp)["error"], "already in progress")

	resp, err := http.Get(ts.URL + "/api/v1/runs/current/report")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = post(t, ts.URL+"/api/v1/runs/current/stop", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	close(gate.release)

	require.NoError(t, srv.Wait(t.Context()))
	resp, err = http.Get(ts.URL + "/api/v1/runs/current")
	require.NoError(t, err)
	view := decode[api.RunView](t, resp)
	assert.Equal(t, "stopped", view.State)
	assert.Equal(t, 1, view.Stats.Skipped)
}

func TestStartRun_LaunchDoesNotBlockReads(t *testing.T) {
	t.Parallel()
	entered := make(chan struct{})
	release := make(chan struct{})
	_, ts := newTestServer(t, func(context.Context) (*runner.Runner, []fixture.File, error) {
		close(entered)
		<-release
		return runner.New(&gateExec{entered: make(chan struct{}, 1), release: release}, runner.WithLogger(discard)), nil, nil
	})

	started := make(chan int, 1)
	go func() {
		resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json", nil)
		if err != nil {
			started <- 0
			return
		}
		resp.Body.Close()
		started <- resp.StatusCode
	}()
	<-entered

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(ts.URL + "/api/v1/runs/current")
	require.NoError(t, err, "reads must not wait for the launch")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = client.Post(ts.URL+"/api/v1/runs", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "a second start during launch is rejected")

	close(release)
	assert.Equal(t, http.StatusAccepted, <-started)
}

func TestStartRun_LaunchError(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, func(context.Context) (*runner.Runner, []fixture.File, error) {
		return nil, nil, errors.New("corpus: no such directory")
	})

	resp := post(t, ts.URL+"/api/v1/runs", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, decode[map[string]string](t, resp)["error"], "no such directory")

	resp, err := http.Get(ts.URL + "/api/v1/runs/current")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheck(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		adaptable  bool
		rule       string
	}{
		{
			name:       "records read",
			body:       `{"method":"get","path":"/records/posts/1"}`,
			wantStatus: http.StatusOK,
			adaptable:  true,
			rule:       "records",
		},
		{
			name:       "form post",
			body:       `{"method":"POST","path":"/records/posts","headers":{"Content-Type":"application/x-www-form-urlencoded"},"body":"title=x"}`,
			wantStatus: http.StatusOK,
		},
		{name: "missing path", body: `{"method":"GET"}`, wantStatus: http.StatusBadRequest},
		{name: "not json", body: `nope`, wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+"/api/v1/check", tt.body)
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus != http.StatusOK {
				resp.Body.Close()
				return
			}
			d := decode[oracle.Decision](t, resp)
			assert.Equal(t, tt.adaptable, d.Adaptable)
			if tt.rule != "" {
				assert.Equal(t, tt.rule, d.Rule)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/runs", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
