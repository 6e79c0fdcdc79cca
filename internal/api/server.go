// Package api is the HTTP control surface of the parity harness: start and
// stop a replay, follow its progress as an event stream, fetch the report and
// query the adaptability rules.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/thipages/js-crud-api/internal/agui"
	"github.com/thipages/js-crud-api/internal/fixture"
	"github.com/thipages/js-crud-api/internal/oracle"
	"github.com/thipages/js-crud-api/internal/runner"
)

// Launcher prepares a run: it may reset the database and load the corpus.
// It is called once per start request.
type Launcher func(ctx context.Context) (*runner.Runner, []fixture.File, error)

// Options configures the server.
type Options struct {
	CORSOrigins []string
	OIDC        OIDCConfig
	Stream      agui.StreamConfig
	Logger      *slog.Logger
}

// Server is the HTTP control API. It holds at most one run; starting a new
// run replaces a finished one.
type Server struct {
	launch  Launcher
	oracle  *oracle.Oracle
	stream  agui.StreamConfig
	logger  *slog.Logger
	mux     *http.ServeMux
	handler http.Handler

	mu        sync.Mutex
	current   *run
	launching bool
}

// New creates a Server. When OIDC is enabled the issuer is discovered up
// front and every route except health requires a valid bearer token.
func New(ctx context.Context, launch Launcher, o *oracle.Oracle, opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Stream == (agui.StreamConfig{}) {
		opts.Stream = agui.DefaultConfig()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	s := &Server{
		launch: launch,
		oracle: o,
		stream: opts.Stream,
		logger: opts.Logger,
		mux:    http.NewServeMux(),
	}
	s.routes()

	var inner http.Handler = s.mux
	if opts.OIDC.Enabled {
		provider, err := oidc.NewProvider(ctx, opts.OIDC.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("api: oidc discovery %s: %w", opts.OIDC.IssuerURL, err)
		}
		inner = oidcAuth(provider, opts.OIDC.Audience)(inner)
	}
	s.handler = requestID(logging(s.logger, cors(opts.CORSOrigins, inner)))
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("POST /api/v1/runs", s.handleStartRun)
	s.mux.HandleFunc("GET /api/v1/runs/current", s.handleGetRun)
	s.mux.HandleFunc("POST /api/v1/runs/current/stop", s.handleStopRun)
	s.mux.HandleFunc("GET /api/v1/runs/current/report", s.handleReport)
	s.mux.HandleFunc("GET /api/v1/runs/current/stream", agui.StreamHandler(s.currentBroker, s.stream))
	s.mux.HandleFunc("POST /api/v1/check", s.handleCheck)
}

// Wait blocks until the current run, if any, has finished or ctx ends.
func (s *Server) Wait(ctx context.Context) error {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		return nil
	}
	select {
	case <-cur.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopCurrent asks the current run to stop.
func (s *Server) StopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.runner.Stop()
	}
}

func (s *Server) currentBroker() *agui.Broker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.broker
}

// run is one replay owned by the server.
type run struct {
	runner    *runner.Runner
	broker    *agui.Broker
	files     int
	startedBy string
	done      chan struct{}

	mu     sync.Mutex
	stats  runner.Stats
	report *runner.Report
	err    error
}

func newRun(r *runner.Runner, files int, startedBy string) *run {
	cur := &run{
		runner:    r,
		broker:    agui.NewBroker(agui.WithStartedBy(startedBy)),
		files:     files,
		startedBy: startedBy,
		done:      make(chan struct{}),
	}
	r.Observe(cur.broker.Observe)
	r.Observe(func(e runner.Event) {
		if e.Kind == runner.EventFileFinished || e.Kind == runner.EventRunFinished {
			cur.mu.Lock()
			cur.stats = e.Stats
			cur.mu.Unlock()
		}
	})
	return cur
}

func (cur *run) finished() bool {
	select {
	case <-cur.done:
		return true
	default:
		return false
	}
}

func (cur *run) execute(ctx context.Context, files []fixture.File, logger *slog.Logger) {
	defer close(cur.done)
	rep, err := cur.runner.Run(ctx, files)

	cur.mu.Lock()
	cur.report, cur.err = rep, err
	if rep != nil {
		cur.stats = rep.Stats
	}
	cur.mu.Unlock()

	if err != nil {
		logger.Error("run failed", "error", err)
		cur.broker.Publish(agui.Event{Type: agui.EventRunError, Data: agui.ErrorData{Message: err.Error()}})
	}
}

// RunView is the JSON shape of the current run.
type RunView struct {
	RunID     string       `json:"run_id,omitempty"`
	State     string       `json:"state"`
	Files     int          `json:"files"`
	StartedBy string       `json:"started_by,omitempty"`
	Stats     runner.Stats `json:"stats"`
	Error     string       `json:"error,omitempty"`
}

func (cur *run) view() RunView {
	cur.mu.Lock()
	defer cur.mu.Unlock()
	v := RunView{
		RunID:     cur.runner.RunID(),
		State:     cur.runner.State().String(),
		Files:     cur.files,
		StartedBy: cur.startedBy,
		Stats:     cur.stats,
	}
	if cur.err != nil {
		v.Error = cur.err.Error()
	}
	return v
}
