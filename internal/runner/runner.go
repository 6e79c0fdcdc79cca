// Package runner replays fixture files against the service, one file and one
// pair at a time, and aggregates the outcomes into a Report.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/thipages/js-crud-api/internal/executor"
	"github.com/thipages/js-crud-api/internal/fixture"
	"github.com/thipages/js-crud-api/internal/observability"
	"github.com/thipages/js-crud-api/internal/oracle"
	"github.com/thipages/js-crud-api/internal/ratelimit"
	"github.com/thipages/js-crud-api/internal/session"
	"github.com/thipages/js-crud-api/internal/shadow"
	"github.com/thipages/js-crud-api/internal/wire"
)

// ErrAlreadyStarted is returned by Run on a runner that left Idle.
var ErrAlreadyStarted = errors.New("runner: already started")

// State is the lifecycle of a run: Idle → Running → Stopped | Completed.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateCompleted:
		return "completed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// ReasonStopped marks files skipped because the run was stopped.
const ReasonStopped = "run stopped"

// ReasonUnifiedSession is the decision reason for pairs forced onto the raw
// path because their file carries session state.
const ReasonUnifiedSession = "file requires a unified session"

// Executor runs one request. *executor.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, req wire.Request, jar *session.Jar, d oracle.Decision) (executor.Result, error)
	ResetSession()
	Env() oracle.Env
}

// Runner replays fixture files. A Runner runs once.
type Runner struct {
	exec       Executor
	oracle     *oracle.Oracle
	comparator shadow.Comparator
	limiter    *ratelimit.PairLimiter
	exclusions fixture.Exclusions
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer

	state atomic.Int32
	stop  atomic.Bool

	mu        sync.Mutex
	observers []Observer
	runID     string
}

// Option configures a Runner.
type Option func(*Runner)

// WithComparator sets the comparator (strict header mode lives there).
func WithComparator(c shadow.Comparator) Option {
	return func(r *Runner) { r.comparator = c }
}

// WithOracle replaces the oracle built from the executor's environment.
func WithOracle(o *oracle.Oracle) Option {
	return func(r *Runner) { r.oracle = o }
}

// WithLimiter sets the inter-pair delay.
func WithLimiter(l *ratelimit.PairLimiter) Option {
	return func(r *Runner) { r.limiter = l }
}

// WithExclusions sets file patterns recorded as skipped without parsing.
func WithExclusions(ex fixture.Exclusions) Option {
	return func(r *Runner) { r.exclusions = ex }
}

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMetrics enables OTel metric recording.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// New creates a Runner around exec.
func New(exec Executor, opts ...Option) *Runner {
	r := &Runner{
		exec:       exec,
		exclusions: fixture.DefaultExclusions(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.oracle == nil {
		r.oracle = oracle.New(exec.Env())
	}
	if r.limiter == nil {
		r.limiter = ratelimit.NewPairLimiter(0)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.tracer = otel.Tracer("parity/runner")
	return r
}

// Observe registers o for run events. Observers are called synchronously
// from the run loop.
func (r *Runner) Observe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Runner) emit(e Event) {
	r.mu.Lock()
	obs := append([]Observer(nil), r.observers...)
	e.RunID = r.runID
	r.mu.Unlock()
	for _, o := range obs {
		o(e)
	}
}

// RunID returns the identifier of the run, or "" before Run is called.
func (r *Runner) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// State returns the current lifecycle state.
func (r *Runner) State() State { return State(r.state.Load()) }

// Stop asks the run to end. The in-flight pair completes; remaining pairs
// and files are recorded skipped. Safe to call from any goroutine.
func (r *Runner) Stop() { r.stop.Store(true) }

// Run replays files in the given order. Cancelling ctx behaves like Stop.
func (r *Runner) Run(ctx context.Context, files []fixture.File) (*Report, error) {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, ErrAlreadyStarted
	}

	rep := &Report{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	r.mu.Lock()
	r.runID = rep.RunID
	r.mu.Unlock()
	ctx, span := r.tracer.Start(ctx, "parity.run",
		trace.WithAttributes(attribute.String("run.id", rep.RunID), attribute.Int("files", len(files))))
	defer span.End()

	r.logger.Info("run started", "run_id", rep.RunID, "files", len(files))
	r.emit(Event{Kind: EventRunStarted, Total: len(files)})

	for _, f := range files {
		if ctx.Err() != nil {
			r.Stop()
		}
		var res FileResult
		if r.stop.Load() {
			res = FileResult{Path: f.Path, Status: StatusSkipped, Reason: ReasonStopped}
		} else {
			r.emit(Event{Kind: EventFileStarted, File: f.Path})
			res = r.runFile(ctx, f)
		}
		rep.add(res)
		if r.metrics != nil {
			r.metrics.RecordFile(ctx, string(res.Status))
		}
		r.logFile(res)
		r.emit(Event{Kind: EventFileFinished, File: f.Path, Result: &res, Stats: rep.Stats})
	}

	final := StateCompleted
	if r.stop.Load() {
		final = StateStopped
	}
	r.state.Store(int32(final))
	rep.State = final
	rep.FinishedAt = time.Now().UTC()

	span.SetAttributes(attribute.Int("failed", rep.Stats.Failed))
	if rep.Stats.Failed > 0 {
		span.SetStatus(codes.Error, "failures")
	}
	r.logger.Info("run finished", "run_id", rep.RunID, "state", final.String(),
		"total", rep.Stats.Total, "passed", rep.Stats.Passed,
		"failed", rep.Stats.Failed, "skipped", rep.Stats.Skipped,
		"adapter", rep.Stats.Adapter, "raw", rep.Stats.Raw, "fallback", rep.Stats.Fallback)
	r.emit(Event{Kind: EventRunFinished, Stats: rep.Stats})
	return rep, nil
}

func (r *Runner) logFile(res FileResult) {
	switch res.Status {
	case StatusFailed:
		r.logger.Info("file failed", "file", res.Path, "error", res.Error)
	case StatusSkipped:
		r.logger.Info("file skipped", "file", res.Path, "reason", res.Reason)
	default:
		r.logger.Info("file passed", "file", res.Path, "pairs", len(res.Pairs))
	}
}

func (r *Runner) runFile(ctx context.Context, f fixture.File) FileResult {
	res := FileResult{Path: f.Path}
	if reason, ok := r.exclusions.Match(f.Path); ok {
		res.Status, res.Reason = StatusSkipped, reason
		return res
	}
	if f.Skip {
		res.Status, res.Reason = StatusSkipped, f.Reason
		return res
	}

	ctx, span := r.tracer.Start(ctx, "parity.file", trace.WithAttributes(attribute.String("file", f.Path)))
	defer span.End()

	res.UnifiedSession = session.RequiresUnifiedSession(f.Requests())
	jar := session.NewJar()
	r.exec.ResetSession()

	for _, p := range f.Pairs {
		if ctx.Err() != nil {
			r.Stop()
		}
		if r.stop.Load() {
			res.Status, res.Reason = StatusSkipped, ReasonStopped
			return res
		}
		if err := r.limiter.Wait(ctx); err != nil {
			r.Stop()
			res.Status, res.Reason = StatusSkipped, ReasonStopped
			return res
		}

		pr := r.runPair(ctx, p, jar, res.UnifiedSession)
		res.Pairs = append(res.Pairs, pr)
		r.emit(Event{Kind: EventPairFinished, File: f.Path, Pair: &pr})

		if !pr.Pass {
			res.Status = StatusFailed
			res.Error = pr.Summary()
			span.SetStatus(codes.Error, res.Error)
			return res
		}
	}
	res.Status = StatusPassed
	return res
}

func (r *Runner) runPair(ctx context.Context, p fixture.Pair, jar *session.Jar, unified bool) PairResult {
	pr := PairResult{Index: p.Index, Request: p.Request, Expected: p.Response}
	if p.Err != nil {
		pr.Error = p.Err.Error()
		return pr
	}

	d := oracle.Decision{Reason: ReasonUnifiedSession, Rule: "session"}
	if !unified {
		d = r.oracle.CanAdaptRequest(p.Request)
	}
	pr.Decision = d

	ctx, span := r.tracer.Start(ctx, "parity.pair", trace.WithAttributes(
		attribute.String("http.method", p.Request.Method),
		attribute.String("fixture.path", p.Request.Path),
		attribute.Bool("adaptable", d.Adaptable),
	))
	defer span.End()

	start := time.Now()
	res, err := r.exec.Execute(ctx, p.Request, jar, d)
	pr.Duration = time.Since(start)
	pr.Via = res.Path
	pr.Fallback = res.Fallback

	r.logger.Debug("pair executed", "method", p.Request.Method, "path", p.Request.Path,
		"via", res.Path, "reason", d.Reason, "fallback", res.Fallback)

	if res.Fallback && r.metrics != nil {
		r.metrics.RecordFallback(ctx)
	}
	if err != nil {
		pr.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
	} else {
		pr.Actual = res.Response
		out := r.comparator.Compare(res.Response, p.Response)
		pr.Pass, pr.Diff = out.Pass, out.Diff
		if !out.Pass {
			span.SetStatus(codes.Error, out.Diff.String())
		}
	}
	if r.metrics != nil {
		r.metrics.RecordPair(ctx, string(pr.Via), pr.Pass, pr.Duration)
	}
	return pr
}
