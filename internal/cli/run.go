package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/thipages/js-crud-api/internal/config"
	"github.com/thipages/js-crud-api/internal/dbreset"
	"github.com/thipages/js-crud-api/internal/executor"
	"github.com/thipages/js-crud-api/internal/fixture"
	"github.com/thipages/js-crud-api/internal/observability"
	"github.com/thipages/js-crud-api/internal/ratelimit"
	"github.com/thipages/js-crud-api/internal/runner"
	"github.com/thipages/js-crud-api/internal/shadow"
)

// RunOptions holds flags for the run command. Flags left unset fall back to
// the loaded configuration.
type RunOptions struct {
	*RootOptions
	BaseURL string
	Corpus  string
	Only    string
	Strict  bool
	NoReset bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay the fixture corpus and report divergences",
		Long: `Reset the database, load every fixture file under the corpus root and replay
each file in lexical order. A file stops at its first failing pair.

Exit codes:
  0 - No file failed
  1 - At least one file failed
  2 - Configuration or runtime error

Examples:
  parity run
  parity run --base-url http://localhost:8081/api.php --no-reset
  parity run --only '001_records/**' --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "service base URL (overrides TEST_BASE_URL)")
	cmd.Flags().StringVar(&opts.Corpus, "corpus", "", "fixture corpus root (overrides PARITY_CORPUS_DIR)")
	cmd.Flags().StringVar(&opts.Only, "only", "", "replay only files matching this glob")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "compare headers too (overrides JCA_TEST_STRICT)")
	cmd.Flags().BoolVar(&opts.NoReset, "no-reset", false, "skip the database reset (overrides RESET_DB)")

	return cmd
}

func (o *RunOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
	}
	if o.Corpus != "" {
		cfg.CorpusDir = o.Corpus
	}
	if cmd.Flags().Changed("strict") {
		cfg.Strict = o.Strict
	}
	if o.NoReset {
		cfg.ResetDB = false
	}
}

func runRun(cmd *cobra.Command, opts *RunOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	opts.apply(cmd, &cfg)

	logger := observability.InitLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel)

	stopTracing, err := initTracing(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stopTracing()

	if cfg.ResetDB {
		if err := resetDatabase(ctx, cfg, logger); err != nil {
			return err
		}
	}

	files, exclusions, err := loadCorpus(ctx, cfg, opts.Only)
	if err != nil {
		return err
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create metrics", err)
	}

	r := newRunner(cfg, exclusions, logger, metrics)

	defer stopOnInterrupt(r, logger)()

	rep, err := r.Run(ctx, files)
	if err != nil {
		return WrapExitError(ExitCommandError, "run failed", err)
	}

	if err := writeReport(cmd, opts.Format, rep); err != nil {
		return WrapExitError(ExitCommandError, "failed to write report", err)
	}
	if rep.Stats.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d files failed", rep.Stats.Failed, rep.Stats.Total))
	}
	return nil
}

// initTracing starts the OTLP exporter when enabled. The returned function
// flushes it.
func initTracing(ctx context.Context, cfg config.Config, logger *slog.Logger) (func(), error) {
	if !cfg.OTelEnabled {
		return func() {}, nil
	}
	shutdown, err := observability.InitTracer(ctx, "parity", cfg.BaseURL)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to initialize tracing", err)
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("tracer shutdown", "error", err)
		}
	}, nil
}

func newRunner(cfg config.Config, exclusions fixture.Exclusions, logger *slog.Logger, metrics *observability.Metrics) *runner.Runner {
	exec := executor.New(cfg.BaseURL,
		executor.WithTimeout(cfg.RequestTimeout),
		executor.WithCookieTransport(cfg.CookieTransport),
		executor.WithLogger(logger),
	)
	return runner.New(exec,
		runner.WithComparator(shadow.Comparator{Strict: cfg.Strict}),
		runner.WithLimiter(ratelimit.NewPairLimiter(cfg.PairDelay)),
		runner.WithExclusions(exclusions),
		runner.WithLogger(logger),
		runner.WithMetrics(metrics),
	)
}

// stopOnInterrupt asks r to stop on SIGINT; the in-flight pair completes.
// The returned function releases the signal handler.
func stopOnInterrupt(r *runner.Runner, logger *slog.Logger) func() {
	sig := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sig, os.Interrupt)
	go func() {
		select {
		case <-sig:
			logger.Warn("interrupt received, stopping after the current pair")
			r.Stop()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sig)
		close(done)
	}
}

func resetDatabase(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	target := dbreset.Target{DBPath: cfg.SQLiteDB, FixturePath: cfg.SQLFixture}

	var resetter dbreset.Resetter
	switch cfg.ResetMode {
	case config.ResetEmbedded:
		resetter = dbreset.NewEmbeddedResetter(target)
	default:
		br, err := dbreset.NewBinaryResetter(cfg.SQLiteBinary, target)
		if err != nil {
			if errors.Is(err, dbreset.ErrMissingExecutable) {
				return WrapExitError(ExitCommandError, "database reset requires the sqlite3 executable (set SQLITE3_BINARY or RESET_DB=0)", err)
			}
			return WrapExitError(ExitCommandError, "database reset", err)
		}
		resetter = br
	}

	logger.Info("resetting database", "mode", cfg.ResetMode, "db", cfg.SQLiteDB, "fixture", cfg.SQLFixture)
	if err := resetter.Reset(ctx); err != nil {
		return WrapExitError(ExitCommandError, "database reset failed", err)
	}
	return nil
}

func loadCorpus(ctx context.Context, cfg config.Config, only string) ([]fixture.File, fixture.Exclusions, error) {
	exclusions, err := fixture.LoadExclusions(cfg.ExclusionsFile)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "invalid exclusions", err)
	}
	corpus, err := fixture.NewCorpus(cfg.CorpusDir, cfg.Backend)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "cannot open corpus", err)
	}
	files, err := corpus.LoadAll(ctx)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "cannot load corpus", err)
	}
	if only == "" {
		return files, exclusions, nil
	}

	filter := fixture.Exclusions{{Pattern: only}}
	var kept []fixture.File
	for _, f := range files {
		if _, ok := filter.Match(f.Path); ok {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return nil, nil, NewExitError(ExitCommandError, fmt.Sprintf("no fixture file matches %q", only))
	}
	return kept, exclusions, nil
}

func writeReport(cmd *cobra.Command, format string, rep *runner.Report) error {
	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	return rep.WriteText(cmd.OutOrStdout())
}
