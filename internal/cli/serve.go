package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/thipages/js-crud-api/internal/api"
	"github.com/thipages/js-crud-api/internal/fixture"
	"github.com/thipages/js-crud-api/internal/observability"
	"github.com/thipages/js-crud-api/internal/oracle"
	"github.com/thipages/js-crud-api/internal/runner"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr    string
	BaseURL string
	Corpus  string
	NoReset bool

	// ready receives the bound address once the listener is open.
	ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run control API",
		Long: `Start an HTTP server that launches replays on request, streams their progress
as server-sent events and serves the final report.

Each POST /api/v1/runs resets the database (unless disabled) and reloads the
corpus, so fixture edits are picked up without a restart.

Examples:
  parity serve
  parity serve --addr 127.0.0.1:8090 --no-reset`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides PARITY_LISTEN_ADDR)")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "service base URL (overrides TEST_BASE_URL)")
	cmd.Flags().StringVar(&opts.Corpus, "corpus", "", "fixture corpus root (overrides PARITY_CORPUS_DIR)")
	cmd.Flags().BoolVar(&opts.NoReset, "no-reset", false, "skip the database reset (overrides RESET_DB)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.ListenAddr = opts.Addr
	}
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Corpus != "" {
		cfg.CorpusDir = opts.Corpus
	}
	if opts.NoReset {
		cfg.ResetDB = false
	}

	logger := observability.InitLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel)

	stopTracing, err := initTracing(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stopTracing()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create metrics", err)
	}

	launch := func(ctx context.Context) (*runner.Runner, []fixture.File, error) {
		if cfg.ResetDB {
			if err := resetDatabase(ctx, cfg, logger); err != nil {
				return nil, nil, err
			}
		}
		files, exclusions, err := loadCorpus(ctx, cfg, "")
		if err != nil {
			return nil, nil, err
		}
		return newRunner(cfg, exclusions, logger, metrics), files, nil
	}

	oidcCfg := api.OIDCConfig{
		IssuerURL: cfg.OIDCIssuer,
		Audience:  cfg.OIDCAudience,
		Enabled:   cfg.OIDCEnabled(),
	}
	srv, err := api.New(ctx, launch, oracle.New(oracle.Env{CookieTransport: cfg.CookieTransport}), api.Options{
		CORSOrigins: cfg.CORSOrigins,
		OIDC:        oidcCfg,
		Logger:      logger,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create API server", err)
	}

	var handler http.Handler = srv
	if cfg.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "parity-api")
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen on "+cfg.ListenAddr, err)
	}
	httpSrv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	logger.Info("starting API server", "addr", ln.Addr().String(), "oidc_enabled", oidcCfg.Enabled)
	if opts.ready != nil {
		opts.ready <- ln.Addr().String()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitCommandError, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	srv.StopCurrent()
	if err := srv.Wait(shutdownCtx); err != nil {
		logger.Warn("run did not stop in time", "error", err)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitCommandError, "server shutdown", err)
	}
	return nil
}
