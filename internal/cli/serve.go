package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"feedpush/internal/config"
	"feedpush/internal/observability/otelx"
	"feedpush/internal/scheduler"
	"feedpush/internal/server"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	WriteTimeout time.Duration
}

func newServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the cycle trigger over HTTP",
		Long: `Serve POST /cron/notify for an external scheduler, plus /healthz and /metrics.

When SCHEDULE is set, cycles also run on that cron schedule inside the process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
	cmd.Flags().DurationVar(&opts.WriteTimeout, "write-timeout", 5*time.Minute, "upper bound for one triggered cycle")
	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	log := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := otelx.Init(ctx, log, cfg.OTel)
	if err != nil {
		return WrapExitError(ExitCommandError, "init tracing", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	a, err := newApp(cfg, log)
	if err != nil {
		return WrapExitError(ExitCommandError, "start", err)
	}
	defer a.Close()

	if cfg.CronSecret == "" {
		log.Warn("CRON_SECRET is not set; triggers will be rejected")
	}
	srv := server.New(a.runner, cfg.CronSecret, a.registry, log.With("component", "server"),
		server.WithCycleTimeout(server.CycleTimeout(opts.WriteTimeout)))

	if cfg.Schedule != "" {
		sched, err := scheduler.New(a.runner, cfg.Schedule, log.With("component", "scheduler"))
		if err != nil {
			return WrapExitError(ExitCommandError, "schedule", err)
		}
		// Stop the scheduler before the store closes.
		wait := goWithContext(ctx, sched.Run)
		defer func() {
			cancel()
			wait()
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.ListenAddr, opts.WriteTimeout) }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitCommandError, "http server", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Error("http shutdown", "error", err)
		}
	}
	log.Info("server stopped")
	return nil
}

// goWithContext runs fn in a goroutine and returns a function that blocks until fn returns.
func goWithContext(ctx context.Context, fn func(context.Context)) (wait func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	return func() { <-done }
}
