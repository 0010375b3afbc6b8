package cli

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"feedpush/internal/config"
	"feedpush/internal/observability/otelx"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	Timeout time.Duration
}

func newRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one cycle and print its report",
		Long: `Run one detection and delivery cycle and print the JSON report to stdout.

The command exits with status 1 when the report is not ok.

Example:
  feedpush run --timeout 2m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, opts)
		},
	}
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "abort the cycle after this long (0 disables)")
	return cmd
}

func runOnce(cmd *cobra.Command, opts *RunOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	log := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if opts.Timeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, opts.Timeout)
		defer tcancel()
	}

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

	rep, runErr := a.runner.Run(ctx)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return WrapExitError(ExitCommandError, "write report", err)
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "cycle failed", runErr)
	}
	return nil
}
