package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/resultexport/internal/trigger"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr  string
	Grace time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP dispatch trigger",
		Long: `Serve the HTTP trigger that schedulers call to start dispatches.

  GET  /info                  streams and runs in progress
  POST /v1/dispatch/:stream   run one dispatch and return its report

Runs until interrupted, then waits up to --grace for in-flight runs.`,
		Args:          exitArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default: server.addr from config)")
	cmd.Flags().DurationVar(&opts.Grace, "grace", 30*time.Second, "shutdown grace period")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	app, err := opts.app()
	if err != nil {
		return formatter.Fail(GetExitCode(err), ErrCodeConfig, "failed to start", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Prepare(ctx); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeServe, "transfer channel is not ready", err)
	}

	addr := opts.Addr
	if addr == "" {
		addr = app.Config.Server.Addr
	}
	formatter.VerboseLog("listening on %s", addr)

	srv := trigger.New(app.Orchestrator, "resultexport", Version, app.Sink)
	if err := srv.ListenAndServe(ctx, addr, opts.Grace); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeServe, "trigger server stopped", err)
	}
	return nil
}
