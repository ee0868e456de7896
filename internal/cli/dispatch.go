package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/resultexport/internal/dispatch"
	"github.com/roach88/resultexport/internal/failure"
	"github.com/roach88/resultexport/internal/model"
)

// DispatchOptions holds flags for the dispatch command.
type DispatchOptions struct {
	*RootOptions
	All bool
	// ReconcileRetries is how many more times a failed status write-back
	// is attempted before the run is reported as failed.
	ReconcileRetries int
}

// RunOutput is the outcome of one stream in the dispatch command output.
type RunOutput struct {
	Report dispatch.Report `json:"report"`
	Error  string          `json:"error,omitempty"`
	Kind   string          `json:"kind,omitempty"`
}

// DispatchOutput is the payload of the dispatch command.
type DispatchOutput struct {
	Runs   []RunOutput `json:"runs"`
	Failed int         `json:"failed"`
}

// NewDispatchCommand creates the dispatch command.
func NewDispatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DispatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dispatch [stream...]",
		Short: "Export and deliver result files",
		Long: `Run one dispatch per named stream: fetch unprocessed results, validate
and encode them, deliver the file with checksum verification, then write
the export status back to the source.

Streams run concurrently; one failing stream does not stop the others.

Example:
  resultexport dispatch learner instructor
  resultexport dispatch --all --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "dispatch every configured stream")
	cmd.Flags().IntVar(&opts.ReconcileRetries, "reconcile-retries", 1, "extra attempts at a failed status write-back")

	return cmd
}

func runDispatch(opts *DispatchOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if opts.All == (len(args) > 0) {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "name one or more streams, or pass --all", nil)
	}
	if opts.ReconcileRetries < 0 {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "--reconcile-retries must not be negative", nil)
	}

	app, err := opts.app()
	if err != nil {
		return formatter.Fail(GetExitCode(err), ErrCodeConfig, "failed to start", err)
	}
	defer app.Close()

	keys := args
	if opts.All {
		keys = app.Orchestrator.Streams()
	}
	if unknown := unknownStreams(keys, app.Orchestrator.Streams()); len(unknown) > 0 {
		return formatter.Fail(ExitCommandError, ErrCodeUnknownStream,
			fmt.Sprintf("unknown stream(s): %s", strings.Join(unknown, ", ")), nil)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			formatter.VerboseLog("received shutdown signal, cancelling dispatches")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := app.Prepare(ctx); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeDispatchFailed, "transfer channel is not ready", err)
	}

	formatter.VerboseLog("dispatching %s", strings.Join(keys, ", "))
	out := DispatchOutput{}
	for _, res := range app.Orchestrator.RunAll(ctx, keys) {
		rep, runErr := res.Report, res.Err
		for i := 0; runErr != nil && rep.Stage == model.StageReconciling && i < opts.ReconcileRetries; i++ {
			formatter.VerboseLog("%s: retrying status write-back (%d/%d)", rep.Stream, i+1, opts.ReconcileRetries)
			if runErr = app.Orchestrator.RetryReconciliation(ctx, rep); runErr == nil {
				rep.Stage = model.StageDone
			}
		}
		out.Runs = append(out.Runs, runOutput(rep, runErr))
		if runErr != nil {
			out.Failed++
		}
	}

	if formatter.JSON() {
		if err := formatter.Success(out); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, r := range out.Runs {
			fmt.Fprintln(w, r.text())
		}
	}

	if out.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d dispatches failed", out.Failed, len(out.Runs)))
	}
	return nil
}

func runOutput(rep dispatch.Report, err error) RunOutput {
	out := RunOutput{Report: rep}
	if err == nil {
		return out
	}
	out.Error = err.Error()
	if k, ok := failure.KindOf(err); ok {
		out.Kind = string(k)
	} else if errors.Is(err, dispatch.ErrStreamBusy) {
		out.Kind = "BUSY"
	}
	return out
}

func (r RunOutput) text() string {
	rep := r.Report
	if r.Error != "" {
		return fmt.Sprintf("%s: %s: %s", rep.Stream, rep.Stage, r.Error)
	}
	return fmt.Sprintf("%s: %s %s seq=%d exported=%d quarantined=%d unresolved=%d",
		rep.Stream, rep.Stage, rep.FileName, rep.SequenceNumber,
		len(rep.Exported), len(rep.Quarantined), len(rep.Unresolved))
}

func unknownStreams(keys, known []string) []string {
	var unknown []string
	for _, k := range keys {
		if !slices.Contains(known, k) {
			unknown = append(unknown, k)
		}
	}
	return unknown
}
