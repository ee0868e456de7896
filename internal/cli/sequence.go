package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// SequenceOptions holds flags for the sequence command.
type SequenceOptions struct {
	*RootOptions
	History int
}

// SequenceEntry is one persisted dispatch.
type SequenceEntry struct {
	SequenceNumber int64     `json:"sequenceNumber"`
	FileName       string    `json:"fileName"`
	CreatedAt      time.Time `json:"createdAt"`
	RowCount       int       `json:"rowCount"`
	Checksum       string    `json:"checksum,omitempty"`
}

// SequenceOutput is the payload of the sequence command.
type SequenceOutput struct {
	Stream  string          `json:"stream"`
	Current *SequenceEntry  `json:"current,omitempty"`
	History []SequenceEntry `json:"history,omitempty"`
}

// NewSequenceCommand creates the sequence command.
func NewSequenceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SequenceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sequence <stream>",
		Short: "Show the last delivered sequence number of a stream",
		Long: `Show the sequence number and file of the last verified delivery for a
stream, read from the metadata store. With --history, also list earlier
deliveries, newest first.`,
		Args:          exitArgs(cobra.ExactArgs(1)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSequence(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.History, "history", 0, "number of earlier deliveries to list")

	return cmd
}

func runSequence(opts *SequenceOptions, stream string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if opts.History < 0 {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "--history must not be negative", nil)
	}

	app, err := opts.app()
	if err != nil {
		return formatter.Fail(GetExitCode(err), ErrCodeConfig, "failed to start", err)
	}
	defer app.Close()

	if app.Orchestrator != nil {
		if unknown := unknownStreams([]string{stream}, app.Orchestrator.Streams()); len(unknown) > 0 {
			return formatter.Fail(ExitCommandError, ErrCodeUnknownStream, fmt.Sprintf("unknown stream: %s", stream), nil)
		}
	}

	ctx := cmd.Context()
	out := SequenceOutput{Stream: stream}

	meta, ok, err := app.Metadata.Read(ctx, stream)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read dispatch metadata", err)
	}
	if ok {
		out.Current = &SequenceEntry{
			SequenceNumber: meta.SequenceNumber,
			FileName:       meta.FileName,
			CreatedAt:      meta.CreatedAt,
			RowCount:       meta.RowCount,
			Checksum:       meta.Checksum,
		}
	}

	if opts.History > 0 {
		history, err := app.Metadata.History(ctx, stream, opts.History)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read dispatch history", err)
		}
		for _, h := range history {
			out.History = append(out.History, SequenceEntry{
				SequenceNumber: h.SequenceNumber,
				FileName:       h.FileName,
				CreatedAt:      h.CreatedAt,
				RowCount:       h.RowCount,
				Checksum:       h.Checksum,
			})
		}
	}

	if formatter.JSON() {
		return formatter.Success(out)
	}

	w := cmd.OutOrStdout()
	if out.Current == nil {
		fmt.Fprintf(w, "%s: no verified delivery yet\n", stream)
	} else {
		fmt.Fprintf(w, "%s: %s\n", stream, out.Current.text())
	}
	for _, h := range out.History {
		fmt.Fprintf(w, "  %s\n", h.text())
	}
	return nil
}

func (e SequenceEntry) text() string {
	return fmt.Sprintf("seq=%d %s rows=%d at %s", e.SequenceNumber, e.FileName, e.RowCount, e.CreatedAt.Format(time.RFC3339))
}
