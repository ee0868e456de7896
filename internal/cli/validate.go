package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/resultexport/internal/codes"
	"github.com/roach88/resultexport/internal/export"
	"github.com/roach88/resultexport/internal/model"
	"github.com/roach88/resultexport/internal/normalize"
	"github.com/roach88/resultexport/internal/schema"
)

// RecordViolations lists the schema violations of one record.
type RecordViolations struct {
	ID         string            `json:"id"`
	Violations []model.Violation `json:"violations"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Stream  string             `json:"stream"`
	Checked int                `json:"checked"`
	Valid   int                `json:"valid"`
	Invalid []RecordViolations `json:"invalid,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <stream> <records.json>",
		Short: "Check result records against a stream's schema",
		Long: `Normalize a JSON array of source result records and check each one
against the schema of the given stream, without contacting the source or
delivering anything. Records that fail would be quarantined by a dispatch.`,
		Args:          exitArgs(cobra.ExactArgs(2)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, streamKey, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	stream, ok := export.Default().Lookup(streamKey)
	if !ok {
		return formatter.Fail(ExitCommandError, ErrCodeUnknownStream, fmt.Sprintf("unknown stream: %s", streamKey), nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to read records", err)
	}
	var raws []normalize.RawResult
	if err := json.Unmarshal(data, &raws); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "records must be a JSON array of results", err)
	}
	formatter.VerboseLog("read %d record(s) from %s", len(raws), path)

	tables, err := codes.Default()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to load code tables", err)
	}
	validator, err := schema.New()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to load record schemas", err)
	}

	result := ValidationResult{Stream: stream.Key, Checked: len(raws)}
	for _, raw := range raws {
		rec := normalize.Result(raw, tables)
		violations, err := validator.Validate(stream.Schema, rec)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, "validation could not run", err)
		}
		if len(violations) == 0 {
			result.Valid++
			continue
		}
		result.Invalid = append(result.Invalid, RecordViolations{ID: rec.ID, Violations: violations})
	}

	if len(result.Invalid) > 0 {
		if formatter.JSON() {
			_ = formatter.Error(ErrCodeInvalidRecords, "records failed validation", result)
		} else {
			w := cmd.OutOrStdout()
			for _, inv := range result.Invalid {
				for _, v := range inv.Violations {
					fmt.Fprintf(w, "%s: %s: %s\n", inv.ID, v.Field, v.Message)
				}
			}
			fmt.Fprintf(w, "%d of %d record(s) invalid for %s\n", len(result.Invalid), result.Checked, stream.Key)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d record(s) failed validation", len(result.Invalid)))
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	return formatter.Success(fmt.Sprintf("%d record(s) valid for %s", result.Checked, stream.Key))
}
