package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/resultexport/internal/codes"
	"github.com/roach88/resultexport/internal/dispatch"
	"github.com/roach88/resultexport/internal/export"
	"github.com/roach88/resultexport/internal/failure"
	"github.com/roach88/resultexport/internal/model"
	"github.com/roach88/resultexport/internal/normalize"
	"github.com/roach88/resultexport/internal/schema"
	"github.com/roach88/resultexport/internal/source"
	"github.com/roach88/resultexport/internal/testutil"
)

// Harness executes scenarios. The code tables and schemas are loaded once
// and shared by every run.
type Harness struct {
	tables    *codes.Tables
	validator *schema.Validator
}

// New loads the production code tables and record schemas.
func New() (*Harness, error) {
	tables, err := codes.Default()
	if err != nil {
		return nil, fmt.Errorf("load code tables: %w", err)
	}
	validator, err := schema.New()
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	return &Harness{tables: tables, validator: validator}, nil
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against fresh in-memory collaborators. An error is
// returned only when the scenario cannot be set up; failed expectations
// and assertions are reported in Result.Errors.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	w, err := buildWorld(scenario.Setup)
	if err != nil {
		return nil, err
	}
	if err := seedSequences(ctx, w, scenario.Setup.Sequences); err != nil {
		return nil, err
	}
	applyFaults(w, scenario.Setup.Faults)

	opts := []dispatch.Option{
		dispatch.WithSink(w.sink),
		dispatch.WithClock(testutil.NewFixedClock(scenario.Date.UTC())),
		dispatch.WithRunIDs(testutil.NewFixedRunIDs()),
	}
	if scenario.ChunkSize > 0 {
		opts = append(opts, dispatch.WithChunkSize(scenario.ChunkSize))
	}
	orch := dispatch.New(export.Default(), h.tables, h.validator, w.src, w.files, w.meta, opts...)

	result := NewResult()
	result.world = w
	last := map[string]dispatch.Report{}

	for i, step := range scenario.Flow {
		if step.ClearFaults {
			applyFaults(w, Faults{})
		}

		var ev TraceEvent
		if step.Dispatch != "" {
			rep, err := orch.Run(ctx, step.Dispatch)
			last[step.Dispatch] = rep
			ev = traceReport(i, "dispatch", rep, err)
		} else {
			rep, ok := last[step.Retry]
			if !ok {
				result.AddError(fmt.Sprintf("flow[%d]: no earlier dispatch of %s to retry", i, step.Retry))
				continue
			}
			err := orch.RetryReconciliation(ctx, rep)
			if err == nil {
				rep.Stage = model.StageDone
				last[step.Retry] = rep
			}
			ev = traceReport(i, "retry", rep, err)
		}
		result.Trace = append(result.Trace, ev)

		if step.Expect != nil {
			for _, msg := range checkExpect(*step.Expect, ev) {
				result.AddError(fmt.Sprintf("flow[%d] %s %s: %s", i, ev.Action, ev.Stream, msg))
			}
		}
	}

	for _, msg := range EvaluateAssertions(ctx, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func buildWorld(setup Setup) (*world, error) {
	raws := make([]normalize.RawResult, 0, len(setup.Records))
	for i, rec := range setup.Records {
		var raw normalize.RawResult
		if err := convert(rec, &raw); err != nil {
			return nil, fmt.Errorf("setup.records[%d]: %w", i, err)
		}
		raws = append(raws, raw)
	}

	w := &world{
		src:   testutil.NewFakeSource(raws...),
		files: testutil.NewMemoryTransfer(),
		meta:  testutil.NewMemoryMetadata(),
		sink:  testutil.NewRecordingSink(),
	}

	for i, c := range setup.Corresponding {
		matches := make([]normalize.RawCorresponding, 0, len(c.Matches))
		for j, m := range c.Matches {
			var rc normalize.RawCorresponding
			if err := convert(m, &rc); err != nil {
				return nil, fmt.Errorf("setup.corresponding[%d].matches[%d]: %w", i, j, err)
			}
			matches = append(matches, rc)
		}
		w.src.AddCorresponding(c.CandidateID, c.ProductCode, matches...)
	}

	for _, p := range setup.Files {
		w.files.Seed(p, []byte("existing"))
	}
	return w, nil
}

// convert maps a YAML mapping onto a struct through its JSON field names.
func convert(in map[string]any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func seedSequences(ctx context.Context, w *world, seqs []SeedSequence) error {
	for _, s := range seqs {
		err := w.meta.Write(ctx, model.DispatchMetadata{
			StreamKey:      s.Stream,
			SequenceNumber: s.SequenceNumber,
			FileName:       s.File,
		})
		if err != nil {
			return fmt.Errorf("seed sequence %s: %w", s.Stream, err)
		}
	}
	return nil
}

func applyFaults(w *world, f Faults) {
	w.src.FetchErr = nil
	if f.Fetch != "" {
		w.src.FetchErr = &source.Error{Op: "fetch unprocessed", StatusCode: 503, Err: errors.New(f.Fetch)}
	}
	w.src.CorrespondingErr = nil
	if f.Lookup != "" {
		w.src.CorrespondingErr = &source.Error{Op: "fetch corresponding", StatusCode: 503, Err: errors.New(f.Lookup)}
	}
	w.src.UpdateErr = nil
	if len(f.StatusCalls) > 0 {
		calls := slices.Clone(f.StatusCalls)
		w.src.UpdateErr = func(call int, _ source.StatusUpdate) error {
			if slices.Contains(calls, call) {
				return &source.Error{Op: "update status", StatusCode: 503, Err: errors.New("status update rejected")}
			}
			return nil
		}
	}
	w.files.PutErr = nil
	if f.Upload != "" {
		w.files.PutErr = errors.New(f.Upload)
	}
	w.files.Corrupt = nil
	if f.Corrupt {
		w.files.Corrupt = func(_ string, c []byte) []byte { return append(slices.Clone(c), '!') }
	}
}

func traceReport(step int, action string, rep dispatch.Report, err error) TraceEvent {
	ev := TraceEvent{
		Step:        step,
		Action:      action,
		Stream:      rep.Stream,
		Stage:       string(rep.Stage),
		File:        rep.FileName,
		Sequence:    rep.SequenceNumber,
		Exported:    rep.Exported,
		Quarantined: rep.Quarantined,
		Unresolved:  rep.Unresolved,
	}
	if err != nil {
		ev.Error = err.Error()
		if k, ok := failure.KindOf(err); ok {
			ev.Kind = string(k)
		}
	}
	return ev
}

func checkExpect(want ExpectClause, got TraceEvent) []string {
	var msgs []string
	mismatch := func(field string, want, got any) {
		msgs = append(msgs, fmt.Sprintf("%s: expected %v, got %v", field, want, got))
	}

	if want.Stage != "" && want.Stage != got.Stage {
		mismatch("stage", want.Stage, got.Stage)
	}
	switch {
	case want.Kind == KindNone && got.Error != "":
		mismatch("kind", "success", fmt.Sprintf("%s (%s)", got.Kind, got.Error))
	case want.Kind != "" && want.Kind != KindNone && want.Kind != got.Kind:
		mismatch("kind", want.Kind, got.Kind)
	}
	if want.File != "" && want.File != got.File {
		mismatch("file", want.File, got.File)
	}
	if want.Sequence != 0 && want.Sequence != got.Sequence {
		mismatch("sequence", want.Sequence, got.Sequence)
	}
	if want.Exported != nil && !slices.Equal(want.Exported, got.Exported) {
		mismatch("exported", want.Exported, got.Exported)
	}
	if want.Quarantined != nil && !slices.Equal(want.Quarantined, got.Quarantined) {
		mismatch("quarantined", want.Quarantined, got.Quarantined)
	}
	if want.Unresolved != nil && !slices.Equal(want.Unresolved, got.Unresolved) {
		mismatch("unresolved", want.Unresolved, got.Unresolved)
	}
	return msgs
}
