package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/resultexport/internal/telemetry"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Index    int
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion[%d] %s failed: expected %s, got %s", e.Index, e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions evaluates all assertions against the final state of
// result. Returns a slice of error messages for failed assertions.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(ctx, result.world, i, a); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(ctx context.Context, w *world, i int, a Assertion) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Index: i, Type: a.Type, Expected: expected, Actual: actual}
	}
	if w == nil {
		return fail("a scenario run", "no state")
	}

	switch a.Type {
	case AssertFileLines, AssertLineField, AssertFileContains:
		content, ok := w.files.File(a.Path)
		if !ok {
			return fail("file "+a.Path, fmt.Sprintf("no such file; have %v", w.files.Paths()))
		}
		lines := strings.Split(string(content), "\r\n")
		switch a.Type {
		case AssertFileLines:
			if len(lines) != a.Count {
				return fail(fmt.Sprintf("%d lines", a.Count), fmt.Sprintf("%d lines", len(lines)))
			}
		case AssertLineField:
			if a.Line < 0 || a.Line >= len(lines) {
				return fail(fmt.Sprintf("line %d", a.Line), fmt.Sprintf("%d lines", len(lines)))
			}
			line := lines[a.Line]
			if a.End > len(line) {
				return fail(fmt.Sprintf("line %d at least %d long", a.Line, a.End), fmt.Sprintf("%d characters", len(line)))
			}
			if got := line[a.Start:a.End]; got != a.Value {
				return fail(fmt.Sprintf("%q at [%d:%d]", a.Value, a.Start, a.End), fmt.Sprintf("%q", got))
			}
		case AssertFileContains:
			if !strings.Contains(string(content), a.Value) {
				return fail(fmt.Sprintf("content containing %q", a.Value), "no match")
			}
		}

	case AssertExportStatus:
		if got := w.src.ExportStatus(a.Stream, a.ID); got != a.Status {
			return fail(fmt.Sprintf("%s status %q for %s", a.Stream, a.Status, a.ID), fmt.Sprintf("%q", got))
		}

	case AssertEventCount:
		if got := len(w.sink.Events(telemetry.BusinessEvent(a.Event))); got != a.Count {
			return fail(fmt.Sprintf("%d %s events", a.Count, a.Event), fmt.Sprintf("%d", got))
		}

	case AssertSequence:
		meta, ok, err := w.meta.Read(ctx, a.Stream)
		if err != nil {
			return fail("readable metadata", err.Error())
		}
		var got int64
		if ok {
			got = meta.SequenceNumber
		}
		if got != a.SequenceNumber {
			return fail(fmt.Sprintf("sequence %d for %s", a.SequenceNumber, a.Stream), fmt.Sprintf("%d", got))
		}

	case AssertFiles:
		got := w.files.Paths()
		want := slices.Clone(a.Paths)
		slices.Sort(want)
		if !slices.Equal(got, want) {
			return fail(fmt.Sprintf("files %v", want), fmt.Sprintf("%v", got))
		}

	default:
		return fail("a known assertion type", a.Type)
	}
	return nil
}
