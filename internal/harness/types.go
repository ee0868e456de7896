package harness

import (
	"github.com/roach88/resultexport/internal/testutil"
)

// TraceEvent records the outcome of one flow step.
type TraceEvent struct {
	Step        int      `json:"step"`
	Action      string   `json:"action"` // "dispatch" or "retry"
	Stream      string   `json:"stream"`
	Stage       string   `json:"stage"`
	File        string   `json:"file,omitempty"`
	Sequence    int64    `json:"sequence,omitempty"`
	Exported    []string `json:"exported,omitempty"`
	Quarantined []string `json:"quarantined,omitempty"`
	Unresolved  []string `json:"unresolved,omitempty"`
	Kind        string   `json:"kind,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors lists every failed expectation and assertion.
	Errors []string `json:"errors,omitempty"`

	world *world
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// File returns the final content of a transfer-channel path.
func (r *Result) File(path string) ([]byte, bool) {
	if r.world == nil {
		return nil, false
	}
	return r.world.files.File(path)
}

// world is the in-memory state a scenario runs against.
type world struct {
	src   *testutil.FakeSource
	files *testutil.MemoryTransfer
	meta  *testutil.MemoryMetadata
	sink  *testutil.RecordingSink
}
