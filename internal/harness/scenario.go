package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a dispatch scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names its golden files.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Date is the clock reading for every run.
	Date time.Time `yaml:"date"`

	// ChunkSize overrides the status write-back chunk size when set.
	ChunkSize int `yaml:"chunk_size,omitempty"`

	Setup Setup `yaml:"setup,omitempty"`

	// Flow runs in order. Steps after a failed step still run.
	Flow []FlowStep `yaml:"flow"`

	Assertions []Assertion `yaml:"assertions,omitempty"`

	// Golden lists transfer-channel paths whose final content is compared
	// against testdata/golden.
	Golden []string `yaml:"golden,omitempty"`
}

// Setup is the state before the first step.
type Setup struct {
	Sequences []SeedSequence `yaml:"sequences,omitempty"`

	// Files already on the transfer channel. Their content is irrelevant.
	Files []string `yaml:"files,omitempty"`

	// Records are source results in the source's JSON field names.
	Records []map[string]any `yaml:"records,omitempty"`

	Corresponding []SeedCorresponding `yaml:"corresponding,omitempty"`

	Faults Faults `yaml:"faults,omitempty"`
}

// SeedSequence is an earlier verified delivery.
type SeedSequence struct {
	Stream         string `yaml:"stream"`
	SequenceNumber int64  `yaml:"sequence_number"`
	File           string `yaml:"file,omitempty"`
}

// SeedCorresponding answers a corresponding-test lookup.
type SeedCorresponding struct {
	CandidateID string           `yaml:"candidate_id"`
	ProductCode string           `yaml:"product_code"`
	Matches     []map[string]any `yaml:"matches"`
}

// Faults injects failures into the in-memory collaborators.
type Faults struct {
	// Fetch fails every unprocessed-results fetch with this message.
	Fetch string `yaml:"fetch,omitempty"`
	// Lookup fails every corresponding lookup with this message.
	Lookup string `yaml:"lookup,omitempty"`
	// Upload fails every upload with this message.
	Upload string `yaml:"upload,omitempty"`
	// Corrupt makes downloads differ from what was uploaded.
	Corrupt bool `yaml:"corrupt,omitempty"`
	// StatusCalls lists the 1-based status update calls that fail.
	StatusCalls []int `yaml:"status_calls,omitempty"`
}

// FlowStep runs one dispatch or retries the write-back of the last
// dispatch of a stream. Exactly one of Dispatch and Retry is set.
type FlowStep struct {
	Dispatch string `yaml:"dispatch,omitempty"`
	Retry    string `yaml:"retry,omitempty"`

	// ClearFaults removes every injected fault before the step runs.
	ClearFaults bool `yaml:"clear_faults,omitempty"`

	// Expect is checked against the step outcome. Nil expects nothing.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause states the outcome of a step. Empty fields are not checked.
type ExpectClause struct {
	Stage string `yaml:"stage,omitempty"`
	// Kind is the failure kind, or "none" for a step that must succeed.
	Kind        string   `yaml:"kind,omitempty"`
	File        string   `yaml:"file,omitempty"`
	Sequence    int64    `yaml:"sequence,omitempty"`
	Exported    []string `yaml:"exported,omitempty"`
	Quarantined []string `yaml:"quarantined,omitempty"`
	Unresolved  []string `yaml:"unresolved,omitempty"`
}

// KindNone expects a step to succeed.
const KindNone = "none"

// Assertion validates final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Path  string `yaml:"path,omitempty"`
	Line  int    `yaml:"line,omitempty"`
	Start int    `yaml:"start,omitempty"`
	End   int    `yaml:"end,omitempty"`
	Value string `yaml:"value,omitempty"`

	Count int `yaml:"count,omitempty"`

	ID     string `yaml:"id,omitempty"`
	Status string `yaml:"status,omitempty"`

	Event string `yaml:"event,omitempty"`

	Stream         string `yaml:"stream,omitempty"`
	SequenceNumber int64  `yaml:"sequence_number,omitempty"`

	Paths []string `yaml:"paths,omitempty"`
}

// Assertion type constants.
const (
	AssertFileLines    = "file_lines"
	AssertLineField    = "line_field"
	AssertFileContains = "file_contains"
	AssertExportStatus = "export_status"
	AssertEventCount   = "event_count"
	AssertSequence     = "sequence"
	AssertFiles        = "files"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if (step.Dispatch == "") == (step.Retry == "") {
			return fmt.Errorf("flow[%d]: exactly one of dispatch and retry is required", i)
		}
	}
	for i, seq := range s.Setup.Sequences {
		if seq.Stream == "" {
			return fmt.Errorf("setup.sequences[%d]: stream is required", i)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	require := func(ok bool, field string) error {
		if !ok {
			return fmt.Errorf("assertion[%d]: %s requires %s", index, a.Type, field)
		}
		return nil
	}

	switch a.Type {
	case AssertFileLines:
		return require(a.Path != "", "path")
	case AssertLineField:
		if err := require(a.Path != "", "path"); err != nil {
			return err
		}
		return require(a.End > a.Start, "end > start")
	case AssertFileContains:
		if err := require(a.Path != "", "path"); err != nil {
			return err
		}
		return require(a.Value != "", "value")
	case AssertExportStatus:
		if err := require(a.ID != "", "id"); err != nil {
			return err
		}
		return require(a.Stream != "", "stream")
	case AssertEventCount:
		return require(a.Event != "", "event")
	case AssertSequence:
		return require(a.Stream != "", "stream")
	case AssertFiles:
		return nil
	case "":
		return fmt.Errorf("assertion[%d]: type is required", index)
	default:
		return fmt.Errorf("assertion[%d]: unknown assertion type %q", index, a.Type)
	}
}
