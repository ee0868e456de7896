package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/resultexport/internal/codes"
	"github.com/roach88/resultexport/internal/config"
	"github.com/roach88/resultexport/internal/dispatch"
	"github.com/roach88/resultexport/internal/export"
	"github.com/roach88/resultexport/internal/normalize"
	"github.com/roach88/resultexport/internal/schema"
	"github.com/roach88/resultexport/internal/testutil"
)

var runDate = time.Date(2019, 5, 28, 9, 0, 0, 0, time.UTC)

type cliFixture struct {
	src    *testutil.FakeSource
	files  *testutil.MemoryTransfer
	meta   *testutil.MemoryMetadata
	opts   *RootOptions
	appErr error
}

func newCLIFixture(t *testing.T, results ...normalize.RawResult) *cliFixture {
	t.Helper()
	tables, err := codes.Default()
	require.NoError(t, err)
	validator, err := schema.New()
	require.NoError(t, err)
	cfg, err := config.Load("")
	require.NoError(t, err)

	f := &cliFixture{
		src:   testutil.NewFakeSource(results...),
		files: testutil.NewMemoryTransfer(),
		meta:  testutil.NewMemoryMetadata(),
	}
	f.opts = &RootOptions{
		NewApp: func(*RootOptions) (*App, error) {
			if f.appErr != nil {
				return nil, f.appErr
			}
			orch := dispatch.New(export.Default(), tables, validator, f.src, f.files, f.meta,
				dispatch.WithClock(testutil.NewFixedClock(runDate)),
			)
			return &App{Config: cfg, Orchestrator: orch, Metadata: f.meta}, nil
		},
	}
	return f
}

// execute runs the root command with args and returns what it wrote to
// stdout.
func (f *cliFixture) execute(args ...string) (string, error) {
	return f.executeContext(context.Background(), args...)
}

func (f *cliFixture) executeContext(ctx context.Context, args ...string) (string, error) {
	cmd := newRootCommand(f.opts)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// decodeData unmarshals the data of a JSON CLIResponse into v.
func decodeData(t *testing.T, out string, v any) CLIResponse {
	t.Helper()
	var resp struct {
		CLIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	if v != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, v))
	}
	return resp.CLIResponse
}

func learnerRaw(id string) normalize.RawResult {
	return normalize.RawResult{
		ID:                id,
		CandidateID:       "cand-" + id,
		Title:             "Mr",
		FirstName:         "Tom",
		LastName:          "Jones",
		BirthDate:         "1980-11-02",
		DriverNumber:      "JONES801102W97YT",
		BookingReference:  "B-" + id,
		ProductCode:       "CAR",
		Status:            "Pass",
		CertificateNumber: "123",
		StartTime:         "2019-05-27T10:00:00Z",
	}
}
