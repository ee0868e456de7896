package harness

import (
	"context"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// GoldenName is the golden file name, without extension, for a delivered
// path of a scenario.
func GoldenName(scenario, path string) string {
	return scenario + "__" + strings.ReplaceAll(path, "/", "_")
}

// RunWithGolden executes a scenario, reports every failed expectation and
// assertion on t, and compares each path listed in scenario.Golden against
// testdata/golden/{GoldenName}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, h *Harness, scenario *Scenario) *Result {
	t.Helper()

	result, err := h.Run(context.Background(), scenario)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	for _, msg := range result.Errors {
		t.Errorf("scenario %s: %s", scenario.Name, msg)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, p := range scenario.Golden {
		content, ok := result.File(p)
		if !ok {
			t.Errorf("scenario %s: golden path %s was not delivered", scenario.Name, p)
			continue
		}
		g.Assert(t, GoldenName(scenario.Name, p), content)
	}
	return result
}
