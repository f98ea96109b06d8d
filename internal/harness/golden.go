package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/canvaslog/internal/canvas"
)

// GoldenDir holds golden files, relative to the test's package directory.
const GoldenDir = "testdata/golden"

// RunWithGolden executes a scenario and compares the head state's
// canonical JSON against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check Pass; goldie fails t on a
// mismatch.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares result's head state against the golden file named
// name without re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := GoldenBytes(result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}

// GoldenBytes returns the bytes stored in a golden file for result.
func GoldenBytes(result *Result) ([]byte, error) {
	return canvas.MarshalCanonicalState(result.State)
}
