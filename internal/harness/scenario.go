package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/canvaslog/internal/canvas"
)

// Scenario is one canvas test: a sequence of appends to a single aggregate
// followed by assertions on the result.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Aggregate is the canvas id written to. Defaults to DefaultAggregate.
	Aggregate string `yaml:"aggregate,omitempty"`

	// SnapshotInterval overrides canvas.DefaultSnapshotInterval.
	SnapshotInterval int64 `yaml:"snapshot_interval,omitempty"`

	// Steps are appended in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final store contents.
	Assertions []Assertion `yaml:"assertions"`
}

// DefaultAggregate is used when a scenario names no aggregate.
const DefaultAggregate = "canvas-default"

// Step is one append.
type Step struct {
	// Type is the event type name, e.g. "SquareCreated".
	Type string `yaml:"type"`

	// Payload is the event payload, encoded to JSON and validated against
	// the payload schema.
	Payload map[string]any `yaml:"payload"`

	// Version is the requested version. Nil means the next version.
	Version *int64 `yaml:"version,omitempty"`

	// ExpectError is the expected failure: "conflict" or "validation".
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion validates the store after all steps ran.
type Assertion struct {
	// Type selects the check; see the Assert* constants.
	Type string `yaml:"type"`

	// Count is the expected square count (square_count, state_at).
	Count *int `yaml:"count,omitempty"`

	// ID is the square id (square).
	ID string `yaml:"id,omitempty"`

	// Expect holds expected square fields (square). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent asserts that no square with ID exists (square).
	Absent bool `yaml:"absent,omitempty"`

	// Version is the expected version (version, state_at).
	Version *int64 `yaml:"version,omitempty"`

	// EventID is the expected last event id (last_event_id).
	EventID string `yaml:"event_id,omitempty"`

	// At is the version examined (snapshot_at, state_at).
	At *int64 `yaml:"at,omitempty"`
}

// Assertion type constants.
const (
	AssertSquareCount = "square_count"
	AssertSquare      = "square"
	AssertVersion     = "version"
	AssertLastEventID = "last_event_id"
	AssertSnapshotAt  = "snapshot_at"
	AssertStateAt     = "state_at"
)

// Expected error names accepted by Step.ExpectError.
var expectErrorCodes = map[string]canvas.ErrorCode{
	"conflict":   canvas.ErrCodeConflict,
	"validation": canvas.ErrCodeValidation,
}

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

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.Aggregate == "" {
		scenario.Aggregate = DefaultAggregate
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.SnapshotInterval < 0 {
		return fmt.Errorf("snapshot_interval must be >= 1 when set, got %d", s.SnapshotInterval)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Type == "" {
			return fmt.Errorf("steps[%d]: type is required", i)
		}
		if step.Payload == nil {
			return fmt.Errorf("steps[%d]: payload is required", i)
		}
		if step.ExpectError != "" {
			if _, ok := expectErrorCodes[step.ExpectError]; !ok {
				return fmt.Errorf("steps[%d]: expect_error must be conflict or validation, got %q", i, step.ExpectError)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertSquareCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for square_count", index)
		}
	case AssertSquare:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for square", index)
		}
		if a.Absent && len(a.Expect) > 0 {
			return fmt.Errorf("assertions[%d]: absent and expect are mutually exclusive", index)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for square", index)
		}
	case AssertVersion:
		if a.Version == nil {
			return fmt.Errorf("assertions[%d]: version is required for version", index)
		}
	case AssertLastEventID:
		if a.EventID == "" {
			return fmt.Errorf("assertions[%d]: event_id is required for last_event_id", index)
		}
	case AssertSnapshotAt:
		if a.At == nil {
			return fmt.Errorf("assertions[%d]: at is required for snapshot_at", index)
		}
	case AssertStateAt:
		if a.At == nil {
			return fmt.Errorf("assertions[%d]: at is required for state_at", index)
		}
		if a.Count == nil && a.Version == nil {
			return fmt.Errorf("assertions[%d]: count or version is required for state_at", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
