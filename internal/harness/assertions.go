package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/canvaslog/internal/canvas"
	"github.com/roach88/canvaslog/internal/coordinator"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string             // Assertion type for categorization
	Expected string             // Human-readable expected outcome
	Actual   string             // Human-readable actual outcome
	State    canvas.CanvasState // Head state for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nHead state (version %d):\n", e.State.Version)
	for _, sq := range e.State.Squares {
		fmt.Fprintf(&buf, "  %s at (%g, %g) size %g %s\n", sq.ID, sq.X, sq.Y, sq.Size, sq.Color)
	}
	return buf.String()
}

// AssertionContext gives assertions read access to the scenario's store.
type AssertionContext struct {
	Coordinator *coordinator.Coordinator
	Aggregate   string
	Ctx         context.Context
}

// EvaluateAssertions runs every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertSquareCount:
		return assertSquareCount(a.Type, result.State, *a.Count)
	case AssertSquare:
		return assertSquare(result.State, a)
	case AssertVersion:
		if result.State.Version != *a.Version {
			return fail(a.Type, result.State, fmt.Sprintf("version %d", *a.Version), fmt.Sprintf("version %d", result.State.Version))
		}
		return nil
	case AssertLastEventID:
		if result.State.LastEventID != a.EventID {
			return fail(a.Type, result.State, fmt.Sprintf("last event %q", a.EventID), fmt.Sprintf("last event %q", result.State.LastEventID))
		}
		return nil
	case AssertSnapshotAt:
		if !slices.Contains(result.Snapshots, *a.At) {
			return fail(a.Type, result.State, fmt.Sprintf("snapshot at version %d", *a.At), fmt.Sprintf("snapshots at %v", result.Snapshots))
		}
		return nil
	case AssertStateAt:
		return assertStateAt(result.State, a, actx)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func assertSquareCount(typ string, s canvas.CanvasState, want int) error {
	if len(s.Squares) != want {
		return fail(typ, s, fmt.Sprintf("%d squares", want), fmt.Sprintf("%d squares", len(s.Squares)))
	}
	return nil
}

func assertSquare(s canvas.CanvasState, a Assertion) error {
	idx := slices.IndexFunc(s.Squares, func(sq canvas.Square) bool { return sq.ID == a.ID })
	if a.Absent {
		if idx >= 0 {
			return fail(a.Type, s, fmt.Sprintf("no square %q", a.ID), "square present")
		}
		return nil
	}
	if idx < 0 {
		return fail(a.Type, s, fmt.Sprintf("square %q", a.ID), "not found")
	}

	sq := s.Squares[idx]
	actual := map[string]any{
		"x":     sq.X,
		"y":     sq.Y,
		"size":  sq.Size,
		"color": sq.Color,
	}
	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		got, ok := actual[k]
		if !ok {
			return fmt.Errorf("square %q: unknown field %q", a.ID, k)
		}
		if !valuesEqual(a.Expect[k], got) {
			return fail(a.Type, s, fmt.Sprintf("square %q %s = %v", a.ID, k, a.Expect[k]), fmt.Sprintf("%s = %v", k, got))
		}
	}
	return nil
}

func assertStateAt(head canvas.CanvasState, a Assertion, actx *AssertionContext) error {
	s, err := actx.Coordinator.StateAt(actx.Ctx, actx.Aggregate, *a.At)
	if err != nil {
		return fmt.Errorf("state at %d: %w", *a.At, err)
	}
	if a.Count != nil && len(s.Squares) != *a.Count {
		return fail(a.Type, head, fmt.Sprintf("%d squares at version %d", *a.Count, *a.At), fmt.Sprintf("%d squares", len(s.Squares)))
	}
	if a.Version != nil && s.Version != *a.Version {
		return fail(a.Type, head, fmt.Sprintf("state at %d has version %d", *a.At, *a.Version), fmt.Sprintf("version %d", s.Version))
	}
	return nil
}

// valuesEqual compares a YAML-decoded expectation with a square field.
// YAML integers decode as int, so numbers are compared as float64.
func valuesEqual(want, got any) bool {
	if g, ok := got.(float64); ok {
		switch w := want.(type) {
		case int:
			return float64(w) == g
		case int64:
			return float64(w) == g
		case float64:
			return w == g
		}
		return false
	}
	return want == got
}

func fail(typ string, s canvas.CanvasState, expected, actual string) error {
	return &AssertionError{Type: typ, Expected: expected, Actual: actual, State: s}
}
