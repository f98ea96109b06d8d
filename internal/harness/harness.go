package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/canvaslog/internal/canvas"
	"github.com/roach88/canvaslog/internal/coordinator"
	"github.com/roach88/canvaslog/internal/schema"
	"github.com/roach88/canvaslog/internal/store/memstore"
	"github.com/roach88/canvaslog/internal/testutil"
)

// Harness executes one scenario against its own store.
type Harness struct {
	store  *memstore.Store
	coord  *coordinator.Coordinator
	clock  *testutil.DeterministicClock
	ids    *testutil.SequentialIDGenerator
	logger *slog.Logger
}

// New builds a harness with a fresh memstore and deterministic helpers.
func New(snapshotInterval int64) (*Harness, error) {
	if snapshotInterval == 0 {
		snapshotInterval = canvas.DefaultSnapshotInterval
	}
	validator, err := schema.New()
	if err != nil {
		return nil, fmt.Errorf("failed to compile payload schema: %w", err)
	}

	h := &Harness{
		store:  memstore.New(),
		clock:  testutil.NewDeterministicClock(),
		ids:    testutil.NewSequentialIDGenerator("event"),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	h.coord = coordinator.New(h.store, h.store,
		coordinator.WithSnapshotInterval(snapshotInterval),
		coordinator.WithClock(h.clock.Now),
		coordinator.WithIDGenerator(h.ids),
		coordinator.WithLogger(h.logger),
		coordinator.WithValidator(validator),
	)
	return h, nil
}

// Run executes a scenario and returns the result.
//
// Step and assertion failures are reported in the Result; err is reserved
// for failures of the harness itself.
func Run(scenario *Scenario) (*Result, error) {
	h, err := New(scenario.SnapshotInterval)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	ctx := context.Background()
	result := NewResult()

	if err := h.executeSteps(ctx, scenario, result); err != nil {
		return nil, fmt.Errorf("failed to execute steps: %w", err)
	}

	result.State, err = h.coord.State(ctx, scenario.Aggregate)
	if err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	result.Snapshots, err = h.store.ListSnapshots(ctx, scenario.Aggregate)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	actx := &AssertionContext{
		Coordinator: h.coord,
		Aggregate:   scenario.Aggregate,
		Ctx:         ctx,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// executeSteps appends every step in order.
//
// The next version advances only on success, so a rejected step leaves the
// following defaulted step at the same version.
func (h *Harness) executeSteps(ctx context.Context, scenario *Scenario, result *Result) error {
	var head int64
	for i, step := range scenario.Steps {
		data, err := json.Marshal(step.Payload)
		if err != nil {
			return fmt.Errorf("step %d: failed to encode payload: %w", i, err)
		}

		version := head + 1
		if step.Version != nil {
			version = *step.Version
		}

		sr := StepResult{Index: i, Type: step.Type, Version: version}
		res, err := h.coord.AppendRaw(ctx, scenario.Aggregate, step.Type, data, version)
		switch {
		case err != nil && canvas.IsStorage(err):
			return fmt.Errorf("step %d: %w", i, err)
		case err != nil:
			sr.ErrorCode = string(canvas.CodeOf(err))
			if step.ExpectError == "" {
				result.AddError(fmt.Sprintf("step %d (%s): unexpected error: %v", i, step.Type, err))
			} else if want := expectErrorCodes[step.ExpectError]; canvas.CodeOf(err) != want {
				result.AddError(fmt.Sprintf("step %d (%s): expected %s error, got: %v", i, step.Type, want, err))
			}
		default:
			sr.EventID = res.EventID
			head = res.Version
			if step.ExpectError != "" {
				result.AddError(fmt.Sprintf("step %d (%s): expected %s error, append succeeded at version %d",
					i, step.Type, step.ExpectError, res.Version))
			}
		}
		h.logger.Debug("step executed", "index", i, "type", step.Type, "version", version, "error_code", sr.ErrorCode)
		result.Steps = append(result.Steps, sr)
	}
	return nil
}
