package coordinator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/canvaslog/internal/canvas"
	"github.com/roach88/canvaslog/internal/reducer"
)

// State returns the aggregate's latest state.
// An aggregate with no events reads as canvas.EmptyState().
func (c *Coordinator) State(ctx context.Context, aggregateID string) (state canvas.CanvasState, err error) {
	ctx, span := c.startSpan(ctx, "coordinator.State", aggregateID)
	defer func() { endSpan(span, err) }()

	return c.stateAt(ctx, aggregateID, canvas.MaxVersion)
}

// StateAt returns the aggregate's state as of version.
//
// Version 0 is the empty state. A version past the head returns the head
// state. A negative version is a validation error.
func (c *Coordinator) StateAt(ctx context.Context, aggregateID string, version int64) (state canvas.CanvasState, err error) {
	ctx, span := c.startSpan(ctx, "coordinator.StateAt", aggregateID,
		attribute.Int64("canvas.version", version),
	)
	defer func() { endSpan(span, err) }()

	if version < 0 {
		return canvas.CanvasState{}, canvas.NewValidationError(fmt.Sprintf("version must be >= 0, got %d", version))
	}
	if version == 0 {
		return canvas.EmptyState(), nil
	}
	return c.stateAt(ctx, aggregateID, version)
}

// stateAt loads the nearest snapshot at or below bound, then reduces the
// events after it up to bound. It takes no lane.
func (c *Coordinator) stateAt(ctx context.Context, aggregateID string, bound int64) (canvas.CanvasState, error) {
	base := canvas.EmptyState()
	var after int64

	snap, ok, err := c.snapshots.LatestAtOrBefore(ctx, aggregateID, bound)
	if err != nil {
		return canvas.CanvasState{}, canvas.WrapStorageError("load snapshot", err)
	}
	if ok {
		base = snap.State
		after = snap.Version
	}

	tail, err := c.events.List(ctx, aggregateID, after, bound)
	if err != nil {
		return canvas.CanvasState{}, canvas.WrapStorageError("list events", err)
	}
	return reducer.ReduceSequence(base, tail), nil
}

// VersionHistory returns the id, version and timestamp of every event of
// the aggregate, ascending by version.
func (c *Coordinator) VersionHistory(ctx context.Context, aggregateID string) (history []canvas.VersionInfo, err error) {
	ctx, span := c.startSpan(ctx, "coordinator.VersionHistory", aggregateID)
	defer func() { endSpan(span, err) }()

	history, err = c.events.ListVersions(ctx, aggregateID)
	if err != nil {
		return nil, canvas.WrapStorageError("list versions", err)
	}
	return history, nil
}

// Replay rebuilds the state at version from the event log alone, ignoring
// snapshots. Pass canvas.MaxVersion for the head.
func (c *Coordinator) Replay(ctx context.Context, aggregateID string, version int64) (state canvas.CanvasState, err error) {
	ctx, span := c.startSpan(ctx, "coordinator.Replay", aggregateID,
		attribute.Int64("canvas.version", version),
	)
	defer func() { endSpan(span, err) }()

	if version < 0 {
		return canvas.CanvasState{}, canvas.NewValidationError(fmt.Sprintf("version must be >= 0, got %d", version))
	}
	events, err := c.events.List(ctx, aggregateID, 0, version)
	if err != nil {
		return canvas.CanvasState{}, canvas.WrapStorageError("list events", err)
	}
	return reducer.ReduceSequence(canvas.EmptyState(), events), nil
}
