package coordinator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/canvaslog/internal/canvas"
)

// Append records payload as version requestedVersion of the aggregate.
//
// requestedVersion must be exactly the current version plus one; anything
// else is a conflict carrying the expected and current versions. On success
// the returned state is the aggregate's state at the new version.
//
// Errors:
//   - validation: empty aggregate id, missing or invalid payload (see
//     canvas.ValidatePayload), or a schema rejection
//   - conflict: stale requestedVersion, or another writer claimed the version
//   - storage: the event log failed (the event was not recorded)
//
// A failed snapshot save is not an error; see SnapshotFailures.
func (c *Coordinator) Append(ctx context.Context, aggregateID string, payload canvas.Payload, requestedVersion int64) (res AppendResult, err error) {
	ctx, span := c.startSpan(ctx, "coordinator.Append", aggregateID,
		attribute.Int64("canvas.requested_version", requestedVersion),
	)
	defer func() { endSpan(span, err) }()

	if err := c.checkPayload(aggregateID, payload); err != nil {
		return AppendResult{}, err
	}

	res, err = c.appendInLane(ctx, aggregateID, payload, requestedVersion)
	if err != nil {
		return AppendResult{}, err
	}
	span.SetAttributes(attribute.String("canvas.event_type", string(payload.EventType())))

	// The lane is released; a slow notifier cannot hold up the next writer.
	if c.notifier != nil {
		c.notifier.Notify(ctx, aggregateID, res.State.Clone())
	}
	return res, nil
}

// AppendRaw decodes a JSON payload of the named event type and appends it.
// With a Validator configured the JSON is checked against its schema first.
func (c *Coordinator) AppendRaw(ctx context.Context, aggregateID, eventType string, data []byte, requestedVersion int64) (AppendResult, error) {
	payload, err := c.decodePayload(eventType, data)
	if err != nil {
		return AppendResult{}, err
	}
	return c.Append(ctx, aggregateID, payload, requestedVersion)
}

func (c *Coordinator) decodePayload(eventType string, data []byte) (canvas.Payload, error) {
	if c.validator != nil {
		return c.validator.Decode(eventType, data)
	}
	t, err := canvas.ParseEventType(eventType)
	if err != nil {
		return nil, err
	}
	return canvas.UnmarshalPayload(t, data)
}

func (c *Coordinator) checkPayload(aggregateID string, payload canvas.Payload) error {
	if aggregateID == "" {
		return canvas.NewValidationError("aggregate id is required")
	}
	if err := canvas.ValidatePayload(payload); err != nil {
		return err
	}
	if c.validator != nil {
		return c.validator.Check(payload)
	}
	return nil
}

// appendInLane runs the version check, append and snapshot policy while
// holding the aggregate's lane.
func (c *Coordinator) appendInLane(ctx context.Context, aggregateID string, payload canvas.Payload, requestedVersion int64) (AppendResult, error) {
	release, err := c.lanes.acquire(ctx, aggregateID)
	if err != nil {
		return AppendResult{}, fmt.Errorf("wait for write lane of %s: %w", aggregateID, err)
	}
	defer release()

	current, err := c.events.LatestVersion(ctx, aggregateID)
	if err != nil {
		return AppendResult{}, canvas.WrapStorageError("read current version", err)
	}
	if requestedVersion != current+1 {
		c.logger.Debug("append rejected: stale version",
			"aggregate_id", aggregateID,
			"requested", requestedVersion,
			"current", current,
		)
		return AppendResult{}, canvas.NewVersionConflict(aggregateID, requestedVersion, current)
	}

	ev := canvas.Event{
		ID:          c.ids.Generate(),
		AggregateID: aggregateID,
		Version:     requestedVersion,
		Payload:     payload,
		Timestamp:   c.now(),
	}
	if err := c.events.Append(ctx, ev); err != nil {
		if canvas.IsConflict(err) {
			c.logger.Info("append lost race to another writer",
				"aggregate_id", aggregateID,
				"version", ev.Version,
			)
		}
		return AppendResult{}, canvas.WrapStorageError("append event", err)
	}

	state, err := c.stateAt(ctx, aggregateID, ev.Version)
	if err != nil {
		return AppendResult{}, fmt.Errorf("event %s recorded at version %d, state unavailable: %w", ev.ID, ev.Version, err)
	}

	if ev.Version%c.interval == 0 {
		c.saveSnapshot(ctx, ev, state)
	}

	c.logger.Debug("event appended",
		"aggregate_id", aggregateID,
		"version", ev.Version,
		"event_id", ev.ID,
		"type", string(ev.Type()),
	)
	return AppendResult{EventID: ev.ID, Version: ev.Version, State: state}, nil
}

// saveSnapshot stores state as the snapshot at ev.Version. Failures are
// logged and counted only.
func (c *Coordinator) saveSnapshot(ctx context.Context, ev canvas.Event, state canvas.CanvasState) {
	snap := canvas.Snapshot{
		AggregateID: ev.AggregateID,
		Version:     ev.Version,
		State:       state.Clone(),
		Timestamp:   ev.Timestamp,
	}
	if err := c.snapshots.Save(ctx, snap); err != nil {
		c.snapshotFailures.Add(1)
		c.logger.Warn("snapshot save failed",
			"aggregate_id", ev.AggregateID,
			"version", ev.Version,
			"error", err,
		)
		return
	}
	c.logger.Debug("snapshot saved", "aggregate_id", ev.AggregateID, "version", ev.Version)
}
