package store

import (
	"context"

	"github.com/roach88/canvaslog/internal/canvas"
)

// EventLog is the append-only event storage of every aggregate.
//
// Implementations are the single source of truth for whether an
// (aggregateID, version) key exists. They do not enforce contiguity; the
// coordinator does.
type EventLog interface {
	// Append persists ev keyed by (ev.AggregateID, ev.Version).
	// Returns a canvas conflict error if the key or ev.ID already exists.
	Append(ctx context.Context, ev canvas.Event) error

	// List returns the aggregate's events with
	// afterVersion < version <= untilVersion, ascending by version.
	// Pass canvas.MaxVersion for no upper bound. An unknown aggregate
	// yields an empty, non-nil slice.
	List(ctx context.Context, aggregateID string, afterVersion, untilVersion int64) ([]canvas.Event, error)

	// ListVersions returns the history projection of every event of the
	// aggregate, ascending by version.
	ListVersions(ctx context.Context, aggregateID string) ([]canvas.VersionInfo, error)

	// LatestVersion returns the greatest appended version, or 0.
	LatestVersion(ctx context.Context, aggregateID string) (int64, error)

	// ListAggregates returns every aggregate id with at least one event,
	// sorted ascending.
	ListAggregates(ctx context.Context) ([]string, error)
}

// SnapshotStore keeps materialized states per (aggregate, version).
type SnapshotStore interface {
	// Save upserts the snapshot at (snap.AggregateID, snap.Version).
	Save(ctx context.Context, snap canvas.Snapshot) error

	// LatestAtOrBefore returns the snapshot with the greatest version
	// <= maxVersion. Pass canvas.MaxVersion for the latest overall.
	// ok is false when no such snapshot exists.
	LatestAtOrBefore(ctx context.Context, aggregateID string, maxVersion int64) (snap canvas.Snapshot, ok bool, err error)

	// ListSnapshots returns the versions of every stored snapshot of the
	// aggregate, ascending.
	ListSnapshots(ctx context.Context, aggregateID string) ([]int64, error)
}

// Store bundles both contracts, as every engine in this module provides.
type Store interface {
	EventLog
	SnapshotStore
	Close() error
}
