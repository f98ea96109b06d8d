package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/roach88/canvaslog/internal/canvas"
	"github.com/roach88/canvaslog/internal/store"
)

// Save upserts the snapshot at (aggregate_id, version).
func (s *Store) Save(ctx context.Context, snap canvas.Snapshot) error {
	state, digest, err := store.EncodeState(snap.State)
	if err != nil {
		return canvas.WrapStorageError("save snapshot", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (aggregate_id, version, state, state_hash, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(aggregate_id, version) DO UPDATE SET
			state = excluded.state,
			state_hash = excluded.state_hash,
			timestamp = excluded.timestamp
	`,
		snap.AggregateID,
		snap.Version,
		state,
		digest,
		toMillis(snap.Timestamp),
	)
	if err != nil {
		return canvas.WrapStorageError("save snapshot", err)
	}
	return nil
}

// LatestAtOrBefore returns the newest snapshot with version <= maxVersion.
// A stored state whose digest no longer matches is a storage error.
func (s *Store) LatestAtOrBefore(ctx context.Context, aggregateID string, maxVersion int64) (canvas.Snapshot, bool, error) {
	var (
		snap          canvas.Snapshot
		state, digest string
		ms            int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT aggregate_id, version, state, state_hash, timestamp
		FROM snapshots
		WHERE aggregate_id = ? AND version <= ?
		ORDER BY version DESC
		LIMIT 1
	`, aggregateID, maxVersion).Scan(&snap.AggregateID, &snap.Version, &state, &digest, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return canvas.Snapshot{}, false, nil
	}
	if err != nil {
		return canvas.Snapshot{}, false, canvas.WrapStorageError("query snapshot", err)
	}

	snap.State, err = store.DecodeState(state, digest)
	if err != nil {
		s.logger.Error("snapshot failed verification",
			"aggregate_id", aggregateID,
			"version", snap.Version,
			"error", err,
		)
		return canvas.Snapshot{}, false, canvas.WrapStorageError("load snapshot", err)
	}
	snap.Timestamp = fromMillis(ms)
	return snap, true, nil
}

// ListSnapshots returns the aggregate's snapshot versions, ascending.
func (s *Store) ListSnapshots(ctx context.Context, aggregateID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version FROM snapshots WHERE aggregate_id = ? ORDER BY version ASC
	`, aggregateID)
	if err != nil {
		return nil, canvas.WrapStorageError("query snapshots", err)
	}
	defer rows.Close()

	versions := []int64{}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, canvas.WrapStorageError("scan snapshot", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, canvas.WrapStorageError("iterate snapshots", err)
	}
	return versions, nil
}
