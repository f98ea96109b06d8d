package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/canvaslog/internal/canvas"
	"github.com/roach88/canvaslog/internal/store"
)

// Append inserts ev. The (aggregate_id, version) primary key and the unique
// id column reject duplicates; either surfaces as a conflict and leaves the
// table untouched.
func (s *Store) Append(ctx context.Context, ev canvas.Event) error {
	payload, err := store.EncodePayload(ev.Payload)
	if err != nil {
		return canvas.NewValidationError(err.Error())
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (aggregate_id, version, id, type, payload, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		ev.AggregateID,
		ev.Version,
		ev.ID,
		string(ev.Payload.EventType()),
		payload,
		toMillis(ev.Timestamp),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return canvas.NewDuplicateEvent(ev.AggregateID, ev.Version, err)
		}
		return canvas.WrapStorageError("append event", err)
	}
	return nil
}

// List returns events with afterVersion < version <= untilVersion.
// Results are ordered by version ascending; returns an empty slice (not nil)
// when nothing matches.
func (s *Store) List(ctx context.Context, aggregateID string, afterVersion, untilVersion int64) ([]canvas.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aggregate_id, version, type, payload, timestamp
		FROM events
		WHERE aggregate_id = ? AND version > ? AND version <= ?
		ORDER BY version ASC
	`, aggregateID, afterVersion, untilVersion)
	if err != nil {
		return nil, canvas.WrapStorageError("query events", err)
	}
	defer rows.Close()

	events := []canvas.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, canvas.WrapStorageError("iterate events", err)
	}
	return events, nil
}

// ListVersions returns the history projection, ordered by version.
func (s *Store) ListVersions(ctx context.Context, aggregateID string) ([]canvas.VersionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, timestamp
		FROM events
		WHERE aggregate_id = ?
		ORDER BY version ASC
	`, aggregateID)
	if err != nil {
		return nil, canvas.WrapStorageError("query versions", err)
	}
	defer rows.Close()

	versions := []canvas.VersionInfo{}
	for rows.Next() {
		var (
			info canvas.VersionInfo
			ms   int64
		)
		if err := rows.Scan(&info.ID, &info.Version, &ms); err != nil {
			return nil, canvas.WrapStorageError("scan version", err)
		}
		info.Timestamp = fromMillis(ms)
		versions = append(versions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, canvas.WrapStorageError("iterate versions", err)
	}
	return versions, nil
}

// LatestVersion returns MAX(version) for the aggregate, or 0.
func (s *Store) LatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(version) FROM events WHERE aggregate_id = ?
	`, aggregateID).Scan(&v)
	if err != nil {
		return 0, canvas.WrapStorageError("latest version", err)
	}
	return v.Int64, nil
}

// ListAggregates returns the distinct aggregate ids, sorted.
func (s *Store) ListAggregates(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT aggregate_id FROM events ORDER BY aggregate_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, canvas.WrapStorageError("query aggregates", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, canvas.WrapStorageError("scan aggregate", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, canvas.WrapStorageError("iterate aggregates", err)
	}
	return ids, nil
}

func scanEvent(rows *sql.Rows) (canvas.Event, error) {
	var (
		ev        canvas.Event
		eventType string
		payload   string
		ms        int64
	)
	if err := rows.Scan(&ev.ID, &ev.AggregateID, &ev.Version, &eventType, &payload, &ms); err != nil {
		return canvas.Event{}, canvas.WrapStorageError("scan event", err)
	}

	p, err := store.DecodePayload(eventType, payload)
	if err != nil {
		return canvas.Event{}, canvas.WrapStorageError(fmt.Sprintf("decode event %s", ev.ID), err)
	}
	ev.Payload = p
	ev.Timestamp = fromMillis(ms)
	return ev, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
