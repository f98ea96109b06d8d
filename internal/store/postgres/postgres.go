// Package postgres is the shared-database store engine, built on gorm with
// the pgx driver.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/roach88/canvaslog/internal/canvas"
	"github.com/roach88/canvaslog/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Store implements store.Store on a Postgres database.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for failed operations.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open connects to dsn, pings, and applies the schema.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := db.WithContext(ctx).Exec(schemaSQL).Error; err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append inserts ev; a duplicate key or id is a conflict.
func (s *Store) Append(ctx context.Context, ev canvas.Event) error {
	payload, err := store.EncodePayload(ev.Payload)
	if err != nil {
		return canvas.NewValidationError(err.Error())
	}

	row := eventModel{
		AggregateID: ev.AggregateID,
		Version:     ev.Version,
		ID:          ev.ID,
		Type:        string(ev.Payload.EventType()),
		Payload:     payload,
		CreatedAt:   ev.Timestamp.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return canvas.NewDuplicateEvent(ev.AggregateID, ev.Version, err)
		}
		return s.logError("append event", err, "aggregate_id", ev.AggregateID, "version", ev.Version)
	}
	return nil
}

// List returns events with afterVersion < version <= untilVersion.
func (s *Store) List(ctx context.Context, aggregateID string, afterVersion, untilVersion int64) ([]canvas.Event, error) {
	var rows []eventModel
	if err := s.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Where("version > ? AND version <= ?", afterVersion, untilVersion).
		Order("version ASC").
		Find(&rows).Error; err != nil {
		return nil, s.logError("list events", err, "aggregate_id", aggregateID)
	}

	events := make([]canvas.Event, 0, len(rows))
	for _, row := range rows {
		ev, err := row.toEvent()
		if err != nil {
			return nil, canvas.WrapStorageError(fmt.Sprintf("decode event %s", row.ID), err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// ListVersions returns the history projection, ordered by version.
func (s *Store) ListVersions(ctx context.Context, aggregateID string) ([]canvas.VersionInfo, error) {
	var rows []eventModel
	if err := s.db.WithContext(ctx).
		Select("id", "version", "created_at").
		Where("aggregate_id = ?", aggregateID).
		Order("version ASC").
		Find(&rows).Error; err != nil {
		return nil, s.logError("list versions", err, "aggregate_id", aggregateID)
	}

	versions := make([]canvas.VersionInfo, 0, len(rows))
	for _, row := range rows {
		versions = append(versions, canvas.VersionInfo{ID: row.ID, Version: row.Version, Timestamp: row.CreatedAt.UTC()})
	}
	return versions, nil
}

// LatestVersion returns MAX(version) for the aggregate, or 0.
func (s *Store) LatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	var v int64
	if err := s.db.WithContext(ctx).
		Model(&eventModel{}).
		Select("COALESCE(MAX(version), 0)").
		Where("aggregate_id = ?", aggregateID).
		Scan(&v).Error; err != nil {
		return 0, s.logError("latest version", err, "aggregate_id", aggregateID)
	}
	return v, nil
}

// ListAggregates returns the aggregate ids with events, in byte order.
func (s *Store) ListAggregates(ctx context.Context) ([]string, error) {
	ids := []string{}
	if err := s.db.WithContext(ctx).
		Model(&eventModel{}).
		Group("aggregate_id").
		Order(`aggregate_id COLLATE "C" ASC`).
		Pluck("aggregate_id", &ids).Error; err != nil {
		return nil, s.logError("list aggregates", err)
	}
	return ids, nil
}

// Save upserts the snapshot at (aggregate_id, version).
func (s *Store) Save(ctx context.Context, snap canvas.Snapshot) error {
	state, digest, err := store.EncodeState(snap.State)
	if err != nil {
		return canvas.WrapStorageError("save snapshot", err)
	}

	row := snapshotModel{
		AggregateID: snap.AggregateID,
		Version:     snap.Version,
		State:       state,
		StateHash:   digest,
		CreatedAt:   snap.Timestamp.UTC(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "aggregate_id"}, {Name: "version"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "state_hash", "created_at"}),
	}).Create(&row).Error; err != nil {
		return s.logError("save snapshot", err, "aggregate_id", snap.AggregateID, "version", snap.Version)
	}
	return nil
}

// LatestAtOrBefore returns the newest snapshot with version <= maxVersion.
func (s *Store) LatestAtOrBefore(ctx context.Context, aggregateID string, maxVersion int64) (canvas.Snapshot, bool, error) {
	var row snapshotModel
	err := s.db.WithContext(ctx).
		Where("aggregate_id = ? AND version <= ?", aggregateID, maxVersion).
		Order("version DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return canvas.Snapshot{}, false, nil
	}
	if err != nil {
		return canvas.Snapshot{}, false, s.logError("latest snapshot", err, "aggregate_id", aggregateID)
	}

	state, err := store.DecodeState(row.State, row.StateHash)
	if err != nil {
		return canvas.Snapshot{}, false, s.logError("load snapshot", err, "aggregate_id", aggregateID, "version", row.Version)
	}
	return canvas.Snapshot{
		AggregateID: row.AggregateID,
		Version:     row.Version,
		State:       state,
		Timestamp:   row.CreatedAt.UTC(),
	}, true, nil
}

// ListSnapshots returns the aggregate's snapshot versions, ascending.
func (s *Store) ListSnapshots(ctx context.Context, aggregateID string) ([]int64, error) {
	versions := []int64{}
	if err := s.db.WithContext(ctx).
		Model(&snapshotModel{}).
		Where("aggregate_id = ?", aggregateID).
		Order("version ASC").
		Pluck("version", &versions).Error; err != nil {
		return nil, s.logError("list snapshots", err, "aggregate_id", aggregateID)
	}
	return versions, nil
}

// truncate empties both tables. Used by tests sharing one database.
func (s *Store) truncate(ctx context.Context) error {
	return s.db.WithContext(ctx).Exec("TRUNCATE canvas_events, canvas_snapshots").Error
}

func (s *Store) logError(op string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+6)
	fields = append(fields,
		"op", op,
		"layer", "store/postgres",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	s.logger.Error("postgres store operation failed", fields...)
	return canvas.WrapStorageError(op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type eventModel struct {
	AggregateID string    `gorm:"column:aggregate_id;primaryKey"`
	Version     int64     `gorm:"column:version;primaryKey;autoIncrement:false"`
	ID          string    `gorm:"column:id"`
	Type        string    `gorm:"column:type"`
	Payload     string    `gorm:"column:payload"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (eventModel) TableName() string {
	return "canvas_events"
}

func (m eventModel) toEvent() (canvas.Event, error) {
	payload, err := store.DecodePayload(m.Type, m.Payload)
	if err != nil {
		return canvas.Event{}, err
	}
	return canvas.Event{
		ID:          m.ID,
		AggregateID: m.AggregateID,
		Version:     m.Version,
		Payload:     payload,
		Timestamp:   m.CreatedAt.UTC(),
	}, nil
}

type snapshotModel struct {
	AggregateID string    `gorm:"column:aggregate_id;primaryKey"`
	Version     int64     `gorm:"column:version;primaryKey;autoIncrement:false"`
	State       string    `gorm:"column:state"`
	StateHash   string    `gorm:"column:state_hash"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (snapshotModel) TableName() string {
	return "canvas_snapshots"
}
