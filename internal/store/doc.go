// Package store defines the storage contracts of the canvas event store.
//
// Two keyed collections back every aggregate:
//   - events: unique on (aggregate_id, version), plus a unique event id
//   - snapshots: unique on (aggregate_id, version), upserted
//
// # Engines
//
//   - memstore: in-process maps guarded by an RWMutex
//   - sqlite: mattn/go-sqlite3 in WAL mode
//   - postgres: gorm over the pgx driver
//
// # Ordering
//
// Every list operation orders by version ascending. Version is the only
// ordering key; timestamps are informational.
//
// # Errors
//
// Duplicate keys surface as canvas conflict errors. Engine failures are
// wrapped with canvas.WrapStorageError so callers can tell them apart with
// canvas.IsStorage. Reading an unknown aggregate is never an error.
//
// The storetest subpackage holds the contract tests every engine runs.
package store
