// Package coordinator owns the write path and read path of canvas aggregates.
//
// The Coordinator sits between callers and the two stores:
//
//	caller ──Append──▶ [write lane] ─▶ EventLog.Append ─▶ snapshot policy ─▶ Notifier
//	caller ──StateAt─▶ SnapshotStore.LatestAtOrBefore ─▶ EventLog.List ─▶ reducer
//
// # Write lanes
//
// Writes to one aggregate are serialized by a per-aggregate lane. The lane is
// held across the version check, the append, and the snapshot save, so the
// aggregate's versions stay contiguous from 1. Different aggregates never
// contend. Writers in other processes are stopped by the store's unique key
// on (aggregate, version); both paths surface as conflict errors.
//
// # Snapshots
//
// Every SnapshotInterval events (default 10) the state at that version is
// saved. Saving is best effort: a failed save is logged and counted and
// never undoes the appended event, because the log alone can rebuild any
// state.
//
// # Reads
//
// Reads take no lane. They load the nearest snapshot at or below the
// requested version, fetch the events after it, and reduce. Missing data is
// never an error: an unknown aggregate reads as the empty state.
//
// The Coordinator retries nothing. Conflicts go back to the caller, who
// re-reads and decides.
package coordinator
