// Package canvas defines the shared types of the canvas event store.
//
// An aggregate is one shared canvas. Its history is a linear chain of
// immutable events numbered 1, 2, 3, ... with no gaps. Every state of the
// canvas (current or historical) is derived by folding those events, in
// version order, over the empty state.
//
// # Types
//
//   - Event: one immutable fact (id, aggregate, version, payload, timestamp)
//   - Payload: sealed sum type, one variant per event kind
//   - CanvasState: the materialized view the reducer produces
//   - Snapshot: a CanvasState checkpoint at a given version
//   - VersionInfo: lightweight history projection
//
// # Ordering
//
// Version is the sole ordering key. Timestamps are recorded for history
// browsing only and never influence replay.
//
// # Canonical Digest
//
// StateDigest hashes a CanvasState via canonical JSON (sorted keys, exact
// strings, shortest round-trip numbers) with domain separation, so two
// replays that agree produce the same digest on every machine. State strings
// are not NFC normalized; MarshalCanonical normalizes for other documents.
package canvas
