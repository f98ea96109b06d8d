// Package harness runs YAML canvas scenarios against an in-memory store.
//
// # Scenario Format
//
//	name: move_then_delete
//	description: "A moved square can be deleted"
//	aggregate: board-1
//	snapshot_interval: 2
//	steps:
//	  - type: SquareCreated
//	    payload: { squareId: a, x: 0, y: 0, size: 10, color: red }
//	  - type: SquareMoved
//	    payload: { squareId: a, x: 5, y: 5 }
//	  - type: SquareMoved
//	    version: 7
//	    payload: { squareId: a, x: 1, y: 1 }
//	    expect_error: conflict
//	assertions:
//	  - type: square_count
//	    count: 1
//	  - type: square
//	    id: a
//	    expect: { x: 5, y: 5 }
//	  - type: snapshot_at
//	    at: 2
//
// A step without a version writes at the next version. A step with
// expect_error must fail with that error code and does not advance the
// version.
//
// # Assertion Types
//
//   - square_count: number of live squares in the head state
//   - square: a square's fields (subset match), or its absence
//   - version: head version
//   - last_event_id: id of the head's last event
//   - snapshot_at: a snapshot is stored at exactly that version
//   - state_at: square count (and optionally version) of the state as of a version
//
// # Deterministic Testing
//
// Every run uses a fresh memstore, a testutil.DeterministicClock and a
// testutil.SequentialIDGenerator, so event ids are "event-1", "event-2", ...
// and final states are byte-identical across runs. RunWithGolden compares
// the head state's canonical JSON with testdata/golden/<name>.golden.
package harness
