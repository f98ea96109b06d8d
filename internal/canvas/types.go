package canvas

import (
	"math"
	"time"
)

// MaxVersion is the open upper bound for version-ranged queries.
const MaxVersion int64 = math.MaxInt64

// DefaultSnapshotInterval is the number of events between snapshots.
const DefaultSnapshotInterval = 10

// Square is one shape on the canvas.
// IDs are unique within the live set by convention only; the reducer does
// not reject a second SquareCreated with an id already present.
type Square struct {
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Size  float64 `json:"size"`
	Color string  `json:"color"`
}

// CanvasState is the materialized view of an aggregate at some version.
//
// Squares keeps insertion order (it matters for rendering, not identity).
// Version and LastEventID always describe the last applied event, even
// when that event left Squares untouched.
type CanvasState struct {
	Squares     []Square `json:"squares"`
	Version     int64    `json:"version"`
	LastEventID string   `json:"lastEventId"`
}

// EmptyState returns the initial state: no squares, version 0.
// Squares is a non-nil empty slice so it encodes as [] rather than null.
func EmptyState() CanvasState {
	return CanvasState{Squares: []Square{}}
}

// Clone returns an independent copy of s.
// Squares is copied so mutating the clone never reaches s.
func (s CanvasState) Clone() CanvasState {
	squares := make([]Square, len(s.Squares))
	copy(squares, s.Squares)
	return CanvasState{
		Squares:     squares,
		Version:     s.Version,
		LastEventID: s.LastEventID,
	}
}

// Equal reports whether two states are identical, including square order.
func (s CanvasState) Equal(other CanvasState) bool {
	if s.Version != other.Version || s.LastEventID != other.LastEventID {
		return false
	}
	if len(s.Squares) != len(other.Squares) {
		return false
	}
	for i := range s.Squares {
		if s.Squares[i] != other.Squares[i] {
			return false
		}
	}
	return true
}

// Snapshot is a materialized checkpoint of an aggregate.
// State must equal a replay of every event with version <= Version.
type Snapshot struct {
	AggregateID string      `json:"aggregateId"`
	Version     int64       `json:"version"`
	State       CanvasState `json:"state"`
	Timestamp   time.Time   `json:"timestamp"`
}

// VersionInfo is the history projection of one event.
type VersionInfo struct {
	ID        string    `json:"id"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}
