// Package storetest runs the store contracts against any engine.
//
// Each engine's tests call Run with a factory returning a fresh, empty
// store:
//
//	func TestContract(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) store.Store { return newTestStore(t) })
//	}
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/canvaslog/internal/canvas"
	"github.com/roach88/canvaslog/internal/reducer"
	"github.com/roach88/canvaslog/internal/store"
)

// Factory creates an empty store for one subtest. The factory owns cleanup.
type Factory func(t *testing.T) store.Store

// Event builds a SquareCreated event with a deterministic id and a
// millisecond-precision timestamp (the coarsest precision any engine keeps).
func Event(aggregateID string, version int64) canvas.Event {
	return canvas.Event{
		ID:          fmt.Sprintf("%s-event-%d", aggregateID, version),
		AggregateID: aggregateID,
		Version:     version,
		Payload: canvas.SquareCreated{
			SquareID: fmt.Sprintf("sq%d", version),
			X:        float64(version) * 10,
			Y:        float64(version) * 20,
			Size:     50,
			Color:    "red",
		},
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(version) * time.Millisecond),
	}
}

// Run executes every contract test.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"AppendAndList", testAppendAndList},
		{"AppendRoundTripsPayloads", testAppendRoundTripsPayloads},
		{"AppendDuplicateVersionConflicts", testAppendDuplicateVersionConflicts},
		{"AppendDuplicateIDConflicts", testAppendDuplicateIDConflicts},
		{"ListBounds", testListBounds},
		{"ListOrdersByVersion", testListOrdersByVersion},
		{"ListUnknownAggregate", testListUnknownAggregate},
		{"AggregatesAreIsolated", testAggregatesAreIsolated},
		{"ListVersions", testListVersions},
		{"LatestVersion", testLatestVersion},
		{"ListAggregates", testListAggregates},
		{"SnapshotLatestAtOrBefore", testSnapshotLatestAtOrBefore},
		{"SnapshotSaveIsUpsert", testSnapshotSaveIsUpsert},
		{"SnapshotNone", testSnapshotNone},
		{"SnapshotStateIsCopied", testSnapshotStateIsCopied},
		{"SnapshotTailReplayMatchesFullReplay", testSnapshotTailReplayMatchesFullReplay},
		{"ConcurrentAppendSameVersion", testConcurrentAppendSameVersion},
		{"CanceledContext", testCanceledContext},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func appendN(t *testing.T, s store.Store, aggregateID string, n int64) []canvas.Event {
	t.Helper()
	events := make([]canvas.Event, 0, n)
	for v := int64(1); v <= n; v++ {
		ev := Event(aggregateID, v)
		require.NoError(t, s.Append(context.Background(), ev))
		events = append(events, ev)
	}
	return events
}

func assertEventsEqual(t *testing.T, want, got []canvas.Event) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].AggregateID, got[i].AggregateID)
		assert.Equal(t, want[i].Version, got[i].Version)
		assert.Equal(t, want[i].Payload, got[i].Payload)
		assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp),
			"timestamp %d: want %v, got %v", i, want[i].Timestamp, got[i].Timestamp)
	}
}

func testAppendAndList(t *testing.T, s store.Store) {
	want := appendN(t, s, "canvas-1", 3)

	got, err := s.List(context.Background(), "canvas-1", 0, canvas.MaxVersion)
	require.NoError(t, err)
	assertEventsEqual(t, want, got)
}

func testAppendRoundTripsPayloads(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := Event("canvas-1", 1)
	events := []canvas.Event{
		base,
		{ID: "m", AggregateID: "canvas-1", Version: 2, Timestamp: base.Timestamp,
			Payload: canvas.SquareMoved{SquareID: "sq1", X: -12.75, Y: 0.125}},
		{ID: "d", AggregateID: "canvas-1", Version: 3, Timestamp: base.Timestamp,
			Payload: canvas.SquareDeleted{SquareID: "sq1"}},
	}
	for _, ev := range events {
		require.NoError(t, s.Append(ctx, ev))
	}

	got, err := s.List(ctx, "canvas-1", 0, canvas.MaxVersion)
	require.NoError(t, err)
	assertEventsEqual(t, events, got)
}

func testAppendDuplicateVersionConflicts(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, Event("canvas-1", 1)))

	dup := Event("canvas-1", 1)
	dup.ID = "another-id"
	err := s.Append(ctx, dup)
	require.Error(t, err)
	assert.True(t, canvas.IsConflict(err), "got %v", err)

	got, err := s.List(ctx, "canvas-1", 0, canvas.MaxVersion)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "canvas-1-event-1", got[0].ID, "losing writer leaves no trace")
}

func testAppendDuplicateIDConflicts(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, Event("canvas-1", 1)))

	dup := Event("canvas-2", 1)
	dup.ID = "canvas-1-event-1"
	err := s.Append(ctx, dup)
	require.Error(t, err)
	assert.True(t, canvas.IsConflict(err), "got %v", err)
}

func testListBounds(t *testing.T, s store.Store) {
	ctx := context.Background()
	all := appendN(t, s, "canvas-1", 10)

	tests := []struct {
		after, until int64
		want         []canvas.Event
	}{
		{0, canvas.MaxVersion, all},
		{4, canvas.MaxVersion, all[4:]},
		{0, 5, all[:5]},
		{3, 7, all[3:7]},
		{10, canvas.MaxVersion, nil},
		{5, 5, nil},
		{0, 0, nil},
	}

	for _, tt := range tests {
		got, err := s.List(ctx, "canvas-1", tt.after, tt.until)
		require.NoError(t, err)
		assert.NotNil(t, got, "after=%d until=%d", tt.after, tt.until)
		assertEventsEqual(t, tt.want, got)
	}
}

func testListOrdersByVersion(t *testing.T, s store.Store) {
	ctx := context.Background()
	// Out-of-order appends: the store does not enforce contiguity.
	for _, v := range []int64{3, 1, 2} {
		require.NoError(t, s.Append(ctx, Event("canvas-1", v)))
	}

	got, err := s.List(ctx, "canvas-1", 0, canvas.MaxVersion)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, ev := range got {
		assert.Equal(t, int64(i+1), ev.Version)
	}
}

func testListUnknownAggregate(t *testing.T, s store.Store) {
	ctx := context.Background()

	events, err := s.List(ctx, "nope", 0, canvas.MaxVersion)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)

	versions, err := s.ListVersions(ctx, "nope")
	require.NoError(t, err)
	assert.NotNil(t, versions)
	assert.Empty(t, versions)
}

func testAggregatesAreIsolated(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := appendN(t, s, "canvas-a", 2)
	b := appendN(t, s, "canvas-b", 3)

	got, err := s.List(ctx, "canvas-a", 0, canvas.MaxVersion)
	require.NoError(t, err)
	assertEventsEqual(t, a, got)

	got, err = s.List(ctx, "canvas-b", 0, canvas.MaxVersion)
	require.NoError(t, err)
	assertEventsEqual(t, b, got)
}

func testListVersions(t *testing.T, s store.Store) {
	events := appendN(t, s, "canvas-1", 4)

	got, err := s.ListVersions(context.Background(), "canvas-1")
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, info := range got {
		assert.Equal(t, events[i].ID, info.ID)
		assert.Equal(t, events[i].Version, info.Version)
		assert.True(t, events[i].Timestamp.Equal(info.Timestamp))
	}
}

func testLatestVersion(t *testing.T, s store.Store) {
	ctx := context.Background()

	v, err := s.LatestVersion(ctx, "canvas-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	appendN(t, s, "canvas-1", 7)
	v, err = s.LatestVersion(ctx, "canvas-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
}

func testListAggregates(t *testing.T, s store.Store) {
	ctx := context.Background()

	ids, err := s.ListAggregates(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	appendN(t, s, "zeta", 1)
	appendN(t, s, "alpha", 2)
	ids, err = s.ListAggregates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, ids)
}

func snapshotAt(aggregateID string, version int64) canvas.Snapshot {
	squares := make([]canvas.Square, 0, version)
	for i := int64(1); i <= version; i++ {
		squares = append(squares, canvas.Square{ID: fmt.Sprintf("sq%d", i), X: float64(i), Y: 2.5, Size: 10, Color: "blue"})
	}
	return canvas.Snapshot{
		AggregateID: aggregateID,
		Version:     version,
		State: canvas.CanvasState{
			Squares:     squares,
			Version:     version,
			LastEventID: fmt.Sprintf("%s-event-%d", aggregateID, version),
		},
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testSnapshotLatestAtOrBefore(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, v := range []int64{10, 30, 20} {
		require.NoError(t, s.Save(ctx, snapshotAt("canvas-1", v)))
	}
	require.NoError(t, s.Save(ctx, snapshotAt("canvas-2", 40)))

	tests := []struct {
		max    int64
		want   int64
		wantOK bool
	}{
		{canvas.MaxVersion, 30, true},
		{35, 30, true},
		{30, 30, true},
		{29, 20, true},
		{15, 10, true},
		{10, 10, true},
		{9, 0, false},
	}

	for _, tt := range tests {
		snap, ok, err := s.LatestAtOrBefore(ctx, "canvas-1", tt.max)
		require.NoError(t, err)
		require.Equal(t, tt.wantOK, ok, "max=%d", tt.max)
		if ok {
			assert.Equal(t, tt.want, snap.Version, "max=%d", tt.max)
			assert.Equal(t, "canvas-1", snap.AggregateID)
			assert.Equal(t, snapshotAt("canvas-1", tt.want).State, snap.State)
		}
	}

	versions, err := s.ListSnapshots(ctx, "canvas-1")
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20, 30}, versions)
}

func testSnapshotSaveIsUpsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := snapshotAt("canvas-1", 10)
	require.NoError(t, s.Save(ctx, first))

	second := snapshotAt("canvas-1", 10)
	second.State.Squares = second.State.Squares[:1]
	require.NoError(t, s.Save(ctx, second))
	require.NoError(t, s.Save(ctx, second))

	snap, ok, err := s.LatestAtOrBefore(ctx, "canvas-1", canvas.MaxVersion)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.State, snap.State)

	versions, err := s.ListSnapshots(ctx, "canvas-1")
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, versions)
}

func testSnapshotNone(t *testing.T, s store.Store) {
	_, ok, err := s.LatestAtOrBefore(context.Background(), "canvas-1", canvas.MaxVersion)
	require.NoError(t, err)
	assert.False(t, ok)

	versions, err := s.ListSnapshots(context.Background(), "canvas-1")
	require.NoError(t, err)
	assert.NotNil(t, versions)
	assert.Empty(t, versions)
}

func testSnapshotStateIsCopied(t *testing.T, s store.Store) {
	ctx := context.Background()
	snap := snapshotAt("canvas-1", 2)
	require.NoError(t, s.Save(ctx, snap))

	// Mutating the saved value or a loaded value must not reach the store.
	snap.State.Squares[0].X = 999
	loaded, ok, err := s.LatestAtOrBefore(ctx, "canvas-1", canvas.MaxVersion)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(1), loaded.State.Squares[0].X)

	loaded.State.Squares[0].X = 555
	again, _, err := s.LatestAtOrBefore(ctx, "canvas-1", canvas.MaxVersion)
	require.NoError(t, err)
	assert.Equal(t, float64(1), again.State.Squares[0].X)
}

func testConcurrentAppendSameVersion(t *testing.T, s store.Store) {
	ctx := context.Background()
	const writers = 8

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := Event("canvas-1", 1)
			ev.ID = fmt.Sprintf("writer-%d", i)
			errs[i] = s.Append(ctx, ev)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, canvas.IsConflict(err), "losers must see a conflict, got %v", err)
	}
	assert.Equal(t, 1, wins, "exactly one writer claims a version")
}

func testCanceledContext(t *testing.T, s store.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, s.Append(ctx, Event("canvas-1", 1)))
	_, err := s.List(ctx, "canvas-1", 0, canvas.MaxVersion)
	assert.Error(t, err)
}

// testSnapshotTailReplayMatchesFullReplay stores a snapshot whose strings
// are not NFC normalized, then checks that snapshot plus tail folds to the
// same state as the whole log.
func testSnapshotTailReplayMatchesFullReplay(t *testing.T, s store.Store) {
	ctx := context.Background()
	const id = "cafe\u0301"
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []canvas.Event{
		{ID: "e1", AggregateID: "canvas-1", Version: 1, Timestamp: ts,
			Payload: canvas.SquareCreated{SquareID: id, X: 1, Y: 1, Size: 5, Color: "ro\u0301se <&>"}},
		{ID: "e2", AggregateID: "canvas-1", Version: 2, Timestamp: ts,
			Payload: canvas.SquareCreated{SquareID: "b", X: 2, Y: 2, Size: 5, Color: "blue"}},
		{ID: "e3", AggregateID: "canvas-1", Version: 3, Timestamp: ts,
			Payload: canvas.SquareMoved{SquareID: id, X: 99, Y: 99}},
	}
	for _, ev := range events[:2] {
		require.NoError(t, s.Append(ctx, ev))
	}
	require.NoError(t, s.Save(ctx, canvas.Snapshot{
		AggregateID: "canvas-1",
		Version:     2,
		State:       reducer.ReduceSequence(canvas.EmptyState(), events[:2]),
		Timestamp:   ts,
	}))
	require.NoError(t, s.Append(ctx, events[2]))

	snap, ok, err := s.LatestAtOrBefore(ctx, "canvas-1", 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), snap.Version)
	assert.Equal(t, id, snap.State.Squares[0].ID, "snapshot keeps ids byte for byte")

	tail, err := s.List(ctx, "canvas-1", snap.Version, 3)
	require.NoError(t, err)
	fromSnapshot := reducer.ReduceSequence(snap.State, tail)
	full := reducer.ReduceSequence(canvas.EmptyState(), events)

	assert.True(t, full.Equal(fromSnapshot), "full %+v, from snapshot %+v", full, fromSnapshot)
	assert.Equal(t, 99.0, fromSnapshot.Squares[0].X)
}
