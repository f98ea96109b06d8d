package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/canvaslog/internal/canvas"
	"github.com/roach88/canvaslog/internal/reducer"
	"github.com/roach88/canvaslog/internal/schema"
	"github.com/roach88/canvaslog/internal/store/memstore"
	"github.com/roach88/canvaslog/internal/testutil"
)

const agg = "canvas-1"

// newTestCoordinator builds a coordinator over a fresh memstore with
// sequential ids ("event-1", ...) and a deterministic clock.
func newTestCoordinator(t *testing.T, opts ...Option) (*Coordinator, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	base := []Option{
		WithIDGenerator(testutil.NewSequentialIDGenerator("event")),
		WithClock(testutil.NewDeterministicClock().Now),
	}
	return New(s, s, append(base, opts...)...), s
}

func created(id string, x, y float64) canvas.SquareCreated {
	return canvas.SquareCreated{SquareID: id, X: x, Y: y, Size: 50, Color: "red"}
}

// appendAll appends payloads at versions 1..n, failing the test on error.
func appendAll(t *testing.T, c *Coordinator, aggregateID string, payloads ...canvas.Payload) {
	t.Helper()
	ctx := context.Background()
	for _, p := range payloads {
		cur, err := c.State(ctx, aggregateID)
		require.NoError(t, err)
		_, err = c.Append(ctx, aggregateID, p, cur.Version+1)
		require.NoError(t, err)
	}
}

func TestScenarioA_CreateThenMove(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	res, err := c.Append(ctx, agg, canvas.SquareCreated{SquareID: "sq1", X: 100, Y: 100, Size: 50, Color: "red"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "event-1", res.EventID)
	assert.Equal(t, int64(1), res.Version)

	res, err = c.Append(ctx, agg, canvas.SquareMoved{SquareID: "sq1", X: 200, Y: 200}, 2)
	require.NoError(t, err)

	want := canvas.CanvasState{
		Squares:     []canvas.Square{{ID: "sq1", X: 200, Y: 200, Size: 50, Color: "red"}},
		Version:     2,
		LastEventID: "event-2",
	}
	assert.Equal(t, want, res.State)

	got, err := c.State(ctx, agg)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestScenarioB_SnapshotAtTen(t *testing.T) {
	c, s := newTestCoordinator(t)
	ctx := context.Background()

	payloads := make([]canvas.Payload, 0, 10)
	for i := 1; i <= 10; i++ {
		payloads = append(payloads, created(fmt.Sprintf("sq%d", i), float64(i), float64(i)))
	}
	appendAll(t, c, agg, payloads...)

	snap, ok, err := s.LatestAtOrBefore(ctx, agg, canvas.MaxVersion)
	require.NoError(t, err)
	require.True(t, ok, "snapshot at version 10 must exist")
	assert.Equal(t, int64(10), snap.Version)

	full, err := c.Replay(ctx, agg, canvas.MaxVersion)
	require.NoError(t, err)
	assert.Equal(t, full, snap.State)

	at5, err := c.StateAt(ctx, agg, 5)
	require.NoError(t, err)
	assert.Len(t, at5.Squares, 5)
	assert.Equal(t, int64(5), at5.Version)
	assert.Equal(t, "event-5", at5.LastEventID)
}

func TestScenarioC_DeleteUnknownAdvancesVersion(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	appendAll(t, c, agg, created("sq1", 1, 1))

	res, err := c.Append(ctx, agg, canvas.SquareDeleted{SquareID: "unknown"}, 2)
	require.NoError(t, err)

	assert.Equal(t, []canvas.Square{{ID: "sq1", X: 1, Y: 1, Size: 50, Color: "red"}}, res.State.Squares)
	assert.Equal(t, int64(2), res.State.Version)
	assert.Equal(t, "event-2", res.State.LastEventID)
}

func TestScenarioD_MoveUnknownIsNoOp(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	appendAll(t, c, agg, created("sq1", 1, 1))

	res, err := c.Append(ctx, agg, canvas.SquareMoved{SquareID: "ghost", X: 9, Y: 9}, 2)
	require.NoError(t, err)

	assert.Equal(t, []canvas.Square{{ID: "sq1", X: 1, Y: 1, Size: 50, Color: "red"}}, res.State.Squares)
	assert.Equal(t, int64(2), res.State.Version)
	assert.Equal(t, "event-2", res.State.LastEventID)
}

func TestAppend_VersionConflict(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	appendAll(t, c, agg, created("sq1", 0, 0), created("sq2", 0, 0))

	tests := []struct {
		name      string
		requested int64
	}{
		{"stale", 2},
		{"ahead", 5},
		{"zero", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Append(ctx, agg, created("x", 0, 0), tt.requested)
			require.Error(t, err)
			assert.True(t, canvas.IsConflict(err))

			var ce *canvas.Error
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, "3", ce.Details["expected"])
			assert.Equal(t, "2", ce.Details["current"])
		})
	}

	history, err := c.VersionHistory(ctx, agg)
	require.NoError(t, err)
	assert.Len(t, history, 2, "rejected appends leave no trace")
}

func TestAppend_Validation(t *testing.T) {
	c, _ := newTestCoordinator(t, WithValidator(schema.MustNew()))
	ctx := context.Background()

	tests := []struct {
		name        string
		aggregateID string
		payload     canvas.Payload
	}{
		{"empty aggregate", "", created("sq1", 0, 0)},
		{"nil payload", agg, nil},
		{"empty square id", agg, canvas.SquareCreated{Size: 10, Color: "red"}},
		{"zero size", agg, canvas.SquareCreated{SquareID: "sq1", Size: 0, Color: "red"}},
		{"move without id", agg, canvas.SquareMoved{X: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Append(ctx, tt.aggregateID, tt.payload, 1)
			require.Error(t, err)
			assert.True(t, canvas.IsValidation(err), "got %v", err)
		})
	}
}

func TestAppend_StructuralChecksWithoutValidator(t *testing.T) {
	c, s := newTestCoordinator(t)
	ctx := context.Background()

	rejected := []canvas.Payload{
		&canvas.SquareCreated{SquareID: "sq1", Size: 10, Color: "red"},
		&canvas.SquareMoved{SquareID: "sq1"},
		&canvas.SquareDeleted{SquareID: "sq1"},
		canvas.SquareCreated{SquareID: "sq1", Size: 0, Color: "red"},
		canvas.SquareCreated{Size: 10, Color: "red"},
		canvas.SquareDeleted{},
	}
	for _, p := range rejected {
		_, err := c.Append(ctx, agg, p, 1)
		require.Error(t, err, "%#v", p)
		assert.True(t, canvas.IsValidation(err), "got %v", err)
	}

	head, err := s.LatestVersion(ctx, agg)
	require.NoError(t, err)
	assert.Zero(t, head, "rejected payloads are never recorded")

	res, err := c.Append(ctx, agg, created("sq1", 1, 1), 1)
	require.NoError(t, err)
	state, err := c.State(ctx, agg)
	require.NoError(t, err)
	assert.Equal(t, res.State, state)
}

func TestAppendRaw(t *testing.T) {
	c, _ := newTestCoordinator(t, WithValidator(schema.MustNew()))
	ctx := context.Background()

	res, err := c.AppendRaw(ctx, agg, "SquareCreated",
		[]byte(`{"squareId":"sq1","x":1,"y":2,"size":30,"color":"blue"}`), 1)
	require.NoError(t, err)
	assert.Equal(t, []canvas.Square{{ID: "sq1", X: 1, Y: 2, Size: 30, Color: "blue"}}, res.State.Squares)

	_, err = c.AppendRaw(ctx, agg, "CircleCreated", []byte(`{}`), 2)
	assert.True(t, canvas.IsValidation(err))

	_, err = c.AppendRaw(ctx, agg, "SquareMoved", []byte(`{"squareId":"sq1","x":"far"}`), 2)
	assert.True(t, canvas.IsValidation(err))
}

func TestAppendRaw_WithoutValidator(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	res, err := c.AppendRaw(ctx, agg, "SquareDeleted", []byte(`{"squareId":"sq9"}`), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Version)

	_, err = c.AppendRaw(ctx, agg, "SquareDeleted", []byte(`not json`), 2)
	assert.True(t, canvas.IsValidation(err))
}

func TestStateAt_Bounds(t *testing.T) {
	c, _ := newTestCoordinator(t, WithSnapshotInterval(3))
	ctx := context.Background()
	for i := 1; i <= 7; i++ {
		appendAll(t, c, agg, created(fmt.Sprintf("sq%d", i), 0, 0))
	}

	zero, err := c.StateAt(ctx, agg, 0)
	require.NoError(t, err)
	assert.Equal(t, canvas.EmptyState(), zero)

	_, err = c.StateAt(ctx, agg, -1)
	assert.True(t, canvas.IsValidation(err))

	head, err := c.State(ctx, agg)
	require.NoError(t, err)
	past, err := c.StateAt(ctx, agg, 100)
	require.NoError(t, err)
	assert.Equal(t, head, past, "a version past the head reads as the head")
	assert.Equal(t, int64(7), past.Version)
}

func TestState_UnknownAggregate(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	state, err := c.State(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, canvas.EmptyState(), state)

	history, err := c.VersionHistory(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestReplayEquivalence(t *testing.T) {
	payloads := []canvas.Payload{
		created("a", 1, 1),
		created("b", 2, 2),
		canvas.SquareMoved{SquareID: "a", X: 5, Y: 5},
		created("c", 3, 3),
		canvas.SquareDeleted{SquareID: "b"},
		canvas.SquareMoved{SquareID: "ghost", X: 0, Y: 0},
		created("a", 9, 9),
		canvas.SquareDeleted{SquareID: "a"},
		created("d", 4, 4),
		canvas.SquareMoved{SquareID: "d", X: 7, Y: 8},
		created("e", 5, 5),
		canvas.SquareDeleted{SquareID: "unknown"},
		created("f", 6, 6),
	}

	// Reference: every prefix reduced from empty with no snapshots involved.
	events := make([]canvas.Event, len(payloads))
	for i, p := range payloads {
		events[i] = canvas.Event{ID: fmt.Sprintf("event-%d", i+1), Version: int64(i + 1), Payload: p}
	}

	for k := int64(1); k <= int64(len(payloads))+1; k++ {
		t.Run(fmt.Sprintf("interval=%d", k), func(t *testing.T) {
			c, _ := newTestCoordinator(t, WithSnapshotInterval(k))
			ctx := context.Background()
			appendAll(t, c, agg, payloads...)

			for v := int64(0); v <= int64(len(payloads)); v++ {
				want := reducer.ReduceSequence(canvas.EmptyState(), events[:v])
				got, err := c.StateAt(ctx, agg, v)
				require.NoError(t, err)
				assert.True(t, want.Equal(got), "version %d: want %+v, got %+v", v, want, got)
			}
		})
	}
}

func TestSnapshotPolicy(t *testing.T) {
	c, s := newTestCoordinator(t, WithSnapshotInterval(4))
	ctx := context.Background()
	for i := 1; i <= 13; i++ {
		appendAll(t, c, agg, created(fmt.Sprintf("sq%d", i), 0, 0))
	}

	versions, err := s.ListSnapshots(ctx, agg)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 8, 12}, versions)
	assert.Equal(t, int64(4), c.SnapshotInterval())
}

func TestSnapshotFailureDoesNotUndoAppend(t *testing.T) {
	c, s := newTestCoordinator(t, WithSnapshotInterval(2))
	ctx := context.Background()
	s.FailSnapshots(errors.New("disk full"))

	appendAll(t, c, agg, created("sq1", 0, 0), created("sq2", 0, 0), created("sq3", 0, 0))
	assert.Equal(t, int64(1), c.SnapshotFailures())

	versions, err := s.ListSnapshots(ctx, agg)
	require.NoError(t, err)
	assert.Empty(t, versions)

	state, err := c.State(ctx, agg)
	require.NoError(t, err)
	assert.Equal(t, int64(3), state.Version)
	assert.Len(t, state.Squares, 3)
}

func TestReturnedStatesAreIndependent(t *testing.T) {
	c, _ := newTestCoordinator(t, WithSnapshotInterval(1))
	ctx := context.Background()

	res, err := c.Append(ctx, agg, created("sq1", 1, 1), 1)
	require.NoError(t, err)
	res.State.Squares[0].X = 999

	again, err := c.State(ctx, agg)
	require.NoError(t, err)
	assert.Equal(t, float64(1), again.Squares[0].X)

	again.Squares[0].X = 555
	third, err := c.State(ctx, agg)
	require.NoError(t, err)
	assert.Equal(t, float64(1), third.Squares[0].X)
	assert.Equal(t, again.Version, third.Version, "read idempotence")
}

func TestNotifier(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []canvas.CanvasState
	)
	c, _ := newTestCoordinator(t, WithNotifier(NotifierFunc(func(_ context.Context, aggregateID string, state canvas.CanvasState) {
		assert.Equal(t, agg, aggregateID)
		mu.Lock()
		seen = append(seen, state)
		mu.Unlock()
	})))
	ctx := context.Background()

	res, err := c.Append(ctx, agg, created("sq1", 0, 0), 1)
	require.NoError(t, err)
	_, err = c.Append(ctx, agg, created("sq2", 0, 0), 1)
	require.Error(t, err, "conflicts do not notify")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, res.State, seen[0])
}

func TestNotifierRunsOutsideLane(t *testing.T) {
	var c *Coordinator
	done := make(chan error, 1)
	c, _ = newTestCoordinator(t, WithNotifier(NotifierFunc(func(ctx context.Context, aggregateID string, state canvas.CanvasState) {
		if state.Version != 1 {
			return
		}
		// A write from inside the callback would deadlock if the lane were held.
		_, err := c.Append(ctx, aggregateID, created("sq2", 0, 0), 2)
		done <- err
	})))

	_, err := c.Append(context.Background(), agg, created("sq1", 0, 0), 1)
	require.NoError(t, err)
	require.NoError(t, <-done)
}

func TestConcurrentWritersSameVersion(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	const writers = 16

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Append(ctx, agg, created(fmt.Sprintf("sq%d", i), 0, 0), 1)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, canvas.IsConflict(err), "got %v", err)
	}
	assert.Equal(t, 1, wins)
}

func TestConcurrentWritersStayContiguous(t *testing.T) {
	c, _ := newTestCoordinator(t, WithSnapshotInterval(5))
	ctx := context.Background()
	const (
		writers   = 8
		perWriter = 10
	)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for n := 0; n < perWriter; {
				cur, err := c.State(ctx, agg)
				if !assert.NoError(t, err) {
					return
				}
				_, err = c.Append(ctx, agg, created(fmt.Sprintf("w%d-%d", w, n), 0, 0), cur.Version+1)
				if canvas.IsConflict(err) {
					continue
				}
				if !assert.NoError(t, err) {
					return
				}
				n++
			}
		}(w)
	}
	wg.Wait()

	history, err := c.VersionHistory(ctx, agg)
	require.NoError(t, err)
	require.Len(t, history, writers*perWriter)
	for i, info := range history {
		assert.Equal(t, int64(i+1), info.Version)
	}

	report, err := c.Verify(ctx, agg)
	require.NoError(t, err)
	assert.True(t, report.OK(), "problems: %v", report.Problems)
	assert.Equal(t, 0, c.lanes.size(), "lanes are released")
}

func TestTwoCoordinatorsShareStore(t *testing.T) {
	s := memstore.New()
	a := New(s, s)
	b := New(s, s)
	ctx := context.Background()

	// Each coordinator has its own lanes, so only the store key arbitrates.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, c := range []*Coordinator{a, b} {
		wg.Add(1)
		go func(i int, c *Coordinator) {
			defer wg.Done()
			_, errs[i] = c.Append(ctx, agg, created(fmt.Sprintf("sq%d", i), 0, 0), 1)
		}(i, c)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			assert.True(t, canvas.IsConflict(err))
		}
	}
	assert.Equal(t, 1, failures)
}

func TestAppend_LaneWaitHonorsContext(t *testing.T) {
	c, _ := newTestCoordinator(t)

	release, err := c.lanes.acquire(context.Background(), agg)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Append(ctx, agg, created("sq1", 0, 0), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestVerify_DetectsCorruptSnapshot(t *testing.T) {
	c, s := newTestCoordinator(t, WithSnapshotInterval(2))
	ctx := context.Background()
	appendAll(t, c, agg, created("sq1", 0, 0), created("sq2", 0, 0), created("sq3", 0, 0))

	report, err := c.Verify(ctx, agg)
	require.NoError(t, err)
	require.True(t, report.OK(), "problems: %v", report.Problems)
	assert.Equal(t, []int64{2}, report.SnapshotsChecked)
	assert.Equal(t, int64(3), report.HeadVersion)
	assert.Equal(t, 3, report.EventCount)
	assert.NotEmpty(t, report.HeadDigest)

	bad := canvas.EmptyState()
	bad.Version = 2
	require.NoError(t, s.Save(ctx, canvas.Snapshot{AggregateID: agg, Version: 2, State: bad}))

	report, err = c.Verify(ctx, agg)
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Len(t, report.Problems, 2, "snapshot mismatch and head mismatch: %v", report.Problems)
}

func TestVerify_DetectsVersionGap(t *testing.T) {
	c, s := newTestCoordinator(t)
	ctx := context.Background()
	for _, v := range []int64{1, 2, 4} {
		require.NoError(t, s.Append(ctx, canvas.Event{
			ID: fmt.Sprintf("e%d", v), AggregateID: agg, Version: v, Payload: created("sq", 0, 0),
		}))
	}

	report, err := c.Verify(ctx, agg)
	require.NoError(t, err)
	require.False(t, report.OK())
	assert.Contains(t, report.Problems[0], "expected 3, found 4")
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", gen.Generate())
	assert.Equal(t, "b", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}

func TestUUIDv7Generator(t *testing.T) {
	var gen UUIDv7Generator
	a, b := gen.Generate(), gen.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestLanes_ReleaseIsIdempotent(t *testing.T) {
	l := newLanes()
	release, err := l.acquire(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 1, l.size())

	release()
	release()
	assert.Equal(t, 0, l.size())

	release2, err := l.acquire(context.Background(), "x")
	require.NoError(t, err)
	release2()
}
