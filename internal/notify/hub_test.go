package notify

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/canvaslog/internal/canvas"
	"github.com/roach88/canvaslog/internal/coordinator"
)

var _ coordinator.Notifier = (*Hub)(nil)

func stateAt(v int64) canvas.CanvasState {
	s := canvas.EmptyState()
	s.Version = v
	return s
}

func TestHub_DeliversToSubscribersOfAggregate(t *testing.T) {
	h := NewHub()
	ctx := context.Background()

	a1, cancelA1 := h.Subscribe("a")
	defer cancelA1()
	a2, cancelA2 := h.Subscribe("a")
	defer cancelA2()
	b, cancelB := h.Subscribe("b")
	defer cancelB()

	h.Notify(ctx, "a", stateAt(1))

	assert.Equal(t, int64(1), (<-a1).Version)
	assert.Equal(t, int64(1), (<-a2).Version)
	select {
	case s := <-b:
		t.Fatalf("subscriber of b received %+v", s)
	default:
	}
}

func TestHub_SlowSubscriberDropsOldest(t *testing.T) {
	h := NewHub(WithBuffer(2))
	ctx := context.Background()

	ch, cancel := h.Subscribe("a")
	defer cancel()

	for v := int64(1); v <= 5; v++ {
		h.Notify(ctx, "a", stateAt(v))
	}

	assert.Equal(t, int64(4), (<-ch).Version)
	assert.Equal(t, int64(5), (<-ch).Version)
	assert.Equal(t, int64(3), h.Dropped())
}

func TestHub_CancelClosesChannel(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("a")
	assert.Equal(t, 1, h.Subscribers("a"))

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers("a"))

	// Notifying with no subscribers is a no-op.
	h.Notify(context.Background(), "a", stateAt(1))
}

func TestHub_Close(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("a")

	h.Close()
	_, ok := <-ch
	assert.False(t, ok)
	cancel()

	late, _ := h.Subscribe("a")
	_, ok = <-late
	assert.False(t, ok, "subscriptions after Close are closed")

	h.Close()
}

func TestHub_StatesAreCopies(t *testing.T) {
	h := NewHub()
	a1, cancel1 := h.Subscribe("a")
	defer cancel1()
	a2, cancel2 := h.Subscribe("a")
	defer cancel2()

	s := canvas.CanvasState{Squares: []canvas.Square{{ID: "sq1"}}, Version: 1}
	h.Notify(context.Background(), "a", s)
	s.Squares[0].ID = "mutated"

	got1 := <-a1
	got1.Squares[0].ID = "changed"
	got2 := <-a2
	assert.Equal(t, "sq1", got2.Squares[0].ID)
}

func TestHub_ConcurrentNotifyAndCancel(t *testing.T) {
	h := NewHub(WithBuffer(1))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		ch, cancel := h.Subscribe("a")
		go func() {
			defer wg.Done()
			for v := int64(1); v <= 100; v++ {
				h.Notify(ctx, "a", stateAt(v))
			}
		}()
		go func() {
			defer wg.Done()
			<-ch
			cancel()
		}()
	}
	wg.Wait()
	require.Equal(t, 0, h.Subscribers("a"))
}

func TestHub_AsCoordinatorNotifier(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("canvas-1")
	defer cancel()

	var n coordinator.Notifier = h
	n.Notify(context.Background(), "canvas-1", stateAt(7))
	assert.Equal(t, int64(7), (<-ch).Version)
}
