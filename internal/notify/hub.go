// Package notify fans out canvas states to subscribers of an aggregate.
//
// A Hub implements coordinator.Notifier. Each subscriber owns a buffered
// channel; when a subscriber falls behind, its oldest pending state is
// dropped so Notify never blocks the writer. Every state carries its
// version, so a subscriber that missed one can tell and re-read.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/canvaslog/internal/canvas"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

// Hub tracks subscribers per aggregate.
//
// Thread-safety: all methods are safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	closed bool

	buffer  int
	logger  *slog.Logger
	dropped atomic.Int64
}

type subscriber struct {
	ch chan canvas.CanvasState
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-subscriber capacity. Values below 1 are ignored.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n >= 1 {
			h.buffer = n
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: DefaultBuffer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers interest in aggregateID. The returned channel receives
// every state notified after this call until cancel is called or the hub is
// closed; then it is closed. cancel is safe to call more than once.
func (h *Hub) Subscribe(aggregateID string) (<-chan canvas.CanvasState, func()) {
	sub := &subscriber{ch: make(chan canvas.CanvasState, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	set, ok := h.subs[aggregateID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[aggregateID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { h.remove(aggregateID, sub) })
	}
	return sub.ch, cancel
}

func (h *Hub) remove(aggregateID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[aggregateID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(h.subs, aggregateID)
	}
}

// Notify delivers state to every subscriber of aggregateID without blocking.
func (h *Hub) Notify(_ context.Context, aggregateID string, state canvas.CanvasState) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[aggregateID] {
		if h.deliver(sub, state.Clone()) {
			continue
		}
		h.dropped.Add(1)
		h.logger.Debug("slow subscriber: dropped oldest state",
			"aggregate_id", aggregateID,
			"version", state.Version,
		)
	}
}

// deliver sends state, evicting the oldest pending state when the buffer is
// full. It reports false when something was evicted.
func (h *Hub) deliver(sub *subscriber, state canvas.CanvasState) bool {
	evicted := false
	for {
		select {
		case sub.ch <- state:
			return !evicted
		default:
		}
		select {
		case <-sub.ch:
			evicted = true
		default:
		}
	}
}

// Subscribers returns the number of subscribers of aggregateID.
func (h *Hub) Subscribers(aggregateID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[aggregateID])
}

// Dropped returns how many states were evicted from slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close closes every subscriber channel. Later subscriptions receive a
// closed channel and later notifications are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, set := range h.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(h.subs, id)
	}
}
