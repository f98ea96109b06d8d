package coordinator

import (
	"context"
	"sync"
)

// lanes hands out one exclusive lane per aggregate.
//
// A lane is a one-slot semaphore so a waiting writer can give up when its
// context ends. Entries are reference counted and removed when the last
// holder or waiter leaves, so the map only holds aggregates with writes in
// flight.
type lanes struct {
	mu sync.Mutex
	m  map[string]*lane
}

type lane struct {
	slot chan struct{}
	refs int
}

func newLanes() *lanes {
	return &lanes{m: make(map[string]*lane)}
}

// acquire blocks until the aggregate's lane is free or ctx is done.
// On success the returned release func must be called exactly once.
func (l *lanes) acquire(ctx context.Context, aggregateID string) (release func(), err error) {
	l.mu.Lock()
	ln, ok := l.m[aggregateID]
	if !ok {
		ln = &lane{slot: make(chan struct{}, 1)}
		l.m[aggregateID] = ln
	}
	ln.refs++
	l.mu.Unlock()

	select {
	case ln.slot <- struct{}{}:
	case <-ctx.Done():
		l.leave(aggregateID, ln)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-ln.slot
			l.leave(aggregateID, ln)
		})
	}, nil
}

func (l *lanes) leave(aggregateID string, ln *lane) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ln.refs--
	if ln.refs == 0 {
		delete(l.m, aggregateID)
	}
}

// size returns the number of lanes in use. Used for testing.
func (l *lanes) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
