// Package memstore is an in-process implementation of the store contracts.
//
// A Store is an explicit object: construct one with New and hand it to the
// coordinator. Nothing is global, so tests and processes get independent
// lifetimes.
//
// Thread-safety: all methods are safe for concurrent use. Writes take the
// exclusive lock only for the map update; reads take the shared lock and
// return copies, so a reader never observes a half-applied append.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/canvaslog/internal/canvas"
)

// Store keeps events and snapshots in memory.
type Store struct {
	mu        sync.RWMutex
	events    map[string][]canvas.Event // per aggregate, ascending by version
	eventIDs  map[string]struct{}
	snapshots map[string]map[int64]canvas.Snapshot

	// failSnapshots makes Save fail; used to exercise best-effort snapshots.
	failSnapshots error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		events:    make(map[string][]canvas.Event),
		eventIDs:  make(map[string]struct{}),
		snapshots: make(map[string]map[int64]canvas.Snapshot),
	}
}

// Close is a no-op; it satisfies store.Store.
func (s *Store) Close() error {
	return nil
}

// FailSnapshots makes every subsequent Save return err (nil restores
// normal behavior). Used by tests of the best-effort snapshot path.
func (s *Store) FailSnapshots(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSnapshots = err
}

// Append inserts ev keeping the aggregate's slice ordered by version.
func (s *Store) Append(ctx context.Context, ev canvas.Event) error {
	if err := ctx.Err(); err != nil {
		return canvas.WrapStorageError("append event", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.events[ev.AggregateID]
	i := sort.Search(len(events), func(i int) bool { return events[i].Version >= ev.Version })
	if i < len(events) && events[i].Version == ev.Version {
		return canvas.NewDuplicateEvent(ev.AggregateID, ev.Version, nil)
	}
	if _, dup := s.eventIDs[ev.ID]; dup {
		return canvas.NewDuplicateEvent(ev.AggregateID, ev.Version, nil)
	}

	// Copy-on-write: readers holding the previous slice keep a stable view.
	next := make([]canvas.Event, 0, len(events)+1)
	next = append(next, events[:i]...)
	next = append(next, ev)
	next = append(next, events[i:]...)
	s.events[ev.AggregateID] = next
	s.eventIDs[ev.ID] = struct{}{}

	return nil
}

// List returns events with afterVersion < version <= untilVersion.
func (s *Store) List(ctx context.Context, aggregateID string, afterVersion, untilVersion int64) ([]canvas.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, canvas.WrapStorageError("list events", err)
	}

	s.mu.RLock()
	events := s.events[aggregateID]
	s.mu.RUnlock()

	lo := sort.Search(len(events), func(i int) bool { return events[i].Version > afterVersion })
	hi := sort.Search(len(events), func(i int) bool { return events[i].Version > untilVersion })
	if hi < lo {
		hi = lo
	}

	out := make([]canvas.Event, hi-lo)
	copy(out, events[lo:hi])
	return out, nil
}

// ListVersions returns the history projection of the aggregate.
func (s *Store) ListVersions(ctx context.Context, aggregateID string) ([]canvas.VersionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, canvas.WrapStorageError("list versions", err)
	}

	s.mu.RLock()
	events := s.events[aggregateID]
	s.mu.RUnlock()

	out := make([]canvas.VersionInfo, len(events))
	for i, ev := range events {
		out[i] = ev.VersionInfo()
	}
	return out, nil
}

// LatestVersion returns the greatest version of the aggregate, or 0.
func (s *Store) LatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, canvas.WrapStorageError("latest version", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[aggregateID]
	if len(events) == 0 {
		return 0, nil
	}
	return events[len(events)-1].Version, nil
}

// ListAggregates returns every aggregate with events, sorted.
func (s *Store) ListAggregates(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, canvas.WrapStorageError("list aggregates", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Save upserts a snapshot. The state is cloned on the way in.
func (s *Store) Save(ctx context.Context, snap canvas.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return canvas.WrapStorageError("save snapshot", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSnapshots != nil {
		return canvas.WrapStorageError("save snapshot", s.failSnapshots)
	}

	byVersion, ok := s.snapshots[snap.AggregateID]
	if !ok {
		byVersion = make(map[int64]canvas.Snapshot)
		s.snapshots[snap.AggregateID] = byVersion
	}
	snap.State = snap.State.Clone()
	byVersion[snap.Version] = snap
	return nil
}

// LatestAtOrBefore returns the newest snapshot with version <= maxVersion.
// The state is cloned on the way out.
func (s *Store) LatestAtOrBefore(ctx context.Context, aggregateID string, maxVersion int64) (canvas.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return canvas.Snapshot{}, false, canvas.WrapStorageError("latest snapshot", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best  canvas.Snapshot
		found bool
	)
	for v, snap := range s.snapshots[aggregateID] {
		if v <= maxVersion && (!found || v > best.Version) {
			best, found = snap, true
		}
	}
	if !found {
		return canvas.Snapshot{}, false, nil
	}
	best.State = best.State.Clone()
	return best, true, nil
}

// ListSnapshots returns the aggregate's snapshot versions, ascending.
func (s *Store) ListSnapshots(ctx context.Context, aggregateID string) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, canvas.WrapStorageError("list snapshots", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := make([]int64, 0, len(s.snapshots[aggregateID]))
	for v := range s.snapshots[aggregateID] {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}
