package store

import (
	"github.com/example/tv-watchlist/services/watchlist/internal/watchlist"
)

type phase int

const (
	phaseApplied phase = iota
	phaseCommitted
	phaseRolledBack
)

// mutation is one optimistic change: snapshot, apply, then exactly one of
// commit or rollback.
type mutation struct {
	s        *Store
	snapshot []watchlist.Item
	phase    phase
}

// begin snapshots the items and applies the optimistic value returned by
// plan, all under one lock so the check and the apply cannot interleave with
// another mutation. plan returning false means there is nothing to do.
func (s *Store) begin(plan func([]watchlist.Item, map[watchlist.ItemID]int) ([]watchlist.Item, bool)) (*mutation, bool) {
	s.mu.Lock()
	next, ok := plan(s.items, s.index)
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	m := &mutation{s: s, snapshot: s.items, phase: phaseApplied}
	s.replaceLocked(next)
	s.mu.Unlock()
	s.notify()
	return m, true
}

// commit replaces the optimistic value with what was persisted.
func (m *mutation) commit(persisted []watchlist.Item) {
	if m.phase != phaseApplied {
		return
	}
	m.phase = phaseCommitted
	m.s.mu.Lock()
	m.s.replaceLocked(persisted)
	m.s.mu.Unlock()
	m.s.notify()
}

// rollback restores the pre-optimistic snapshot.
func (m *mutation) rollback() {
	if m.phase != phaseApplied {
		return
	}
	m.phase = phaseRolledBack
	m.s.mu.Lock()
	m.s.replaceLocked(m.snapshot)
	m.s.mu.Unlock()
	m.s.notify()
}
