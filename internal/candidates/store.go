// Package candidates holds the per-session candidate set with exclusion and
// bounded undo snapshots.
package candidates

import (
	"sync/atomic"

	"partnerscope/internal/models"
)

const defaultSnapshotDepth = 5

// Store keeps an ordered active list plus excluded ids with reasons. It is
// owned by one session and relies on the session manager serializing access.
type Store struct {
	order    []string
	byID     map[string]models.Candidate
	excluded map[string]string

	snapshots     []snapshot
	snapshotDepth int
}

type snapshot struct {
	handle   int64
	order    []string
	byID     map[string]models.Candidate
	excluded map[string]string
}

var handleSeq atomic.Int64

func NewStore() *Store {
	return NewStoreWithDepth(defaultSnapshotDepth)
}

func NewStoreWithDepth(depth int) *Store {
	if depth <= 0 {
		depth = defaultSnapshotDepth
	}
	return &Store{
		byID:          make(map[string]models.Candidate),
		excluded:      make(map[string]string),
		snapshotDepth: depth,
	}
}

// Upsert inserts or replaces a candidate by id. Candidates without an id get
// the deterministic name-derived one so re-pasting merges.
func (s *Store) Upsert(c models.Candidate) models.Candidate {
	if c.ID == "" {
		c.ID = models.DeterministicID(c.Name)
	}
	if _, known := s.byID[c.ID]; !known {
		s.order = append(s.order, c.ID)
	}
	s.byID[c.ID] = c
	return c
}

// Get returns the candidate regardless of exclusion state.
func (s *Store) Get(id string) (models.Candidate, bool) {
	c, ok := s.byID[id]
	return c, ok
}

// FindByName resolves a display name to a candidate, normalized comparison.
func (s *Store) FindByName(name string) (models.Candidate, bool) {
	want := models.NormalizeName(name)
	for _, id := range s.order {
		if models.NormalizeName(s.byID[id].Name) == want {
			return s.byID[id], true
		}
	}
	return models.Candidate{}, false
}

// Exclude marks a candidate out of the active set with a reason.
func (s *Store) Exclude(id, reason string) bool {
	if _, ok := s.byID[id]; !ok {
		return false
	}
	s.excluded[id] = reason
	return true
}

// Restore returns an excluded candidate to the active set.
func (s *Store) Restore(id string) bool {
	if _, ok := s.excluded[id]; !ok {
		return false
	}
	delete(s.excluded, id)
	return true
}

// IsExcluded reports exclusion state and its reason.
func (s *Store) IsExcluded(id string) (string, bool) {
	reason, ok := s.excluded[id]
	return reason, ok
}

// Active returns the in-order list of non-excluded candidates.
func (s *Store) Active() []models.Candidate {
	out := make([]models.Candidate, 0, len(s.order))
	for _, id := range s.order {
		if _, gone := s.excluded[id]; gone {
			continue
		}
		out = append(out, s.byID[id])
	}
	return out
}

// All returns every candidate including excluded ones, in insertion order.
func (s *Store) All() []models.Candidate {
	out := make([]models.Candidate, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Excluded returns the excluded id->reason map (copy).
func (s *Store) Excluded() map[string]string {
	out := make(map[string]string, len(s.excluded))
	for k, v := range s.excluded {
		out[k] = v
	}
	return out
}

// Snapshot captures the current membership and exclusion state, returning an
// opaque handle. Only the last snapshotDepth handles stay valid; older ones
// are evicted FIFO.
func (s *Store) Snapshot() int64 {
	snap := snapshot{
		handle:   handleSeq.Add(1),
		order:    append([]string(nil), s.order...),
		byID:     make(map[string]models.Candidate, len(s.byID)),
		excluded: make(map[string]string, len(s.excluded)),
	}
	for k, v := range s.byID {
		snap.byID[k] = v
	}
	for k, v := range s.excluded {
		snap.excluded[k] = v
	}

	s.snapshots = append(s.snapshots, snap)
	if len(s.snapshots) > s.snapshotDepth {
		s.snapshots = s.snapshots[len(s.snapshots)-s.snapshotDepth:]
	}
	return snap.handle
}

// Rollback restores the state captured under handle. The handle and any newer
// snapshots are consumed. Returns false for unknown or evicted handles.
func (s *Store) Rollback(handle int64) bool {
	for i := len(s.snapshots) - 1; i >= 0; i-- {
		if s.snapshots[i].handle != handle {
			continue
		}
		snap := s.snapshots[i]
		s.order = append([]string(nil), snap.order...)
		s.byID = make(map[string]models.Candidate, len(snap.byID))
		for k, v := range snap.byID {
			s.byID[k] = v
		}
		s.excluded = make(map[string]string, len(snap.excluded))
		for k, v := range snap.excluded {
			s.excluded[k] = v
		}
		s.snapshots = s.snapshots[:i]
		return true
	}
	return false
}

// LastSnapshot returns the most recent live handle, zero if none.
func (s *Store) LastSnapshot() int64 {
	if len(s.snapshots) == 0 {
		return 0
	}
	return s.snapshots[len(s.snapshots)-1].handle
}

// SnapshotCount reports how many undo levels are currently available.
func (s *Store) SnapshotCount() int {
	return len(s.snapshots)
}
