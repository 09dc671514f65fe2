// Package session owns evaluation session lifecycle: the phase state
// machine, serialized dispatch, TTL expiry and undo history.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"partnerscope/internal/candidates"
	"partnerscope/internal/cost"
	"partnerscope/internal/models"
)

// Phase is the session lifecycle state.
type Phase string

const (
	PhaseInit       Phase = "init"
	PhasePlanning   Phase = "planning"
	PhaseEvaluating Phase = "evaluating"
	PhaseComplete   Phase = "complete"
)

// Session is one user's evaluation workspace. All mutating access goes
// through the manager, which holds mu for the duration of an action.
type Session struct {
	ID         string
	Profile    models.StartupProfile
	Candidates *candidates.Store
	Strategy   *models.EvaluationStrategy
	Result     *models.EvaluationResult
	Phase      Phase
	History    []*models.EvaluationResult
	Ledger     *cost.Ledger

	// undoHandles pairs each history entry with the candidate store
	// snapshot taken at the same checkpoint.
	undoHandles []int64

	LastActive time.Time

	mu sync.Mutex
}

func newSession(profile models.StartupProfile, snapshotDepth int) *Session {
	return &Session{
		ID:         uuid.NewString(),
		Profile:    profile,
		Candidates: candidates.NewStoreWithDepth(snapshotDepth),
		Phase:      PhaseInit,
		Ledger:     cost.NewLedger(),
		LastActive: time.Now().UTC(),
	}
}

// Lock serializes mutating actions on the session. At most one dispatch runs
// at a time; later arrivals block on the per-session queue.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// checkpoint retains the outgoing result and a matching candidate store
// snapshot before a mutation replaces them, bounded to the configured depth.
func (s *Session) checkpoint(depth int) {
	if s.Result == nil {
		return
	}
	s.checkpointWith(s.Candidates.Snapshot(), depth)
}

// checkpointWith pairs the outgoing result with a snapshot handle the caller
// took earlier. Mutations that add candidates before replacing the result must
// snapshot the store first, so undo removes the additions too.
func (s *Session) checkpointWith(handle int64, depth int) {
	if s.Result == nil {
		return
	}
	s.History = append(s.History, s.Result.Clone())
	s.undoHandles = append(s.undoHandles, handle)
	if len(s.History) > depth {
		s.History = s.History[len(s.History)-depth:]
		s.undoHandles = s.undoHandles[len(s.undoHandles)-depth:]
	}
}

// undo restores the most recent checkpoint. Returns false at depth zero;
// callers treat that as a no-op rather than an error.
func (s *Session) undo() bool {
	if len(s.History) == 0 {
		return false
	}
	n := len(s.History) - 1
	s.Result = s.History[n]
	s.History = s.History[:n]
	s.Candidates.Rollback(s.undoHandles[n])
	s.undoHandles = s.undoHandles[:n]
	if s.Result != nil {
		s.Strategy = s.Result.Strategy
	}
	return true
}

// State is the serializable snapshot persisted by the Redis backend and
// returned by GET /session.
type State struct {
	ID         string                    `json:"id"`
	Profile    models.StartupProfile     `json:"profile"`
	Candidates []models.Candidate        `json:"candidates"`
	Excluded   map[string]string         `json:"excluded,omitempty"`
	Strategy   *models.EvaluationStrategy `json:"strategy,omitempty"`
	Result     *models.EvaluationResult  `json:"result,omitempty"`
	Phase      Phase                     `json:"phase"`
	Cost       cost.Summary              `json:"cost"`
	LastActive time.Time                 `json:"last_active"`
}

// Snapshot captures the session's externally visible state. Caller holds the
// session lock.
func (s *Session) Snapshot() *State {
	return &State{
		ID:         s.ID,
		Profile:    s.Profile,
		Candidates: s.Candidates.All(),
		Excluded:   s.Candidates.Excluded(),
		Strategy:   s.Strategy,
		Result:     s.Result,
		Phase:      s.Phase,
		Cost:       s.Ledger.Summary(),
		LastActive: s.LastActive,
	}
}
