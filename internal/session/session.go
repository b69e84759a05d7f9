// Package session implements the edit session: a mutable working copy of one
// calculation's breakdown, opened by a reviewer, mutated through engine
// actions and closed by a commit or a discard. At most one session exists
// per calculation at a time; the service layer enforces that.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/sengdao/income-review-go/internal/breakdown"
	"github.com/sengdao/income-review-go/internal/domain"
	"github.com/sengdao/income-review-go/internal/port"
)

// Phase is the lifecycle state of a session.
type Phase string

const (
	// PhaseEditing accepts mutations, commit and discard.
	PhaseEditing Phase = "EDITING"
	// PhaseCommitting means a recalculation request is in flight. No other
	// operation is accepted until it resolves.
	PhaseCommitting Phase = "COMMITTING"
	// PhaseClosed means the session ended (committed or discarded) and
	// accepts nothing.
	PhaseClosed Phase = "CLOSED"
)

// Session is one reviewer's working copy of a calculation. All methods are
// safe for concurrent use; mutations are serialized by an internal mutex.
type Session struct {
	mu    sync.Mutex
	id    string
	calc  *domain.Calculation
	state breakdown.State
	phase Phase
}

// Open snapshots a calculation into a new editing session. Only PENDING
// calculations are editable; anything else is rejected.
func Open(c *domain.Calculation) (*Session, error) {
	if c.Status != domain.StatusPending {
		return nil, &domain.ErrInvalidState{
			Message: "calculation " + c.Number + " is " + string(c.Status) + ", only PENDING calculations can be edited",
		}
	}
	return &Session{
		id:    uuid.New().String(),
		calc:  c,
		state: breakdown.NewState(c),
		phase: PhaseEditing,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// CalculationNumber returns the number of the calculation under edit.
func (s *Session) CalculationNumber() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calc.Number
}

// Phase returns the current lifecycle state.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Snapshot returns a deep copy of the working copy for rendering. The copy
// is detached; later mutations do not show through.
func (s *Session) Snapshot() breakdown.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Apply runs one engine action against the working copy. A failed action
// leaves the working copy unchanged. Only an editing session accepts
// mutations.
func (s *Session) Apply(a breakdown.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseEditing {
		return &domain.ErrInvalidState{Message: "session is " + string(s.phase) + ", no further edits are accepted"}
	}
	next, err := breakdown.Apply(s.state, a)
	if err != nil {
		return err
	}
	s.state = next
	return nil
}

// Commit submits the working copy as one recalculation request. On success
// the session closes and the server-confirmed calculation is returned. On
// failure the session stays in editing with the working copy intact, so the
// reviewer can retry or keep editing.
//
// The mutex is held across the network call: a commit in flight blocks
// concurrent mutations instead of interleaving with them.
func (s *Session) Commit(ctx context.Context, rec port.Recalculator) (*domain.Calculation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseEditing {
		return nil, &domain.ErrInvalidState{Message: "session is " + string(s.phase) + ", it cannot be committed"}
	}

	s.phase = PhaseCommitting
	req := s.state.Request(s.calc.BasicSalaryFromInterview)
	confirmed, err := rec.Recalculate(ctx, s.calc.Number, req)
	if err != nil {
		s.phase = PhaseEditing
		return nil, err
	}

	s.phase = PhaseClosed
	s.calc = confirmed
	return confirmed, nil
}

// Discard closes the session without submitting anything. Discarding an
// already-closed session is a no-op.
func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseEditing {
		s.phase = PhaseClosed
	}
}
