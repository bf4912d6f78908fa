package session

import "sync"

// Store keeps per-user dialogue state in memory. Every user has at most one
// entry; the entry mutex serializes all handling for that user, so two
// updates from the same user can never interleave while users remain fully
// independent.
type Store struct {
	mu    sync.Mutex
	users map[int64]*entry
}

type entry struct {
	mu     sync.Mutex
	phase  Phase
	draft  *Draft
	flow   *AuthFlow
	listed []EventItem // last overview shown, backing the drill-down buttons
}

// NewStore returns an empty state store.
func NewStore() *Store {
	return &Store{users: make(map[int64]*entry)}
}

// acquire returns the user's entry with its mutex held. The caller must
// call release when done.
func (s *Store) acquire(userID int64) *entry {
	s.mu.Lock()
	e, ok := s.users[userID]
	if !ok {
		e = &entry{phase: PhaseIdle}
		s.users[userID] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	return e
}

func (e *entry) release() {
	e.mu.Unlock()
}

// basePhase is the phase a user falls back to after a one-shot continuation
// is consumed: a still-pending draft keeps the proposal alive, otherwise idle.
func (e *entry) basePhase() Phase {
	if e.draft != nil {
		return PhaseDraftPending
	}
	return PhaseIdle
}

// Phase reports the user's current phase without holding the entry across
// the call. Safe for routing checks; not a synchronization point.
func (s *Store) Phase(userID int64) Phase {
	s.mu.Lock()
	e, ok := s.users[userID]
	s.mu.Unlock()
	if !ok {
		return PhaseIdle
	}
	e.mu.Lock()
	p := e.phase
	e.mu.Unlock()
	return p
}

// InProgress reports whether the user has a pending continuation or draft,
// meaning the next free-text message belongs to the dialogue.
func (s *Store) InProgress(userID int64) bool {
	return s.Phase(userID) != PhaseIdle
}

// SetProposalRef records the chat message that carries the proposal keyboard
// for the user's pending draft. Called by the adapter once the message is
// actually sent and its ID is known.
func (s *Store) SetProposalRef(userID int64, ref MessageRef) {
	s.mu.Lock()
	e, ok := s.users[userID]
	s.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	if e.draft != nil {
		e.draft.ProposalRef = ref
	}
	e.mu.Unlock()
}

// Stats summarizes store occupancy for diagnostics.
type Stats struct {
	Users     int
	Drafts    int
	AuthFlows int
}

// Snapshot counts live entries by kind of pending state.
func (s *Store) Snapshot() Stats {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.users))
	for _, e := range s.users {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	var st Stats
	st.Users = len(entries)
	for _, e := range entries {
		e.mu.Lock()
		if e.draft != nil {
			st.Drafts++
		}
		if e.flow != nil {
			st.AuthFlows++
		}
		e.mu.Unlock()
	}
	return st
}
