package session

import (
	"testing"
)

func TestStoreDefaultsToIdle(t *testing.T) {
	s := NewStore()
	if got := s.Phase(42); got != PhaseIdle {
		t.Errorf("Phase(42) = %v, want idle", got)
	}
	if s.InProgress(42) {
		t.Error("unknown user reported as in progress")
	}
}

func TestStoreProposalRefOnlyWithDraft(t *testing.T) {
	s := NewStore()

	// No entry yet: must be a no-op, not a panic.
	s.SetProposalRef(1, MessageRef{ChatID: 1, MessageID: 5})

	e := s.acquire(1)
	e.draft = &Draft{Summary: "x"}
	e.phase = PhaseDraftPending
	e.release()

	s.SetProposalRef(1, MessageRef{ChatID: 1, MessageID: 5})

	e = s.acquire(1)
	defer e.release()
	if e.draft.ProposalRef.MessageID != 5 {
		t.Errorf("ProposalRef = %+v, want message 5", e.draft.ProposalRef)
	}
}

func TestStoreSnapshotCounts(t *testing.T) {
	s := NewStore()

	e := s.acquire(1)
	e.draft = &Draft{Summary: "a"}
	e.release()

	e = s.acquire(2)
	e.flow = &AuthFlow{ID: "f"}
	e.release()

	e = s.acquire(3)
	e.release()

	st := s.Snapshot()
	if st.Users != 3 || st.Drafts != 1 || st.AuthFlows != 1 {
		t.Errorf("Snapshot = %+v, want 3 users, 1 draft, 1 flow", st)
	}
}

func TestBasePhaseFollowsDraft(t *testing.T) {
	e := &entry{}
	if got := e.basePhase(); got != PhaseIdle {
		t.Errorf("basePhase = %v, want idle", got)
	}
	e.draft = &Draft{}
	if got := e.basePhase(); got != PhaseDraftPending {
		t.Errorf("basePhase = %v, want draft_pending", got)
	}
}
