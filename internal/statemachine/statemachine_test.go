package statemachine

import (
	"errors"
	"testing"

	"github.com/sourcejob/controlplane/internal/domain/candidate"
	"github.com/sourcejob/controlplane/internal/domain/posting"
)

func TestCandidateTransitionAllowed(t *testing.T) {
	if err := CandidateTransition(candidate.StateDiscovered, candidate.StateProcessed); err != nil {
		t.Fatalf("expected allowed transition, got %v", err)
	}
}

func TestCandidateTransitionIdentityAlwaysAllowed(t *testing.T) {
	if err := CandidateTransition(candidate.StatePublished, candidate.StatePublished); err != nil {
		t.Fatalf("identity transition should always be allowed, got %v", err)
	}
}

func TestCandidateTransitionDisallowed(t *testing.T) {
	err := CandidateTransition(candidate.StateDiscovered, candidate.StatePublished)
	if err == nil {
		t.Fatal("expected ConflictError for discovered -> published")
	}
	var conflictErr *ConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("expected *ConflictError, got %T", err)
	}
}

func TestPostingTransitionClosedOnlyReopensToArchived(t *testing.T) {
	if err := PostingTransition(posting.StatusClosed, posting.StatusActive); err == nil {
		t.Fatal("expected closed -> active to be rejected")
	}
	if err := PostingTransition(posting.StatusClosed, posting.StatusArchived); err != nil {
		t.Fatalf("expected closed -> archived to be allowed, got %v", err)
	}
}

func TestDerivePostingStatus(t *testing.T) {
	cases := []struct {
		state  candidate.State
		status posting.Status
		ok     bool
	}{
		{candidate.StatePublished, posting.StatusActive, true},
		{candidate.StateArchived, posting.StatusArchived, true},
		{candidate.StateClosed, posting.StatusClosed, true},
		{candidate.StateRejected, posting.StatusArchived, true},
		{candidate.StateDiscovered, "", false},
	}
	for _, c := range cases {
		status, ok := DerivePostingStatus(c.state)
		if ok != c.ok || status != c.status {
			t.Fatalf("DerivePostingStatus(%s) = (%s, %v), want (%s, %v)", c.state, status, ok, c.status, c.ok)
		}
	}
}

func TestDeriveCandidateState(t *testing.T) {
	cases := []struct {
		status posting.Status
		state  candidate.State
		ok     bool
	}{
		{posting.StatusActive, candidate.StatePublished, true},
		{posting.StatusStale, candidate.StatePublished, true},
		{posting.StatusArchived, candidate.StateArchived, true},
		{posting.StatusClosed, candidate.StateClosed, true},
	}
	for _, c := range cases {
		state, ok := DeriveCandidateState(c.status)
		if ok != c.ok || state != c.state {
			t.Fatalf("DeriveCandidateState(%s) = (%s, %v), want (%s, %v)", c.status, state, ok, c.state, c.ok)
		}
	}
}
