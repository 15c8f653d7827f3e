// Package statemachine implements the candidate/posting transition
// guards (§4.3) and the cross-entity projection mapping applied when
// one side's state change drives the other's.
package statemachine

import (
	"fmt"

	"github.com/sourcejob/controlplane/internal/domain/candidate"
	"github.com/sourcejob/controlplane/internal/domain/posting"
)

// ConflictError aborts the enclosing transaction when a caller
// requests a transition that the guard table does not allow.
type ConflictError struct {
	Entity string
	From   string
	To     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: transition %s -> %s is not allowed", e.Entity, e.From, e.To)
}

var candidateTransitions = map[candidate.State]map[candidate.State]bool{
	candidate.StateDiscovered: set(candidate.StateProcessed, candidate.StateNeedsReview, candidate.StateRejected, candidate.StateArchived),
	candidate.StateProcessed: set(candidate.StatePublishable, candidate.StateNeedsReview, candidate.StateRejected, candidate.StateArchived),
	candidate.StateNeedsReview: set(candidate.StatePublishable, candidate.StateRejected, candidate.StateArchived, candidate.StateProcessed),
	candidate.StatePublishable: set(candidate.StatePublished, candidate.StateRejected, candidate.StateNeedsReview, candidate.StateArchived),
	candidate.StatePublished: set(candidate.StateArchived, candidate.StateClosed),
	candidate.StateArchived: set(candidate.StatePublished, candidate.StateClosed),
	candidate.StateClosed:    set(candidate.StateArchived),
	candidate.StateRejected:  set(candidate.StateNeedsReview, candidate.StateArchived),
}

var postingTransitions = map[posting.Status]map[posting.Status]bool{
	posting.StatusActive:   set(posting.StatusStale, posting.StatusArchived, posting.StatusClosed),
	posting.StatusStale:    set(posting.StatusActive, posting.StatusArchived, posting.StatusClosed),
	posting.StatusArchived: set(posting.StatusActive, posting.StatusStale, posting.StatusClosed),
	posting.StatusClosed:   set(posting.StatusArchived),
}

func set[T comparable](vals ...T) map[T]bool {
	m := make(map[T]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}

// CandidateTransition reports whether `from -> to` is allowed. Identity
// transitions are always allowed.
func CandidateTransition(from, to candidate.State) error {
	if from == to {
		return nil
	}
	if candidateTransitions[from][to] {
		return nil
	}
	return &ConflictError{Entity: "candidate", From: string(from), To: string(to)}
}

// PostingTransition reports whether `from -> to` is allowed. Identity
// transitions are always allowed.
func PostingTransition(from, to posting.Status) error {
	if from == to {
		return nil
	}
	if postingTransitions[from][to] {
		return nil
	}
	return &ConflictError{Entity: "posting", From: string(from), To: string(to)}
}

// DerivePostingStatus maps a candidate state to the posting status it
// drives, per the §4.3 cross-entity table. ok is false when the
// candidate state does not drive a posting projection.
func DerivePostingStatus(state candidate.State) (status posting.Status, ok bool) {
	switch state {
	case candidate.StatePublished:
		return posting.StatusActive, true
	case candidate.StateArchived:
		return posting.StatusArchived, true
	case candidate.StateClosed:
		return posting.StatusClosed, true
	case candidate.StateRejected:
		return posting.StatusArchived, true
	default:
		return "", false
	}
}

// DeriveCandidateState maps a posting status to the candidate state it
// drives, per the §4.3 cross-entity table. ok is false when the
// posting status does not drive a candidate projection.
func DeriveCandidateState(status posting.Status) (state candidate.State, ok bool) {
	switch status {
	case posting.StatusActive, posting.StatusStale:
		return candidate.StatePublished, true
	case posting.StatusArchived:
		return candidate.StateArchived, true
	case posting.StatusClosed:
		return candidate.StateClosed, true
	default:
		return "", false
	}
}
