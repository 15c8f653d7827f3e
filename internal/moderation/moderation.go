// Package moderation implements the Moderation Service (§4.8): the
// four human-gated operations that move a candidate or posting through
// its state machine outside the automatic extract/dedupe/trust path.
package moderation

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sourcejob/controlplane/internal/apperr"
	"github.com/sourcejob/controlplane/internal/domain/candidate"
	"github.com/sourcejob/controlplane/internal/domain/merge"
	"github.com/sourcejob/controlplane/internal/domain/posting"
	"github.com/sourcejob/controlplane/internal/domain/provenance"
	"github.com/sourcejob/controlplane/internal/repo/postgres"
	"github.com/sourcejob/controlplane/internal/statemachine"
)

type Engine struct {
	pool       *pgxpool.Pool
	candidates *postgres.CandidatesRepo
	postings   *postgres.PostingsRepo
	merges     *postgres.MergeRepo
	provenance *postgres.ProvenanceRepo
}

func New(pool *pgxpool.Pool, candidates *postgres.CandidatesRepo, postings *postgres.PostingsRepo,
	merges *postgres.MergeRepo, prov *postgres.ProvenanceRepo) *Engine {
	return &Engine{pool: pool, candidates: candidates, postings: postings, merges: merges, provenance: prov}
}

// UpdateCandidateState implements §4.8's update_candidate_state: a
// guarded transition, refusing a move to published without a linked
// posting, cascading the derived posting status through its own guard.
func (e *Engine) UpdateCandidateState(ctx context.Context, candidateID string, toState candidate.State, actorUserID string, reason *string) (candidate.Candidate, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return candidate.Candidate{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c, err := e.candidates.GetByIDTx(ctx, tx, candidateID)
	if err != nil {
		if errors.Is(err, candidate.ErrNotFound) {
			return candidate.Candidate{}, apperr.NotFound("candidate_not_found", "candidate does not exist")
		}
		return candidate.Candidate{}, err
	}

	if err := statemachine.CandidateTransition(c.State, toState); err != nil {
		return candidate.Candidate{}, apperr.Conflict("invalid_candidate_transition", err.Error())
	}

	var linkedPosting *posting.Posting
	p, pErr := e.postings.GetByCandidateIDTx(ctx, tx, candidateID)
	switch {
	case pErr == nil:
		linkedPosting = &p
	case errors.Is(pErr, posting.ErrNotFound):
		linkedPosting = nil
	default:
		return candidate.Candidate{}, pErr
	}

	if toState == candidate.StatePublished && linkedPosting == nil {
		return candidate.Candidate{}, apperr.Conflict("candidate_has_no_posting", "cannot publish a candidate with no linked posting")
	}

	if derived, ok := statemachine.DerivePostingStatus(toState); ok && linkedPosting != nil {
		if err := statemachine.PostingTransition(linkedPosting.Status, derived); err != nil {
			return candidate.Candidate{}, apperr.Conflict("invalid_posting_transition", err.Error())
		}
	}

	if err := e.candidates.UpdateStateTx(ctx, tx, candidateID, toState); err != nil {
		return candidate.Candidate{}, err
	}
	if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
		EntityType: "candidate",
		EntityID:   &candidateID,
		EventType:  provenance.EventStateChanged,
		ActorType:  provenance.ActorHuman,
		ActorID:    &actorUserID,
		Payload:    map[string]any{"from": c.State, "to": toState, "reason": reason},
	}); err != nil {
		return candidate.Candidate{}, err
	}

	if derived, ok := statemachine.DerivePostingStatus(toState); ok && linkedPosting != nil {
		if err := e.postings.UpdateStatusTx(ctx, tx, linkedPosting.ID, derived, derived == posting.StatusActive); err != nil {
			return candidate.Candidate{}, err
		}
		if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
			EntityType: "posting",
			EntityID:   &linkedPosting.ID,
			EventType:  provenance.EventStateChanged,
			ActorType:  provenance.ActorHuman,
			ActorID:    &actorUserID,
			Payload:    map[string]any{"from": linkedPosting.Status, "to": derived, "reason": reason},
		}); err != nil {
			return candidate.Candidate{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return candidate.Candidate{}, err
	}
	c.State = toState
	return c, nil
}

// OverrideCandidateState implements §4.8's override_candidate_state: the
// administrative escape hatch that skips the candidate transition
// guard but still refuses publishing without a linked posting.
func (e *Engine) OverrideCandidateState(ctx context.Context, candidateID string, toState candidate.State, toPostingStatus *posting.Status, actorUserID string, reason *string) (candidate.Candidate, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return candidate.Candidate{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c, err := e.candidates.GetByIDTx(ctx, tx, candidateID)
	if err != nil {
		if errors.Is(err, candidate.ErrNotFound) {
			return candidate.Candidate{}, apperr.NotFound("candidate_not_found", "candidate does not exist")
		}
		return candidate.Candidate{}, err
	}

	var linkedPosting *posting.Posting
	p, pErr := e.postings.GetByCandidateIDTx(ctx, tx, candidateID)
	switch {
	case pErr == nil:
		linkedPosting = &p
	case errors.Is(pErr, posting.ErrNotFound):
		linkedPosting = nil
	default:
		return candidate.Candidate{}, pErr
	}

	if toState == candidate.StatePublished && linkedPosting == nil {
		return candidate.Candidate{}, apperr.Conflict("candidate_has_no_posting", "cannot publish a candidate with no linked posting")
	}

	if err := e.candidates.UpdateStateTx(ctx, tx, candidateID, toState); err != nil {
		return candidate.Candidate{}, err
	}
	if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
		EntityType: "candidate",
		EntityID:   &candidateID,
		EventType:  provenance.EventStateOverridden,
		ActorType:  provenance.ActorHuman,
		ActorID:    &actorUserID,
		Payload:    map[string]any{"from": c.State, "to": toState, "reason": reason},
	}); err != nil {
		return candidate.Candidate{}, err
	}

	if toPostingStatus != nil && linkedPosting != nil {
		if err := e.postings.UpdateStatusTx(ctx, tx, linkedPosting.ID, *toPostingStatus, *toPostingStatus == posting.StatusActive); err != nil {
			return candidate.Candidate{}, err
		}
		if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
			EntityType: "posting",
			EntityID:   &linkedPosting.ID,
			EventType:  provenance.EventStateOverridden,
			ActorType:  provenance.ActorHuman,
			ActorID:    &actorUserID,
			Payload:    map[string]any{"from": linkedPosting.Status, "to": *toPostingStatus, "reason": reason},
		}); err != nil {
			return candidate.Candidate{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return candidate.Candidate{}, err
	}
	c.State = toState
	return c, nil
}

// MergeCandidates implements §4.8's merge_candidates: refuses
// self-merge, locks both rows ascending-id to stay deadlock-safe
// regardless of argument order, refuses when both sides already carry
// a distinct posting, otherwise reparents the secondary's posting onto
// the primary (only when the primary has none), copies links, and
// archives the secondary.
func (e *Engine) MergeCandidates(ctx context.Context, primaryID, secondaryID, actorUserID string, reason *string) (candidate.Candidate, error) {
	if primaryID == secondaryID {
		return candidate.Candidate{}, apperr.Validation("self_merge_refused", "primary and secondary candidate must differ")
	}

	ordered := []string{primaryID, secondaryID}
	if secondaryID < primaryID {
		ordered = []string{secondaryID, primaryID}
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return candidate.Candidate{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := e.candidates.GetManyForUpdateTx(ctx, tx, ordered)
	if err != nil {
		if errors.Is(err, candidate.ErrNotFound) {
			return candidate.Candidate{}, apperr.NotFound("candidate_not_found", "primary or secondary candidate does not exist")
		}
		return candidate.Candidate{}, err
	}
	primary, secondary := rows[primaryID], rows[secondaryID]

	var primaryPosting, secondaryPosting *posting.Posting
	if p, err := e.postings.GetByCandidateIDTx(ctx, tx, primaryID); err == nil {
		primaryPosting = &p
	} else if !errors.Is(err, posting.ErrNotFound) {
		return candidate.Candidate{}, err
	}
	if p, err := e.postings.GetByCandidateIDTx(ctx, tx, secondaryID); err == nil {
		secondaryPosting = &p
	} else if !errors.Is(err, posting.ErrNotFound) {
		return candidate.Candidate{}, err
	}

	if primaryPosting != nil && secondaryPosting != nil && primaryPosting.ID != secondaryPosting.ID {
		return candidate.Candidate{}, apperr.Conflict("merge_conflicting_postings", "both candidates already have distinct postings")
	}

	reassigned := false
	if primaryPosting == nil && secondaryPosting != nil {
		if err := e.postings.ReparentTx(ctx, tx, secondaryPosting.ID, primaryID); err != nil {
			return candidate.Candidate{}, err
		}
		reassigned = true
	}

	if err := e.candidates.CopyLinksTx(ctx, tx, primaryID, secondaryID); err != nil {
		return candidate.Candidate{}, err
	}

	if err := statemachine.CandidateTransition(secondary.State, candidate.StateArchived); err != nil {
		return candidate.Candidate{}, apperr.Conflict("invalid_candidate_transition", err.Error())
	}
	if err := e.candidates.UpdateStateTx(ctx, tx, secondaryID, candidate.StateArchived); err != nil {
		return candidate.Candidate{}, err
	}

	if err := e.merges.InsertTx(ctx, tx, merge.New(merge.CreateRequest{
		PrimaryID:   primaryID,
		SecondaryID: secondaryID,
		Decision:    merge.DecisionManualMerged,
		DecidedBy:   actorUserID,
		Rationale:   reason,
	})); err != nil {
		return candidate.Candidate{}, err
	}

	if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
		EntityType: "candidate",
		EntityID:   &primaryID,
		EventType:  provenance.EventMergeApplied,
		ActorType:  provenance.ActorHuman,
		ActorID:    &actorUserID,
		Payload:    map[string]any{"secondary_candidate_id": secondaryID, "reason": reason},
	}); err != nil {
		return candidate.Candidate{}, err
	}
	if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
		EntityType: "candidate",
		EntityID:   &secondaryID,
		EventType:  provenance.EventMergedAway,
		ActorType:  provenance.ActorHuman,
		ActorID:    &actorUserID,
		Payload:    map[string]any{"primary_candidate_id": primaryID},
	}); err != nil {
		return candidate.Candidate{}, err
	}
	if reassigned {
		if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
			EntityType: "posting",
			EntityID:   &secondaryPosting.ID,
			EventType:  provenance.EventCandidateReassigned,
			ActorType:  provenance.ActorHuman,
			ActorID:    &actorUserID,
			Payload:    map[string]any{"from_candidate_id": secondaryID, "to_candidate_id": primaryID},
		}); err != nil {
			return candidate.Candidate{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return candidate.Candidate{}, err
	}
	return primary, nil
}

// UpdatePostingStatus implements §4.8's update_posting_status: both the
// posting transition and its derived candidate transition must
// validate before either is applied.
func (e *Engine) UpdatePostingStatus(ctx context.Context, postingID string, toStatus posting.Status, actorUserID string, reason *string) (posting.Posting, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return posting.Posting{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := e.postings.GetByIDTx(ctx, tx, postingID)
	if err != nil {
		if errors.Is(err, posting.ErrNotFound) {
			return posting.Posting{}, apperr.NotFound("posting_not_found", "posting does not exist")
		}
		return posting.Posting{}, err
	}

	if err := statemachine.PostingTransition(p.Status, toStatus); err != nil {
		return posting.Posting{}, apperr.Conflict("invalid_posting_transition", err.Error())
	}

	var linkedCandidate *candidate.Candidate
	derivedState, derives := statemachine.DeriveCandidateState(toStatus)
	if derives && p.CandidateID != nil {
		c, err := e.candidates.GetByIDTx(ctx, tx, *p.CandidateID)
		if err != nil {
			if errors.Is(err, candidate.ErrNotFound) {
				return posting.Posting{}, apperr.NotFound("candidate_not_found", "linked candidate does not exist")
			}
			return posting.Posting{}, err
		}
		if err := statemachine.CandidateTransition(c.State, derivedState); err != nil {
			return posting.Posting{}, apperr.Conflict("invalid_candidate_transition", err.Error())
		}
		linkedCandidate = &c
	}

	if err := e.postings.UpdateStatusTx(ctx, tx, postingID, toStatus, toStatus == posting.StatusActive); err != nil {
		return posting.Posting{}, err
	}
	if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
		EntityType: "posting",
		EntityID:   &postingID,
		EventType:  provenance.EventStateChanged,
		ActorType:  provenance.ActorHuman,
		ActorID:    &actorUserID,
		Payload:    map[string]any{"from": p.Status, "to": toStatus, "reason": reason},
	}); err != nil {
		return posting.Posting{}, err
	}

	if linkedCandidate != nil {
		if err := e.candidates.UpdateStateTx(ctx, tx, linkedCandidate.ID, derivedState); err != nil {
			return posting.Posting{}, err
		}
		if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
			EntityType: "candidate",
			EntityID:   &linkedCandidate.ID,
			EventType:  provenance.EventStateChanged,
			ActorType:  provenance.ActorHuman,
			ActorID:    &actorUserID,
			Payload:    map[string]any{"from": linkedCandidate.State, "to": derivedState, "reason": reason},
		}); err != nil {
			return posting.Posting{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return posting.Posting{}, err
	}
	p.Status = toStatus
	return p, nil
}
