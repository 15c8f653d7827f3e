// Package projection implements the Projection Engine (§4.7): the
// machinery that turns a successful extract job into a materialized
// posting_candidate, runs it through the Dedupe Scorer and the
// Trust-Policy Resolver, and upserts the public Posting when the
// routing allows it. It is invoked from inside internal/jobqueue's
// submit_result, inline in the same transaction as the job resolution.
package projection

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sourcejob/controlplane/internal/dedupe"
	"github.com/sourcejob/controlplane/internal/domain/candidate"
	"github.com/sourcejob/controlplane/internal/domain/discovery"
	"github.com/sourcejob/controlplane/internal/domain/merge"
	"github.com/sourcejob/controlplane/internal/domain/posting"
	"github.com/sourcejob/controlplane/internal/domain/provenance"
	"github.com/sourcejob/controlplane/internal/jobs"
	"github.com/sourcejob/controlplane/internal/repo/postgres"
	"github.com/sourcejob/controlplane/internal/statemachine"
	"github.com/sourcejob/controlplane/internal/trust"
)

const dedupeMatchLimit = 25

type Engine struct {
	candidates    *postgres.CandidatesRepo
	postings      *postgres.PostingsRepo
	merges        *postgres.MergeRepo
	evidence      *postgres.EvidenceRepo
	trustPolicies *postgres.TrustPolicyRepo
	modules       *postgres.ModulesRepo
	provenance    *postgres.ProvenanceRepo
}

func New(candidates *postgres.CandidatesRepo, postings *postgres.PostingsRepo, merges *postgres.MergeRepo,
	evidence *postgres.EvidenceRepo, trustPolicies *postgres.TrustPolicyRepo, modules *postgres.ModulesRepo,
	prov *postgres.ProvenanceRepo) *Engine {
	return &Engine{
		candidates:    candidates,
		postings:      postings,
		merges:        merges,
		evidence:      evidence,
		trustPolicies: trustPolicies,
		modules:       modules,
		provenance:    prov,
	}
}

// Input is what internal/jobqueue hands the engine after decoding a
// done extract job's result_json (§4.7 "Inputs: the claimed job, the
// result_json, the discovery row").
type Input struct {
	Discovery discovery.Discovery
	Result    jobs.ExtractResult
}

// Result reports what the engine actually did, for the job-queue's own
// audit payload.
type Result struct {
	Candidate     candidate.Candidate
	Posting       *posting.Posting
	CanProject    bool
	MergeDecision dedupe.Decision
	PublishReason string
}

// Project runs §4.7 steps 1-11 inside the caller's transaction.
func (e *Engine) Project(ctx context.Context, tx pgx.Tx, in Input) (Result, error) {
	d := in.Discovery
	payload := in.Result.ResolvePosting()
	hasSignal := in.Result.HasProjectionSignal()

	title := firstNonEmpty(valueOr(payload.Title), valueOr(d.TitleHint))
	orgMetaHint, _ := d.MetadataString("organization_name")
	organizationName := firstNonEmpty(valueOr(payload.OrganizationName), orgMetaHint)
	canonicalURL := firstNonEmpty(valueOr(payload.CanonicalURL), valueOr(payload.URL), valueOr(d.URL), valueOr(d.NormalizedURL))
	normalizedURL := firstNonEmpty(valueOr(payload.NormalizedURL), valueOr(d.NormalizedURL), canonicalURL)
	canonicalHash := firstNonEmpty(valueOr(payload.CanonicalHash), valueOr(d.CanonicalHash))
	applicationURL := valueOr(payload.ApplicationURL)

	canProject := hasSignal && title != "" && organizationName != "" && canonicalURL != "" && normalizedURL != "" && canonicalHash != ""

	sourceKeyHint := valueOr(in.Result.SourceKey)
	originModule, err := e.modules.GetByID(ctx, d.OriginModuleID)
	if err != nil {
		return Result{}, err
	}

	policy, err := trust.Resolve(ctx, e.trustPolicies, sourceKeyHint, d.OriginModuleID, originModule.TrustLevel)
	if err != nil {
		return Result{}, err
	}
	decision := trust.DecidePublish(trust.PublishDecisionInput{
		CanProjectPosting: canProject,
		Policy:            policy,
		DedupeConfidence:  in.Result.DedupeConfidence,
		RiskFlags:         in.Result.RiskFlags,
	})

	initialState := decision.CandidateState
	if !canProject {
		initialState = candidate.StateProcessed
	}

	c := candidate.New(candidate.CreateRequest{
		State:            initialState,
		DedupeBucketKey:  nonEmptyPtr(canonicalHash),
		DedupeConfidence: in.Result.DedupeConfidence,
		ExtractedFields:  extractedFields(in.Result),
		RiskFlags:        in.Result.RiskFlags,
	})
	if err := e.candidates.InsertTx(ctx, tx, c); err != nil {
		return Result{}, err
	}
	if err := e.candidates.LinkDiscoveryTx(ctx, tx, c.ID, d.ID); err != nil {
		return Result{}, err
	}
	discoveryEvidence, err := e.evidence.ListByDiscoveryTx(ctx, tx, d.ID)
	if err != nil {
		return Result{}, err
	}
	for _, ev := range discoveryEvidence {
		if err := e.evidence.LinkCandidateTx(ctx, tx, c.ID, ev.ID); err != nil {
			return Result{}, err
		}
	}
	if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
		EntityType: "candidate",
		EntityID:   &c.ID,
		EventType:  provenance.EventCandidateMaterialized,
		ActorType:  provenance.ActorMachine,
		ActorID:    &d.OriginModuleID,
		Payload:    map[string]any{"discovery_id": d.ID, "state": c.State},
	}); err != nil {
		return Result{}, err
	}

	mergeResult := dedupe.PolicyResult{Decision: dedupe.DecisionNone}
	if canProject {
		rows, err := e.candidates.FindMatchingForDedupeTx(ctx, tx, canonicalHash, normalizedURL, canonicalURL, applicationURL, dedupeMatchLimit)
		if err != nil {
			return Result{}, err
		}
		incoming := dedupe.CandidateSnapshot{
			CandidateID:      c.ID,
			CanonicalHash:    canonicalHash,
			NormalizedURL:    normalizedURL,
			CanonicalURL:     canonicalURL,
			ApplicationURL:   applicationURL,
			Title:            title,
			OrganizationName: organizationName,
			Tags:             payload.Tags,
			Areas:            payload.Areas,
			DescriptionText:  valueOr(payload.DescriptionText),
		}
		existing := make([]dedupe.CandidateSnapshot, 0, len(rows))
		for _, row := range rows {
			existing = append(existing, dedupe.CandidateSnapshot{
				CandidateID:      row.CandidateID,
				HasPosting:       row.PostingID != nil,
				CanonicalHash:    valueOr(row.CanonicalHash),
				NormalizedURL:    valueOr(row.NormalizedURL),
				CanonicalURL:     valueOr(row.CanonicalURL),
				ApplicationURL:   valueOr(row.ApplicationURL),
				Title:            valueOr(row.Title),
				OrganizationName: valueOr(row.OrganizationName),
				Tags:             row.Tags,
				Areas:            row.Areas,
				DescriptionText:  valueOr(row.DescriptionText),
			})
		}
		mergeResult = dedupe.EvaluateMergePolicy(incoming, existing, dedupe.PolicyParams{})
	}

	finalState := initialState
	var postingRecord *posting.Posting
	skippedByMerge := false

	switch mergeResult.Decision {
	case dedupe.DecisionAutoMerged:
		primaryID := mergeResult.Best.CandidateID
		primaryPosting, err := e.postings.GetByCandidateIDTx(ctx, tx, primaryID)
		if err != nil && !errors.Is(err, posting.ErrNotFound) {
			return Result{}, err
		}
		if err != nil {
			// best scored has_posting=true but the row is gone; the dedupe
			// scorer's signal is now stale. Fall back to review instead of
			// merging onto nothing.
			mergeResult.Decision = dedupe.DecisionNeedsReview
			mergeResult.RiskFlags = append(mergeResult.RiskFlags, "conflict_auto_merge_blocked")
			if err := e.recordMergeDecision(ctx, tx, primaryID, c.ID, merge.DecisionNeedsReview, mergeResult.Best.Confidence); err != nil {
				return Result{}, err
			}
			if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
				EntityType: "candidate",
				EntityID:   &c.ID,
				EventType:  provenance.EventMergeDecisionRecorded,
				ActorType:  provenance.ActorMachine,
				ActorID:    &d.OriginModuleID,
				Payload:    map[string]any{"primary_candidate_id": primaryID, "decision": merge.DecisionNeedsReview, "confidence": mergeResult.Best.Confidence, "risk_flags": mergeResult.RiskFlags},
			}); err != nil {
				return Result{}, err
			}
			finalState = candidate.StateNeedsReview
			break
		}

		if err := e.recordMergeDecision(ctx, tx, primaryID, c.ID, merge.DecisionAutoMerged, mergeResult.Best.Confidence); err != nil {
			return Result{}, err
		}
		if err := e.candidates.CopyLinksTx(ctx, tx, primaryID, c.ID); err != nil {
			return Result{}, err
		}
		finalState = candidate.StateArchived
		if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
			EntityType: "candidate",
			EntityID:   &primaryID,
			EventType:  provenance.EventMergeApplied,
			ActorType:  provenance.ActorMachine,
			ActorID:    &d.OriginModuleID,
			Payload:    map[string]any{"secondary_candidate_id": c.ID, "confidence": mergeResult.Best.Confidence},
		}); err != nil {
			return Result{}, err
		}
		if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
			EntityType: "candidate",
			EntityID:   &c.ID,
			EventType:  provenance.EventMergedAway,
			ActorType:  provenance.ActorMachine,
			ActorID:    &d.OriginModuleID,
			Payload:    map[string]any{"primary_candidate_id": primaryID},
		}); err != nil {
			return Result{}, err
		}

		updated := posting.New(posting.UpsertRequest{
			CandidateID:      &primaryID,
			Title:            title,
			CanonicalURL:     canonicalURL,
			NormalizedURL:    normalizedURL,
			CanonicalHash:    primaryPosting.CanonicalHash,
			OrganizationName: organizationName,
			Sector:           payload.Sector,
			DegreeLevel:      payload.DegreeLevel,
			OpportunityKind:  payload.OpportunityKind,
			Country:          payload.Country,
			Region:           payload.Region,
			City:             payload.City,
			Remote:           boolOr(payload.Remote, primaryPosting.Remote),
			Tags:             coalesceStrings(payload.Tags, primaryPosting.Tags),
			Areas:            coalesceStrings(payload.Areas, primaryPosting.Areas),
			DescriptionText:  payload.DescriptionText,
			ApplicationURL:   payload.ApplicationURL,
			Deadline:         parseDeadline(payload.Deadline),
			SourceRefs:       append(append([]posting.SourceRef{}, primaryPosting.SourceRefs...), posting.SourceRef{ModuleID: d.OriginModuleID, SourceKey: sourceKeyHint, At: time.Now().UTC()}),
			Status:           primaryPosting.Status,
		})
		stored, err := e.postings.UpsertTx(ctx, tx, updated)
		if err != nil {
			return Result{}, err
		}
		postingRecord = &stored
		if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
			EntityType: "posting",
			EntityID:   &stored.ID,
			EventType:  provenance.EventPostingProjected,
			ActorType:  provenance.ActorMachine,
			ActorID:    &d.OriginModuleID,
			Payload:    map[string]any{"candidate_id": primaryID, "merged_from": c.ID},
		}); err != nil {
			return Result{}, err
		}
		// the secondary's own posting row is handled above via the
		// primary's upsert; the generic step-10 projection below must
		// not also insert one for it.
		skippedByMerge = true

	case dedupe.DecisionNeedsReview, dedupe.DecisionRejected:
		if mergeResult.Best != nil {
			decidedAs := merge.DecisionNeedsReview
			if mergeResult.Decision == dedupe.DecisionRejected {
				decidedAs = merge.DecisionRejected
			}
			if err := e.recordMergeDecision(ctx, tx, mergeResult.Best.CandidateID, c.ID, decidedAs, mergeResult.Best.Confidence); err != nil {
				return Result{}, err
			}
			if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
				EntityType: "candidate",
				EntityID:   &c.ID,
				EventType:  provenance.EventMergeDecisionRecorded,
				ActorType:  provenance.ActorMachine,
				ActorID:    &d.OriginModuleID,
				Payload:    map[string]any{"primary_candidate_id": mergeResult.Best.CandidateID, "decision": decidedAs, "confidence": mergeResult.Best.Confidence, "risk_flags": mergeResult.RiskFlags},
			}); err != nil {
				return Result{}, err
			}
		}
		finalState = candidate.StateNeedsReview

	case dedupe.DecisionNone:
		// proceed with the trust decision unchanged.
	}

	if finalState != initialState {
		if err := statemachine.CandidateTransition(initialState, finalState); err != nil {
			return Result{}, err
		}
		if err := e.candidates.UpdateStateTx(ctx, tx, c.ID, finalState); err != nil {
			return Result{}, err
		}
	}
	if err := e.candidates.UpdateDedupeTx(ctx, tx, c.ID, nonEmptyPtr(canonicalHash), in.Result.DedupeConfidence, append(append([]string{}, in.Result.RiskFlags...), mergeResult.RiskFlags...)); err != nil {
		return Result{}, err
	}

	if canProject && !skippedByMerge {
		// §4.7 step 10 gates only on can_project_posting/skip_posting_projection;
		// the trust decision's status still applies when the merge routing
		// left it alone, but a needs_review/rejected merge decision always
		// archives the posting regardless of what the trust policy decided.
		postingStatus := decision.PostingStatus
		if mergeResult.Decision == dedupe.DecisionNeedsReview || mergeResult.Decision == dedupe.DecisionRejected {
			postingStatus = posting.StatusArchived
		}
		p := posting.New(posting.UpsertRequest{
			CandidateID:      &c.ID,
			Title:            title,
			CanonicalURL:     canonicalURL,
			NormalizedURL:    normalizedURL,
			CanonicalHash:    canonicalHash,
			OrganizationName: organizationName,
			Sector:           payload.Sector,
			DegreeLevel:      payload.DegreeLevel,
			OpportunityKind:  payload.OpportunityKind,
			Country:          payload.Country,
			Region:           payload.Region,
			City:             payload.City,
			Remote:           boolOr(payload.Remote, false),
			Tags:             payload.Tags,
			Areas:            payload.Areas,
			DescriptionText:  payload.DescriptionText,
			ApplicationURL:   payload.ApplicationURL,
			Deadline:         parseDeadline(payload.Deadline),
			SourceRefs:       []posting.SourceRef{{ModuleID: d.OriginModuleID, SourceKey: sourceKeyHint, At: time.Now().UTC()}},
			Status:           postingStatus,
		})
		stored, err := e.postings.UpsertTx(ctx, tx, p)
		if err != nil {
			return Result{}, err
		}
		postingRecord = &stored
		if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
			EntityType: "posting",
			EntityID:   &stored.ID,
			EventType:  provenance.EventPostingProjected,
			ActorType:  provenance.ActorMachine,
			ActorID:    &d.OriginModuleID,
			Payload:    map[string]any{"candidate_id": c.ID},
		}); err != nil {
			return Result{}, err
		}
	}

	if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
		EntityType: "candidate",
		EntityID:   &c.ID,
		EventType:  provenance.EventTrustPolicyApplied,
		ActorType:  provenance.ActorMachine,
		ActorID:    &d.OriginModuleID,
		Payload: map[string]any{
			"source_key":          policy.SourceKey,
			"trust_level":         policy.TrustLevel,
			"auto_publish":        policy.AutoPublish,
			"requires_moderation": policy.RequiresModeration,
			"dedupe_confidence":   in.Result.DedupeConfidence,
			"risk_flags":          in.Result.RiskFlags,
			"merge_decision":      mergeResult.Decision,
			"merge_risk_flags":    mergeResult.RiskFlags,
			"publish":             decision.Publish,
			"reason":              decision.Reason,
			"candidate_state":     finalState,
		},
	}); err != nil {
		return Result{}, err
	}

	c.State = finalState
	return Result{
		Candidate:     c,
		Posting:       postingRecord,
		CanProject:    canProject,
		MergeDecision: mergeResult.Decision,
		PublishReason: decision.Reason,
	}, nil
}

func (e *Engine) recordMergeDecision(ctx context.Context, tx pgx.Tx, primaryID, secondaryID string, decision merge.Decision, confidence float64) error {
	conf := confidence
	return e.merges.InsertTx(ctx, tx, merge.New(merge.CreateRequest{
		PrimaryID:   primaryID,
		SecondaryID: secondaryID,
		Decision:    decision,
		Confidence:  &conf,
		DecidedBy:   merge.DecidedByMachine,
	}))
}

func extractedFields(r jobs.ExtractResult) map[string]any {
	b, err := json.Marshal(r)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func valueOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func boolOr(b *bool, fallback bool) bool {
	if b == nil {
		return fallback
	}
	return *b
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func coalesceStrings(primary, fallback []string) []string {
	if len(primary) > 0 {
		return primary
	}
	return fallback
}

func parseDeadline(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	return &t
}
