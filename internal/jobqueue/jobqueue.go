// Package jobqueue implements the Job Queue engine (§4.6): the
// scheduler that lists, claims, resolves, reaps, and freshness-enqueues
// the leased jobs rows that drive every connector/processor module.
package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sourcejob/controlplane/internal/apperr"
	"github.com/sourcejob/controlplane/internal/domain/candidate"
	"github.com/sourcejob/controlplane/internal/domain/jobcore"
	"github.com/sourcejob/controlplane/internal/domain/posting"
	"github.com/sourcejob/controlplane/internal/domain/provenance"
	"github.com/sourcejob/controlplane/internal/jobs"
	"github.com/sourcejob/controlplane/internal/observability"
	"github.com/sourcejob/controlplane/internal/projection"
	"github.com/sourcejob/controlplane/internal/repo/postgres"
	"github.com/sourcejob/controlplane/internal/statemachine"
)

// Settings carries the operational knobs §4.6.3/4.6.5 need, lifted out
// of internal/config so this package doesn't import the whole Config
// struct.
type Settings struct {
	JobMaxAttempts      int
	JobRetryBaseSeconds int
	JobRetryMaxSeconds  int
	DefaultLeaseSeconds int

	FreshnessCheckIntervalHours float64
	FreshnessStaleAfterHours    float64
	FreshnessArchiveAfterHours  float64
}

type Engine struct {
	pool        *pgxpool.Pool
	jobs        *postgres.JobsRepo
	discoveries *postgres.DiscoveriesRepo
	postings    *postgres.PostingsRepo
	candidates  *postgres.CandidatesRepo
	overrides   *postgres.OverridesRepo
	provenance  *postgres.ProvenanceRepo
	projection  *projection.Engine
	settings    Settings
	metrics     *observability.JobMetrics
}

func New(pool *pgxpool.Pool, jobsRepo *postgres.JobsRepo, discoveries *postgres.DiscoveriesRepo,
	postings *postgres.PostingsRepo, candidates *postgres.CandidatesRepo, overrides *postgres.OverridesRepo,
	prov *postgres.ProvenanceRepo, proj *projection.Engine, settings Settings) *Engine {
	return &Engine{
		pool:        pool,
		jobs:        jobsRepo,
		discoveries: discoveries,
		postings:    postings,
		candidates:  candidates,
		overrides:   overrides,
		provenance:  prov,
		projection:  proj,
		settings:    settings,
		metrics:     observability.NewJobMetrics(),
	}
}

// MetricsSnapshot exposes the claimed/done/failed/retried/dead-lettered
// counters and duration stats §5's "Scheduling model" queue tracks,
// for cmd/api's admin status surface.
func (e *Engine) MetricsSnapshot() observability.JobMetricsSnapShot {
	return e.metrics.Snapshot()
}

// ListQueued is §4.6.1's advisory, non-locking view.
func (e *Engine) ListQueued(ctx context.Context, limit int) ([]jobcore.Job, error) {
	return e.jobs.ListQueued(ctx, limit)
}

// Claim implements §4.6.2. On success it overlays the live URL-override
// set into a resolve_url_redirects job's inputs_json so a module sees
// whatever an operator most recently configured, even if it differs
// from what was in force at enqueue time.
func (e *Engine) Claim(ctx context.Context, jobID, moduleID string, leaseSeconds int) (jobcore.Job, error) {
	if leaseSeconds <= 0 {
		leaseSeconds = e.settings.DefaultLeaseSeconds
	}

	j, err := e.jobs.Claim(ctx, jobID, moduleID, leaseSeconds)
	if err != nil {
		if errors.Is(err, postgres.ErrJobNotClaimable) {
			if _, getErr := e.jobs.GetByID(ctx, jobID); getErr != nil {
				if errors.Is(getErr, jobcore.ErrNotFound) {
					return jobcore.Job{}, apperr.NotFound("job_not_found", "job does not exist")
				}
				return jobcore.Job{}, getErr
			}
			return jobcore.Job{}, apperr.Conflict("job_not_claimable", "job is not queued or not yet runnable")
		}
		return jobcore.Job{}, err
	}

	if j.Kind == jobcore.KindResolveURLRedirects {
		if overlaid, err := e.overlayOverrides(ctx, j); err == nil {
			j = overlaid
		}
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return jobcore.Job{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
		EntityType: "job",
		EntityID:   &j.ID,
		EventType:  provenance.EventJobClaimed,
		ActorType:  provenance.ActorMachine,
		ActorID:    &moduleID,
		Payload:    map[string]any{"lease_seconds": leaseSeconds},
	}); err != nil {
		return jobcore.Job{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return jobcore.Job{}, err
	}

	e.metrics.IncClaimed()
	return j, nil
}

func (e *Engine) overlayOverrides(ctx context.Context, j jobcore.Job) (jobcore.Job, error) {
	decoded, err := jobs.DecodeInputs(j)
	if err != nil {
		return j, err
	}
	inputs, ok := decoded.(jobs.ResolveURLRedirectsInputs)
	if !ok {
		return j, nil
	}
	overrides, err := e.overrides.ListEnabled(ctx)
	if err != nil {
		return j, err
	}
	inputs.Overrides = overrides
	raw, err := json.Marshal(inputs)
	if err != nil {
		return j, err
	}
	j.InputsJSON = raw
	return j, nil
}

// SubmitResult implements §4.6.3 in full: locked job resolution, the
// retry-policy backoff decision, and the post-resolution side effects
// that run inline in the same transaction (projection on a successful
// extract, posting-status application or downgrade on check_freshness,
// discovery URL rewrite on resolve_url_redirects).
func (e *Engine) SubmitResult(ctx context.Context, jobID, moduleID string, requested jobcore.Status, resultJSON, errorJSON json.RawMessage) (jobcore.Job, error) {
	if requested != jobcore.StatusDone && requested != jobcore.StatusFailed && requested != jobcore.StatusDeadLetter {
		return jobcore.Job{}, apperr.Validation("invalid_result_status", "status must be done, failed, or dead_letter")
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return jobcore.Job{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	j, err := e.jobs.GetForUpdateTx(ctx, tx, jobID)
	if err != nil {
		if errors.Is(err, jobcore.ErrNotFound) {
			return jobcore.Job{}, apperr.NotFound("job_not_found", "job does not exist")
		}
		return jobcore.Job{}, err
	}
	if j.LockedByModuleID == nil || *j.LockedByModuleID != moduleID {
		return jobcore.Job{}, apperr.Forbidden("job_locked_by_other_module", "job is locked by another module")
	}
	if j.Status != jobcore.StatusClaimed {
		return jobcore.Job{}, apperr.Conflict("job_not_claimed", "job is not in the claimed state")
	}

	var (
		resolved    jobcore.Status
		nextRunAt   = time.Now().UTC()
		retryDelay  time.Duration
		retried     bool
		deadLettered bool
	)

	switch requested {
	case jobcore.StatusDone:
		resolved = jobcore.StatusDone
	case jobcore.StatusDeadLetter:
		resolved = jobcore.StatusDeadLetter
		deadLettered = true
	case jobcore.StatusFailed:
		if j.Attempt >= e.settings.JobMaxAttempts {
			resolved = jobcore.StatusDeadLetter
			deadLettered = true
		} else {
			resolved = jobcore.StatusQueued
			retryDelay = retryBackoff(j.Attempt, e.settings.JobRetryBaseSeconds, e.settings.JobRetryMaxSeconds)
			nextRunAt = time.Now().UTC().Add(retryDelay)
			retried = true
		}
	}

	if err := e.jobs.ApplyResolvedStatusTx(ctx, tx, j.ID, resolved, nextRunAt, resultJSON, errorJSON); err != nil {
		return jobcore.Job{}, err
	}

	if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
		EntityType: "job",
		EntityID:   &j.ID,
		EventType:  provenance.EventJobResultSubmitted,
		ActorType:  provenance.ActorMachine,
		ActorID:    &moduleID,
		Payload: map[string]any{
			"requested":            string(requested),
			"resolved":             string(resolved),
			"attempt":              j.Attempt,
			"max_attempts":         e.settings.JobMaxAttempts,
			"retry_delay_seconds":  retryDelay.Seconds(),
		},
	}); err != nil {
		return jobcore.Job{}, err
	}
	if retried {
		if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
			EntityType: "job",
			EntityID:   &j.ID,
			EventType:  provenance.EventJobRetryScheduled,
			ActorType:  provenance.ActorMachine,
			ActorID:    &moduleID,
			Payload:    map[string]any{"next_run_at": nextRunAt, "attempt": j.Attempt},
		}); err != nil {
			return jobcore.Job{}, err
		}
	}
	if deadLettered {
		if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
			EntityType: "job",
			EntityID:   &j.ID,
			EventType:  provenance.EventJobDeadLettered,
			ActorType:  provenance.ActorMachine,
			ActorID:    &moduleID,
			Payload:    map[string]any{"attempt": j.Attempt},
		}); err != nil {
			return jobcore.Job{}, err
		}
	}

	if err := e.applySideEffects(ctx, tx, j, requested, resolved, moduleID, resultJSON); err != nil {
		return jobcore.Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return jobcore.Job{}, err
	}

	if j.LockedAt != nil {
		e.metrics.ObserveDuration(time.Since(*j.LockedAt))
	}
	switch {
	case deadLettered:
		e.metrics.IncDeadLettered()
	case retried:
		e.metrics.IncRetried()
	case resolved == jobcore.StatusDone:
		e.metrics.IncDone()
	default:
		e.metrics.IncFailed()
	}

	j.Status = resolved
	j.NextRunAt = nextRunAt
	return j, nil
}

func (e *Engine) applySideEffects(ctx context.Context, tx pgx.Tx, j jobcore.Job, requested, resolved jobcore.Status, moduleID string, resultJSON json.RawMessage) error {
	switch j.Kind {
	case jobcore.KindExtract:
		if resolved != jobcore.StatusDone || j.TargetType != jobcore.TargetDiscovery || j.TargetID == nil {
			return nil
		}
		result, err := jobs.DecodeExtractResult(resultJSON)
		if err != nil {
			return err
		}
		d, err := e.discoveries.GetByIDTx(ctx, tx, *j.TargetID)
		if err != nil {
			return err
		}
		if _, err := e.projection.Project(ctx, tx, projection.Input{Discovery: d, Result: result}); err != nil {
			return err
		}

	case jobcore.KindCheckFreshness:
		if j.TargetType != jobcore.TargetPosting || j.TargetID == nil {
			return nil
		}
		switch {
		case resolved == jobcore.StatusDone:
			result, err := jobs.DecodeCheckFreshnessResult(resultJSON)
			if err != nil {
				return err
			}
			return e.applyPostingStatus(ctx, tx, *j.TargetID, posting.Status(result.RecommendedStatus), moduleID)
		case requested == jobcore.StatusFailed && resolved == jobcore.StatusDeadLetter:
			// the retry policy exhausted job_max_attempts on this
			// check_freshness job: this is the §4.6.3 terminal-failure
			// fallback, not a direct dead_letter submission.
			return e.downgradeStalePosting(ctx, tx, *j.TargetID, moduleID)
		}

	case jobcore.KindResolveURLRedirects:
		if resolved != jobcore.StatusDone || j.TargetType != jobcore.TargetDiscovery || j.TargetID == nil {
			return nil
		}
		result, err := jobs.DecodeResolveURLRedirectsResult(resultJSON)
		if err != nil {
			return err
		}
		return e.rewriteDiscoveryURL(ctx, tx, *j.TargetID, result, moduleID)
	}
	return nil
}

func (e *Engine) applyPostingStatus(ctx context.Context, tx pgx.Tx, postingID string, to posting.Status, actorModuleID string) error {
	if !to.IsValid() {
		return nil
	}
	p, err := e.postings.GetByIDTx(ctx, tx, postingID)
	if err != nil {
		return err
	}
	if err := statemachine.PostingTransition(p.Status, to); err != nil {
		return nil
	}
	if p.Status == to {
		return nil
	}
	if err := e.postings.UpdateStatusTx(ctx, tx, postingID, to, to == posting.StatusActive); err != nil {
		return err
	}
	if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
		EntityType: "posting",
		EntityID:   &postingID,
		EventType:  provenance.EventStateChanged,
		ActorType:  provenance.ActorMachine,
		ActorID:    &actorModuleID,
		Payload:    map[string]any{"from": p.Status, "to": to},
	}); err != nil {
		return err
	}
	return e.syncCandidateFromPosting(ctx, tx, p.CandidateID, to, actorModuleID)
}

// downgradeStalePosting applies the §4.6.3 fallback when a
// check_freshness job exhausts its retries: active degrades to stale,
// stale degrades to archived. Already-archived/closed postings are
// left alone.
func (e *Engine) downgradeStalePosting(ctx context.Context, tx pgx.Tx, postingID string, actorModuleID string) error {
	p, err := e.postings.GetByIDTx(ctx, tx, postingID)
	if err != nil {
		return err
	}
	var to posting.Status
	switch p.Status {
	case posting.StatusActive:
		to = posting.StatusStale
	case posting.StatusStale:
		to = posting.StatusArchived
	default:
		return nil
	}
	return e.applyPostingStatus(ctx, tx, postingID, to, actorModuleID)
}

func (e *Engine) syncCandidateFromPosting(ctx context.Context, tx pgx.Tx, candidateID *string, postingStatus posting.Status, actorModuleID string) error {
	if candidateID == nil {
		return nil
	}
	derived, ok := statemachine.DeriveCandidateState(postingStatus)
	if !ok {
		return nil
	}
	c, err := e.candidates.GetByIDTx(ctx, tx, *candidateID)
	if err != nil {
		if errors.Is(err, candidate.ErrNotFound) {
			return nil
		}
		return err
	}
	if c.State == derived {
		return nil
	}
	if err := statemachine.CandidateTransition(c.State, derived); err != nil {
		return nil
	}
	if err := e.candidates.UpdateStateTx(ctx, tx, c.ID, derived); err != nil {
		return err
	}
	return e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
		EntityType: "candidate",
		EntityID:   &c.ID,
		EventType:  provenance.EventStateChanged,
		ActorType:  provenance.ActorMachine,
		ActorID:    &actorModuleID,
		Payload:    map[string]any{"from": c.State, "to": derived},
	})
}

// rewriteDiscoveryURL applies a resolved redirect inside a savepoint so
// a uniqueness collision with another discovery's tuple degrades to a
// recorded conflict instead of aborting the whole submit_result
// transaction.
func (e *Engine) rewriteDiscoveryURL(ctx context.Context, tx pgx.Tx, discoveryID string, result jobs.ResolveURLRedirectsResult, actorModuleID string) error {
	if result.URL == "" && result.NormalizedURL == "" && result.CanonicalHash == "" {
		return nil
	}
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	rewriteErr := e.discoveries.RewriteURLTx(ctx, sp, discoveryID, result.URL, result.NormalizedURL, result.CanonicalHash)
	if rewriteErr != nil {
		_ = sp.Rollback(ctx)
		if postgres.IsUniqueViolation(rewriteErr) {
			return e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
				EntityType: "discovery",
				EntityID:   &discoveryID,
				EventType:  provenance.EventRedirectResolutionConflict,
				ActorType:  provenance.ActorMachine,
				ActorID:    &actorModuleID,
				Payload:    map[string]any{"url": result.URL, "normalized_url": result.NormalizedURL},
			})
		}
		return rewriteErr
	}
	if err := sp.Commit(ctx); err != nil {
		return err
	}
	return e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
		EntityType: "discovery",
		EntityID:   &discoveryID,
		EventType:  provenance.EventRedirectResolved,
		ActorType:  provenance.ActorMachine,
		ActorID:    &actorModuleID,
		Payload:    map[string]any{"url": result.URL, "normalized_url": result.NormalizedURL, "canonical_hash": result.CanonicalHash},
	})
}

// ReapExpired implements §4.6.4, requeuing expired leases in batches
// safe for N concurrent reapers.
func (e *Engine) ReapExpired(ctx context.Context, limit int, actorID string) ([]string, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids, err := e.jobs.ReapExpiredTx(ctx, tx, limit)
	if err != nil {
		return nil, err
	}
	var actorPtr *string
	if actorID != "" {
		actorPtr = &actorID
	}
	for _, id := range ids {
		id := id
		if err := e.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
			EntityType: "job",
			EntityID:   &id,
			EventType:  provenance.EventJobLeaseRequeued,
			ActorType:  provenance.ActorSystem,
			ActorID:    actorPtr,
		}); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// EnqueueDueFreshness implements §4.6.5, materializing a
// check_freshness job per posting due for a recheck.
func (e *Engine) EnqueueDueFreshness(ctx context.Context, limit int, actorID string) ([]string, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	due, err := e.jobs.EnqueueDueFreshnessTx(ctx, tx, limit, e.settings.FreshnessCheckIntervalHours)
	if err != nil {
		return nil, err
	}

	var created []string
	for _, p := range due {
		inputs, err := jobs.EncodeInputs(jobcore.KindCheckFreshness, jobs.CheckFreshnessInputs{
			PostingID:         p.ID,
			PostingStatus:     p.Status,
			PostingUpdatedAt:  p.UpdatedAt.UTC().Format(time.RFC3339),
			StaleAfterHours:   e.settings.FreshnessStaleAfterHours,
			ArchiveAfterHours: e.settings.FreshnessArchiveAfterHours,
		})
		if err != nil {
			return nil, err
		}
		targetID := p.ID
		job, err := e.jobs.CreateTx(ctx, tx, jobcore.CreateRequest{
			Kind:       jobcore.KindCheckFreshness,
			TargetType: jobcore.TargetPosting,
			TargetID:   &targetID,
			InputsJSON: inputs,
		})
		if err != nil {
			return nil, err
		}
		created = append(created, job.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

// retryBackoff mirrors the teacher's exponential-backoff shape
// (base * 2^(attempt-1), capped at max), ported to the job queue's
// retry_base/retry_max configuration instead of fixed constants.
func retryBackoff(attempt, baseSeconds, maxSeconds int) time.Duration {
	base := time.Duration(baseSeconds) * time.Second
	capDelay := time.Duration(maxSeconds) * time.Second

	delay := base
	for i := 0; i < attempt-1; i++ {
		delay *= 2
		if delay > capDelay {
			delay = capDelay
			break
		}
	}
	if attempt <= 0 {
		delay = base
	}
	if delay > capDelay {
		delay = capDelay
	}
	return delay
}

