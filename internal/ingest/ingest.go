// Package ingest implements the Discovery Ingestor (§4.5): the single
// transactional entry point a connector uses to report a newly
// observed opportunity URL, idempotently, and seed the extract job
// that turns it into a posting candidate.
package ingest

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sourcejob/controlplane/internal/apperr"
	"github.com/sourcejob/controlplane/internal/domain/discovery"
	"github.com/sourcejob/controlplane/internal/domain/jobcore"
	"github.com/sourcejob/controlplane/internal/domain/provenance"
	"github.com/sourcejob/controlplane/internal/jobs"
	"github.com/sourcejob/controlplane/internal/repo/postgres"
	"github.com/sourcejob/controlplane/internal/urlnorm"
)

type Ingestor struct {
	pool        *pgxpool.Pool
	discoveries *postgres.DiscoveriesRepo
	overrides   *postgres.OverridesRepo
	jobs        *postgres.JobsRepo
	provenance  *postgres.ProvenanceRepo
}

func New(pool *pgxpool.Pool, discoveries *postgres.DiscoveriesRepo, overrides *postgres.OverridesRepo, jobsRepo *postgres.JobsRepo, prov *postgres.ProvenanceRepo) *Ingestor {
	return &Ingestor{pool: pool, discoveries: discoveries, overrides: overrides, jobs: jobsRepo, provenance: prov}
}

// Request is a connector's raw report of an observed URL, before
// normalization.
type Request struct {
	OriginModuleID string
	ExternalID     *string
	DiscoveredAt   time.Time
	URL            *string
	TitleHint      *string
	TextHint       *string
	Metadata       map[string]any
}

// Result reports whether this call actually inserted a new discovery
// (and therefore seeded jobs) or found the uniqueness key already
// occupied and returned the existing row untouched.
type Result struct {
	Discovery discovery.Discovery
	Inserted  bool
}

// Ingest implements §4.5 end to end: normalize, insert-or-reselect,
// seed the extract job (and a resolve_url_redirects job when the
// connector asked for it), and append the audit row — all inside one
// transaction.
func (in *Ingestor) Ingest(ctx context.Context, req Request) (Result, error) {
	if req.OriginModuleID == "" {
		return Result{}, apperr.Validation("missing_origin_module", "origin module id is required")
	}
	if req.URL == nil && req.ExternalID == nil {
		return Result{}, apperr.Validation("missing_identity", "a discovery needs a url or an external id")
	}

	tx, err := in.pool.Begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	overrides, err := in.overrides.ListEnabledTx(ctx, tx)
	if err != nil {
		return Result{}, err
	}

	var normalizedURL, canonicalHash *string
	if req.URL != nil {
		norm := urlnorm.Normalize(*req.URL, overrides)
		if norm.NormalizedURL != "" {
			normalizedURL = &norm.NormalizedURL
			canonicalHash = &norm.CanonicalHash
		}
	}

	d := discovery.New(discovery.CreateRequest{
		OriginModuleID: req.OriginModuleID,
		ExternalID:     req.ExternalID,
		DiscoveredAt:   req.DiscoveredAt,
		URL:            req.URL,
		NormalizedURL:  normalizedURL,
		CanonicalHash:  canonicalHash,
		TitleHint:      req.TitleHint,
		TextHint:       req.TextHint,
		Metadata:       req.Metadata,
	})

	inserted, err := in.discoveries.InsertTx(ctx, tx, d)
	if err != nil {
		return Result{}, err
	}

	if !inserted {
		existing, err := in.discoveries.FindByUniquenessKeyTx(ctx, tx, req.OriginModuleID, req.ExternalID, normalizedURL)
		if err != nil {
			return Result{}, err
		}
		// Idempotent re-ingest: no new job seeding, no audit row (the
		// original ingest already has one).
		if err := tx.Commit(ctx); err != nil {
			return Result{}, err
		}
		return Result{Discovery: existing, Inserted: false}, nil
	}

	extractInputs, err := jobs.EncodeInputs(jobcore.KindExtract, jobs.ExtractInputs{DiscoveryID: d.ID})
	if err != nil {
		return Result{}, err
	}
	target := d.ID
	if _, err := in.jobs.CreateTx(ctx, tx, jobcore.CreateRequest{
		Kind:       jobcore.KindExtract,
		TargetType: jobcore.TargetDiscovery,
		TargetID:   &target,
		InputsJSON: extractInputs,
	}); err != nil {
		return Result{}, err
	}

	if d.ResolveRedirects(false) && d.URL != nil {
		redirectInputs, err := jobs.EncodeInputs(jobcore.KindResolveURLRedirects, jobs.ResolveURLRedirectsInputs{
			DiscoveryID:   d.ID,
			URL:           *d.URL,
			NormalizedURL: valueOr(normalizedURL),
			CanonicalHash: valueOr(canonicalHash),
			Overrides:     overrides,
		})
		if err != nil {
			return Result{}, err
		}
		if _, err := in.jobs.CreateTx(ctx, tx, jobcore.CreateRequest{
			Kind:       jobcore.KindResolveURLRedirects,
			TargetType: jobcore.TargetDiscovery,
			TargetID:   &target,
			InputsJSON: redirectInputs,
		}); err != nil {
			return Result{}, err
		}
	}

	if err := in.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
		EntityType: "discovery",
		EntityID:   &d.ID,
		EventType:  provenance.EventDiscoveryIngested,
		ActorType:  provenance.ActorMachine,
		ActorID:    &req.OriginModuleID,
		Payload: map[string]any{
			"origin_module_id": req.OriginModuleID,
			"external_id":      req.ExternalID,
			"normalized_url":   normalizedURL,
		},
	}); err != nil {
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}

	return Result{Discovery: d, Inserted: true}, nil
}

func valueOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
