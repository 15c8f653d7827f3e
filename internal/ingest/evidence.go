package ingest

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sourcejob/controlplane/internal/apperr"
	"github.com/sourcejob/controlplane/internal/domain/evidence"
	"github.com/sourcejob/controlplane/internal/domain/provenance"
	"github.com/sourcejob/controlplane/internal/repo/postgres"
)

// EvidenceCapture is the standalone `POST /evidence` write path (§6):
// it doesn't touch discoveries/jobs, just records a captured artifact,
// deduping by (discovery_id, content_hash).
type EvidenceCapture struct {
	pool       *pgxpool.Pool
	evidence   *postgres.EvidenceRepo
	provenance *postgres.ProvenanceRepo
}

func NewEvidenceCapture(pool *pgxpool.Pool, evidenceRepo *postgres.EvidenceRepo, prov *postgres.ProvenanceRepo) *EvidenceCapture {
	return &EvidenceCapture{pool: pool, evidence: evidenceRepo, provenance: prov}
}

type CaptureResult struct {
	Evidence evidence.Evidence
	Inserted bool
}

func (c *EvidenceCapture) Capture(ctx context.Context, req evidence.CreateRequest, actorModuleID string) (CaptureResult, error) {
	if !req.Kind.IsValid() {
		return CaptureResult{}, apperr.Validation("invalid_evidence_kind", "unrecognized evidence kind")
	}
	if req.URI == "" || req.ContentHash == "" {
		return CaptureResult{}, apperr.Validation("missing_evidence_fields", "uri and content_hash are required")
	}

	e := evidence.New(req)

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return CaptureResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stored, inserted, err := c.evidence.InsertOrGetTx(ctx, tx, e)
	if err != nil {
		return CaptureResult{}, err
	}

	if inserted {
		if err := c.provenance.AppendTx(ctx, tx, provenance.AppendRequest{
			EntityType: "evidence",
			EntityID:   &stored.ID,
			EventType:  "captured",
			ActorType:  provenance.ActorMachine,
			ActorID:    &actorModuleID,
			Payload: map[string]any{
				"discovery_id": stored.DiscoveryID,
				"kind":         stored.Kind,
			},
		}); err != nil {
			return CaptureResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return CaptureResult{}, err
	}

	return CaptureResult{Evidence: stored, Inserted: inserted}, nil
}
