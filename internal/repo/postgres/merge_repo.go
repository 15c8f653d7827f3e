package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sourcejob/controlplane/internal/domain/merge"
	"github.com/sourcejob/controlplane/internal/observability"
)

type MergeRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewMergeRepo(pool *pgxpool.Pool, prom *observability.Prom) *MergeRepo {
	return &MergeRepo{pool: pool, prom: prom}
}

func (r *MergeRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// InsertTx upserts on the (primary, secondary) UNIQUE pair (§3): a
// repeated dedupe-scorer verdict for the same pair overwrites the
// prior decision rather than erroring, since re-evaluation is expected
// across extract jobs touching the same candidates.
func (r *MergeRepo) InsertTx(ctx context.Context, tx pgx.Tx, d merge.CandidateMergeDecision) error {
	meta, err := json.Marshal(d.Metadata)
	if err != nil {
		return err
	}
	op := "merge_decisions.insert_tx"
	return r.observe(op, func() error {
		_, execErr := tx.Exec(ctx, `
			INSERT INTO candidate_merge_decisions
				(id, primary_candidate_id, secondary_candidate_id, decision, confidence, decided_by, rationale, metadata, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (primary_candidate_id, secondary_candidate_id) DO UPDATE SET
				decision = EXCLUDED.decision,
				confidence = EXCLUDED.confidence,
				decided_by = EXCLUDED.decided_by,
				rationale = EXCLUDED.rationale,
				metadata = EXCLUDED.metadata
		`, d.ID, d.PrimaryID, d.SecondaryID, string(d.Decision), d.Confidence, d.DecidedBy, d.Rationale, meta, d.CreatedAt)
		return execErr
	})
}

// ListByCandidate returns merge decisions naming a candidate on either
// side, newest first — used by moderation review surfaces (§6).
func (r *MergeRepo) ListByCandidate(ctx context.Context, candidateID string, limit int) ([]merge.CandidateMergeDecision, error) {
	op := "merge_decisions.list_by_candidate"
	var rows pgx.Rows
	err := r.observe(op, func() error {
		var execErr error
		rows, execErr = r.pool.Query(ctx, `
			SELECT id, primary_candidate_id, secondary_candidate_id, decision, confidence, decided_by, rationale, metadata, created_at
			FROM candidate_merge_decisions
			WHERE primary_candidate_id = $1 OR secondary_candidate_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		`, candidateID, limit)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []merge.CandidateMergeDecision
	for rows.Next() {
		var d merge.CandidateMergeDecision
		var decision string
		var raw []byte
		if err := rows.Scan(&d.ID, &d.PrimaryID, &d.SecondaryID, &decision, &d.Confidence, &d.DecidedBy, &d.Rationale, &raw, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Decision = merge.Decision(decision)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &d.Metadata); err != nil {
				return nil, err
			}
		}
		if d.Metadata == nil {
			d.Metadata = map[string]any{}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
