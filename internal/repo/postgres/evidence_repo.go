package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sourcejob/controlplane/internal/domain/evidence"
	"github.com/sourcejob/controlplane/internal/observability"
)

type EvidenceRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewEvidenceRepo(pool *pgxpool.Pool, prom *observability.Prom) *EvidenceRepo {
	return &EvidenceRepo{pool: pool, prom: prom}
}

func (r *EvidenceRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *EvidenceRepo) CreateTx(ctx context.Context, tx pgx.Tx, e evidence.Evidence) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	op := "evidence.create_tx"
	return r.observe(op, func() error {
		_, execErr := tx.Exec(ctx, `
			INSERT INTO evidence (id, discovery_id, kind, uri, content_hash, captured_at, content_type, byte_size, metadata, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, e.ID, e.DiscoveryID, string(e.Kind), e.URI, e.ContentHash, e.CapturedAt, e.ContentType, e.ByteSize, meta, e.CapturedAt)
		return execErr
	})
}

// InsertOrGetTx elides the insert via ON CONFLICT (discovery_id,
// content_hash) DO NOTHING, coalescing a repeated capture of the same
// artifact for a discovery onto the existing row instead of
// duplicating it. Returns (row, true) when a new row was inserted.
func (r *EvidenceRepo) InsertOrGetTx(ctx context.Context, tx pgx.Tx, e evidence.Evidence) (evidence.Evidence, bool, error) {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return evidence.Evidence{}, false, err
	}
	op := "evidence.insert_or_get_tx"
	var tag pgx.CommandTag
	err = r.observe(op, func() error {
		var execErr error
		tag, execErr = tx.Exec(ctx, `
			INSERT INTO evidence (id, discovery_id, kind, uri, content_hash, captured_at, content_type, byte_size, metadata, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (discovery_id, content_hash) WHERE discovery_id IS NOT NULL DO NOTHING
		`, e.ID, e.DiscoveryID, string(e.Kind), e.URI, e.ContentHash, e.CapturedAt, e.ContentType, e.ByteSize, meta, e.CapturedAt)
		return execErr
	})
	if err != nil {
		return evidence.Evidence{}, false, err
	}
	if tag.RowsAffected() == 1 {
		return e, true, nil
	}

	existing, err := r.FindByDiscoveryAndHashTx(ctx, tx, e.DiscoveryID, e.ContentHash)
	if err != nil {
		return evidence.Evidence{}, false, err
	}
	return existing, false, nil
}

// FindByDiscoveryAndHashTx re-selects the row InsertOrGetTx's elided
// insert targeted.
func (r *EvidenceRepo) FindByDiscoveryAndHashTx(ctx context.Context, tx pgx.Tx, discoveryID *string, contentHash string) (evidence.Evidence, error) {
	op := "evidence.find_by_discovery_and_hash_tx"
	var row pgx.Row
	err := r.observe(op, func() error {
		row = tx.QueryRow(ctx, `
			SELECT id, discovery_id, kind, uri, content_hash, captured_at, content_type, byte_size, metadata
			FROM evidence WHERE discovery_id = $1 AND content_hash = $2
		`, discoveryID, contentHash)
		return nil
	})
	if err != nil {
		return evidence.Evidence{}, err
	}
	var e evidence.Evidence
	var metaRaw []byte
	if scanErr := row.Scan(&e.ID, &e.DiscoveryID, &e.Kind, &e.URI, &e.ContentHash, &e.CapturedAt, &e.ContentType, &e.ByteSize, &metaRaw); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return evidence.Evidence{}, evidence.ErrNotFound
		}
		return evidence.Evidence{}, scanErr
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &e.Metadata); err != nil {
			return evidence.Evidence{}, err
		}
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	return e, nil
}

func (r *EvidenceRepo) Create(ctx context.Context, e evidence.Evidence) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	op := "evidence.create"
	return r.observe(op, func() error {
		_, execErr := r.pool.Exec(ctx, `
			INSERT INTO evidence (id, discovery_id, kind, uri, content_hash, captured_at, content_type, byte_size, metadata, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
		`, e.ID, e.DiscoveryID, string(e.Kind), e.URI, e.ContentHash, e.CapturedAt, e.ContentType, e.ByteSize, meta)
		return execErr
	})
}

func (r *EvidenceRepo) GetByID(ctx context.Context, id string) (evidence.Evidence, error) {
	op := "evidence.get_by_id"
	var row pgx.Row
	err := r.observe(op, func() error {
		row = r.pool.QueryRow(ctx, `SELECT id, discovery_id, kind, uri, content_hash, captured_at, content_type, byte_size, metadata FROM evidence WHERE id = $1`, id)
		return nil
	})
	if err != nil {
		return evidence.Evidence{}, err
	}
	var e evidence.Evidence
	var metaRaw []byte
	if scanErr := row.Scan(&e.ID, &e.DiscoveryID, &e.Kind, &e.URI, &e.ContentHash, &e.CapturedAt, &e.ContentType, &e.ByteSize, &metaRaw); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return evidence.Evidence{}, evidence.ErrNotFound
		}
		return evidence.Evidence{}, scanErr
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &e.Metadata); err != nil {
			return evidence.Evidence{}, err
		}
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	return e, nil
}

// ListByDiscoveryTx collects the evidence rows whose discovery_id is the
// given discovery (candidate_evidence links are not consulted), for §4.7
// step 6's "attach any evidence rows on the discovery" materialization.
func (r *EvidenceRepo) ListByDiscoveryTx(ctx context.Context, tx pgx.Tx, discoveryID string) ([]evidence.Evidence, error) {
	op := "evidence.list_by_discovery_tx"
	var rows pgx.Rows
	err := r.observe(op, func() error {
		var execErr error
		rows, execErr = tx.Query(ctx, `SELECT id, discovery_id, kind, uri, content_hash, captured_at, content_type, byte_size, metadata FROM evidence WHERE discovery_id = $1`, discoveryID)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []evidence.Evidence
	for rows.Next() {
		var e evidence.Evidence
		var metaRaw []byte
		if err := rows.Scan(&e.ID, &e.DiscoveryID, &e.Kind, &e.URI, &e.ContentHash, &e.CapturedAt, &e.ContentType, &e.ByteSize, &metaRaw); err != nil {
			return nil, err
		}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &e.Metadata); err != nil {
				return nil, err
			}
		}
		if e.Metadata == nil {
			e.Metadata = map[string]any{}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LinkCandidateTx attaches evidence to a candidate via candidate_evidence,
// idempotently.
func (r *EvidenceRepo) LinkCandidateTx(ctx context.Context, tx pgx.Tx, candidateID, evidenceID string) error {
	op := "evidence.link_candidate_tx"
	return r.observe(op, func() error {
		_, execErr := tx.Exec(ctx, `
			INSERT INTO candidate_evidence (candidate_id, evidence_id) VALUES ($1,$2)
			ON CONFLICT DO NOTHING
		`, candidateID, evidenceID)
		return execErr
	})
}
