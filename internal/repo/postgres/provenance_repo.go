package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sourcejob/controlplane/internal/domain/provenance"
	"github.com/sourcejob/controlplane/internal/observability"
)

type ProvenanceRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewProvenanceRepo(pool *pgxpool.Pool, prom *observability.Prom) *ProvenanceRepo {
	return &ProvenanceRepo{pool: pool, prom: prom}
}

func (r *ProvenanceRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// AppendTx writes exactly one audit row inside the caller's
// transaction (§4.9 — every successful mutation appends its event in
// the same transaction as the mutation it describes).
func (r *ProvenanceRepo) AppendTx(ctx context.Context, tx pgx.Tx, req provenance.AppendRequest) error {
	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	op := "provenance.append_tx"
	return r.observe(op, func() error {
		_, execErr := tx.Exec(ctx, `
			INSERT INTO provenance_events (entity_type, entity_id, event_type, actor_type, actor_id, payload)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, req.EntityType, req.EntityID, req.EventType, string(req.ActorType), req.ActorID, raw)
		return execErr
	})
}

func scanProvenanceEvent(rows pgx.Rows) (provenance.Event, error) {
	var e provenance.Event
	var actorType string
	var raw []byte
	if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.EventType, &actorType, &e.ActorID, &raw, &e.CreatedAt); err != nil {
		return provenance.Event{}, err
	}
	e.ActorType = provenance.ActorType(actorType)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &e.Payload); err != nil {
			return provenance.Event{}, err
		}
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	return e, nil
}

// ListByEntity returns the audit trail for one entity, oldest first.
func (r *ProvenanceRepo) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]provenance.Event, error) {
	op := "provenance.list_by_entity"
	var rows pgx.Rows
	err := r.observe(op, func() error {
		var execErr error
		rows, execErr = r.pool.Query(ctx, `
			SELECT id, entity_type, entity_id, event_type, actor_type, actor_id, payload, created_at
			FROM provenance_events
			WHERE entity_type = $1 AND entity_id = $2
			ORDER BY created_at ASC, id ASC
			LIMIT $3
		`, entityType, entityID, limit)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []provenance.Event
	for rows.Next() {
		e, err := scanProvenanceEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
