package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sourcejob/controlplane/internal/domain/module"
	"github.com/sourcejob/controlplane/internal/observability"
)

type ModulesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewModulesRepo(pool *pgxpool.Pool, prom *observability.Prom) *ModulesRepo {
	return &ModulesRepo{pool: pool, prom: prom}
}

func (r *ModulesRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func scanModule(row pgx.Row) (module.Module, error) {
	var m module.Module
	var kind, trustLevel string
	var scopesRaw []byte
	if err := row.Scan(&m.ID, &m.ModuleID, &m.Name, &kind, &m.Enabled, &scopesRaw, &trustLevel, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return module.Module{}, err
	}
	m.Kind = module.Kind(kind)
	m.TrustLevel = module.TrustLevel(trustLevel)
	if len(scopesRaw) > 0 {
		if err := json.Unmarshal(scopesRaw, &m.Scopes); err != nil {
			return module.Module{}, err
		}
	}
	if m.Scopes == nil {
		m.Scopes = []string{}
	}
	return m, nil
}

func (r *ModulesRepo) GetByID(ctx context.Context, id string) (module.Module, error) {
	op := "modules.get_by_id"
	var row pgx.Row
	err := r.observe(op, func() error {
		row = r.pool.QueryRow(ctx, `SELECT id, module_id, name, kind, enabled, scopes, trust_level, created_at, updated_at FROM modules WHERE id = $1`, id)
		return nil
	})
	if err != nil {
		return module.Module{}, err
	}
	m, err := scanModule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return module.Module{}, module.ErrNotFound
		}
		return module.Module{}, err
	}
	return m, nil
}

// AuthenticateByAPIKeyHash resolves a machine principal by the hash of
// its presented X-API-Key (§6), rejecting revoked credentials and
// disabled modules.
func (r *ModulesRepo) AuthenticateByAPIKeyHash(ctx context.Context, apiKeyHash string) (module.Module, error) {
	op := "modules.authenticate_by_api_key_hash"
	var row pgx.Row
	err := r.observe(op, func() error {
		row = r.pool.QueryRow(ctx, `
			SELECT m.id, m.module_id, m.name, m.kind, m.enabled, m.scopes, m.trust_level, m.created_at, m.updated_at
			FROM modules m
			JOIN module_credentials c ON c.module_id = m.id
			WHERE c.api_key_hash = $1 AND c.revoked_at IS NULL AND m.enabled = TRUE
		`, apiKeyHash)
		return nil
	})
	if err != nil {
		return module.Module{}, err
	}
	m, err := scanModule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return module.Module{}, module.ErrCredentialNotFound
		}
		return module.Module{}, err
	}
	return m, nil
}

func (r *ModulesRepo) GetByModuleID(ctx context.Context, moduleID string) (module.Module, error) {
	op := "modules.get_by_module_id"
	var row pgx.Row
	err := r.observe(op, func() error {
		row = r.pool.QueryRow(ctx, `SELECT id, module_id, name, kind, enabled, scopes, trust_level, created_at, updated_at FROM modules WHERE module_id = $1`, moduleID)
		return nil
	})
	if err != nil {
		return module.Module{}, err
	}
	m, err := scanModule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return module.Module{}, module.ErrNotFound
		}
		return module.Module{}, err
	}
	return m, nil
}

// List backs `GET /admin/modules` (§6): every registered module,
// newest first.
func (r *ModulesRepo) List(ctx context.Context) ([]module.Module, error) {
	op := "modules.list"
	var rows pgx.Rows
	err := r.observe(op, func() error {
		var execErr error
		rows, execErr = r.pool.Query(ctx, `SELECT id, module_id, name, kind, enabled, scopes, trust_level, created_at, updated_at FROM modules ORDER BY created_at DESC`)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []module.Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Create registers a new module (§6 `POST /admin/modules`).
func (r *ModulesRepo) Create(ctx context.Context, m module.Module) error {
	scopes, err := json.Marshal(m.Scopes)
	if err != nil {
		return err
	}
	op := "modules.create"
	return r.observe(op, func() error {
		_, execErr := r.pool.Exec(ctx, `
			INSERT INTO modules (id, module_id, name, kind, enabled, scopes, trust_level, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, m.ID, m.ModuleID, m.Name, string(m.Kind), m.Enabled, scopes, string(m.TrustLevel), m.CreatedAt, m.UpdatedAt)
		return execErr
	})
}

// SetEnabled implements the admin enable/disable toggle (§6 `PATCH
// /admin/modules/{id}`).
func (r *ModulesRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	op := "modules.set_enabled"
	var tag pgx.CommandTag
	err := r.observe(op, func() error {
		var execErr error
		tag, execErr = r.pool.Exec(ctx, `UPDATE modules SET enabled = $2, updated_at = now() WHERE id = $1`, id, enabled)
		return execErr
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return module.ErrNotFound
	}
	return nil
}

// SetCredential rotates a module's API key (§6 `PUT
// /admin/modules/{id}/credential`), revoking any prior one.
func (r *ModulesRepo) SetCredential(ctx context.Context, moduleDBID, apiKeyHash string) error {
	op := "modules.set_credential"
	return r.observe(op, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if _, err := tx.Exec(ctx, `UPDATE module_credentials SET revoked_at = now() WHERE module_id = $1 AND revoked_at IS NULL`, moduleDBID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO module_credentials (id, module_id, api_key_hash, created_at)
			VALUES ($1,$2,$3,now())
		`, uuid.NewString(), moduleDBID, apiKeyHash); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}
