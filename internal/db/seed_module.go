package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sourcejob/controlplane/internal/config"
	"github.com/sourcejob/controlplane/internal/domain/module"
)

// EnsureBootstrapModule seeds a single trusted connector module and its
// API key from config, if both are set and no module with that
// module_id exists yet. This is the only "admin bootstrap" the control
// plane itself performs at startup; richer seeding (trust policies,
// URL overrides) is the job of cmd/sjctl.
func EnsureBootstrapModule(ctx context.Context, pool *pgxpool.Pool, cfg config.Config, moduleID, name, apiKey string) error {
	if moduleID == "" || apiKey == "" {
		return nil
	}

	var existing string
	err := pool.QueryRow(ctx, `SELECT id FROM modules WHERE module_id = $1`, moduleID).Scan(&existing)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	m := module.New(module.CreateRequest{
		ModuleID:   moduleID,
		Name:       name,
		Kind:       module.KindConnector,
		Scopes:     []string{"discoveries:write", "evidence:write", "jobs:read", "jobs:write"},
		TrustLevel: module.TrustTrusted,
	})

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	scopes, err := json.Marshal(m.Scopes)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO modules (id, module_id, name, kind, enabled, scopes, trust_level, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, m.ID, m.ModuleID, m.Name, string(m.Kind), m.Enabled, scopes, string(m.TrustLevel), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return err
	}

	cred := module.NewCredential(m.ID, module.HashAPIKey(apiKey))
	_, err = tx.Exec(ctx, `
		INSERT INTO module_credentials (id, module_id, api_key_hash, created_at)
		VALUES ($1,$2,$3,$4)
	`, cred.ID, cred.ModuleID, cred.APIKeyHash, cred.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}
