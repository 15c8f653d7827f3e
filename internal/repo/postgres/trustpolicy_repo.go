package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sourcejob/controlplane/internal/domain/module"
	"github.com/sourcejob/controlplane/internal/domain/trustpolicy"
	"github.com/sourcejob/controlplane/internal/observability"
)

type TrustPolicyRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewTrustPolicyRepo(pool *pgxpool.Pool, prom *observability.Prom) *TrustPolicyRepo {
	return &TrustPolicyRepo{pool: pool, prom: prom}
}

func (r *TrustPolicyRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// LookupPolicy implements internal/trust.PolicyLookup: found=false (no
// error) when no enabled row matches sourceKey, distinct from a real
// query failure.
func (r *TrustPolicyRepo) LookupPolicy(ctx context.Context, sourceKey string) (trustpolicy.Policy, bool, error) {
	op := "trust_policies.lookup"
	var row pgx.Row
	err := r.observe(op, func() error {
		row = r.pool.QueryRow(ctx, `
			SELECT source_key, trust_level, auto_publish, requires_moderation, rules_json, enabled
			FROM source_trust_policies
			WHERE source_key = $1 AND enabled = TRUE
		`, sourceKey)
		return nil
	})
	if err != nil {
		return trustpolicy.Policy{}, false, err
	}

	var p trustpolicy.Policy
	var trustLevel string
	var rulesRaw []byte
	if scanErr := row.Scan(&p.SourceKey, &trustLevel, &p.AutoPublish, &p.RequiresModeration, &rulesRaw, &p.Enabled); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return trustpolicy.Policy{}, false, nil
		}
		return trustpolicy.Policy{}, false, scanErr
	}
	p.TrustLevel = module.TrustLevel(trustLevel)
	if len(rulesRaw) > 0 {
		if err := json.Unmarshal(rulesRaw, &p.Rules); err != nil {
			return trustpolicy.Policy{}, false, err
		}
	}
	return p, true, nil
}

func (r *TrustPolicyRepo) Upsert(ctx context.Context, p trustpolicy.Policy) error {
	rules, err := json.Marshal(p.Rules)
	if err != nil {
		return err
	}
	op := "trust_policies.upsert"
	return r.observe(op, func() error {
		_, execErr := r.pool.Exec(ctx, `
			INSERT INTO source_trust_policies (source_key, trust_level, auto_publish, requires_moderation, rules_json, enabled, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,now())
			ON CONFLICT (source_key) DO UPDATE SET
				trust_level = EXCLUDED.trust_level,
				auto_publish = EXCLUDED.auto_publish,
				requires_moderation = EXCLUDED.requires_moderation,
				rules_json = EXCLUDED.rules_json,
				enabled = EXCLUDED.enabled,
				updated_at = now()
		`, p.SourceKey, string(p.TrustLevel), p.AutoPublish, p.RequiresModeration, rules, p.Enabled)
		return execErr
	})
}

// List backs `GET /admin/source-trust-policy` (§6): every configured
// policy row, source_key ascending.
func (r *TrustPolicyRepo) List(ctx context.Context) ([]trustpolicy.Policy, error) {
	op := "trust_policies.list"
	var rows pgx.Rows
	err := r.observe(op, func() error {
		var execErr error
		rows, execErr = r.pool.Query(ctx, `SELECT source_key, trust_level, auto_publish, requires_moderation, rules_json, enabled FROM source_trust_policies ORDER BY source_key`)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trustpolicy.Policy
	for rows.Next() {
		var p trustpolicy.Policy
		var trustLevel string
		var rulesRaw []byte
		if err := rows.Scan(&p.SourceKey, &trustLevel, &p.AutoPublish, &p.RequiresModeration, &rulesRaw, &p.Enabled); err != nil {
			return nil, err
		}
		p.TrustLevel = module.TrustLevel(trustLevel)
		if len(rulesRaw) > 0 {
			if err := json.Unmarshal(rulesRaw, &p.Rules); err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
