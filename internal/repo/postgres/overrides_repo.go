package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/google/uuid"

	"github.com/sourcejob/controlplane/internal/observability"
	"github.com/sourcejob/controlplane/internal/urlnorm"
)

// OverridesRepo backs the admin CRUD surface over
// url_normalization_overrides (§6) and feeds the enabled override set
// the URL Canonicalizer needs on every ingest and claim (§4.5 step 1,
// §4.6.2's hot-reload overlay).
type OverridesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewOverridesRepo(pool *pgxpool.Pool, prom *observability.Prom) *OverridesRepo {
	return &OverridesRepo{pool: pool, prom: prom}
}

func (r *OverridesRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

const overrideColumns = `host_suffix, strip_www, force_https, strip_query_params, strip_query_prefixes`

func scanOverride(rows interface{ Scan(...any) error }) (urlnorm.Override, error) {
	var o urlnorm.Override
	var paramsRaw, prefixesRaw []byte
	if err := rows.Scan(&o.HostSuffix, &o.StripWWW, &o.ForceHTTPS, &paramsRaw, &prefixesRaw); err != nil {
		return urlnorm.Override{}, err
	}
	if len(paramsRaw) > 0 {
		if err := json.Unmarshal(paramsRaw, &o.StripQueryParams); err != nil {
			return urlnorm.Override{}, err
		}
	}
	if len(prefixesRaw) > 0 {
		if err := json.Unmarshal(prefixesRaw, &o.StripQueryPrefixes); err != nil {
			return urlnorm.Override{}, err
		}
	}
	return o, nil
}

// ListEnabledTx fetches the enabled override rows inside the caller's
// transaction, per §4.5 step 1's "fetched inside the same transaction".
func (r *OverridesRepo) ListEnabledTx(ctx context.Context, tx pgx.Tx) ([]urlnorm.Override, error) {
	op := "url_overrides.list_enabled_tx"
	var rows pgx.Rows
	err := r.observe(op, func() error {
		var execErr error
		rows, execErr = tx.Query(ctx, `SELECT `+overrideColumns+` FROM url_normalization_overrides WHERE enabled = TRUE`)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []urlnorm.Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListEnabled is the non-transactional variant used by §4.6.2's claim
// hot-reload overlay (no enclosing write transaction at that point).
func (r *OverridesRepo) ListEnabled(ctx context.Context) ([]urlnorm.Override, error) {
	op := "url_overrides.list_enabled"
	var rows pgx.Rows
	err := r.observe(op, func() error {
		var execErr error
		rows, execErr = r.pool.Query(ctx, `SELECT `+overrideColumns+` FROM url_normalization_overrides WHERE enabled = TRUE`)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []urlnorm.Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Upsert is the thin admin-CRUD write path (§6 "admin/*").
func (r *OverridesRepo) Upsert(ctx context.Context, o urlnorm.Override) error {
	params, err := json.Marshal(o.StripQueryParams)
	if err != nil {
		return err
	}
	prefixes, err := json.Marshal(o.StripQueryPrefixes)
	if err != nil {
		return err
	}
	op := "url_overrides.upsert"
	return r.observe(op, func() error {
		_, execErr := r.pool.Exec(ctx, `
			INSERT INTO url_normalization_overrides (id, host_suffix, strip_www, force_https, strip_query_params, strip_query_prefixes, enabled, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,TRUE,now())
			ON CONFLICT (host_suffix) DO UPDATE SET
				strip_www = EXCLUDED.strip_www,
				force_https = EXCLUDED.force_https,
				strip_query_params = EXCLUDED.strip_query_params,
				strip_query_prefixes = EXCLUDED.strip_query_prefixes,
				updated_at = now()
		`, uuid.NewString(), o.HostSuffix, o.StripWWW, o.ForceHTTPS, params, prefixes)
		return execErr
	})
}

// List backs `GET /admin/url-normalization-overrides` (§6): the full
// configured set, enabled and disabled alike, so an operator can see
// what they turned off.
func (r *OverridesRepo) List(ctx context.Context) ([]urlnorm.Override, error) {
	op := "url_overrides.list"
	var rows pgx.Rows
	err := r.observe(op, func() error {
		var execErr error
		rows, execErr = r.pool.Query(ctx, `SELECT `+overrideColumns+` FROM url_normalization_overrides ORDER BY host_suffix`)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []urlnorm.Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// SetEnabled implements the admin toggle (§6 `PATCH
// /admin/url-normalization-overrides/{hostSuffix}`).
func (r *OverridesRepo) SetEnabled(ctx context.Context, hostSuffix string, enabled bool) error {
	op := "url_overrides.set_enabled"
	return r.observe(op, func() error {
		_, execErr := r.pool.Exec(ctx, `UPDATE url_normalization_overrides SET enabled = $2, updated_at = now() WHERE host_suffix = $1`, hostSuffix, enabled)
		return execErr
	})
}
