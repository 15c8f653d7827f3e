package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sourcejob/controlplane/internal/domain/discovery"
	"github.com/sourcejob/controlplane/internal/observability"
)

type DiscoveriesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewDiscoveriesRepo(pool *pgxpool.Pool, prom *observability.Prom) *DiscoveriesRepo {
	return &DiscoveriesRepo{pool: pool, prom: prom}
}

func (r *DiscoveriesRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

const discoveryColumns = `id, origin_module_id, external_id, discovered_at, url, normalized_url,
	canonical_hash, title_hint, text_hint, metadata, created_at, updated_at`

func scanDiscovery(row pgx.Row) (discovery.Discovery, error) {
	var d discovery.Discovery
	var metaRaw []byte
	if err := row.Scan(
		&d.ID, &d.OriginModuleID, &d.ExternalID, &d.DiscoveredAt, &d.URL, &d.NormalizedURL,
		&d.CanonicalHash, &d.TitleHint, &d.TextHint, &metaRaw, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return discovery.Discovery{}, err
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &d.Metadata); err != nil {
			return discovery.Discovery{}, err
		}
	}
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	return d, nil
}

// InsertTx inserts a discovery inside the caller's transaction,
// eliding the insert via ON CONFLICT DO NOTHING on whichever
// uniqueness tuple applies (§3). Returns (discovery, true) when a new
// row was inserted, (discovery, false) when the insert was elided — in
// which case the caller must re-select.
func (r *DiscoveriesRepo) InsertTx(ctx context.Context, tx pgx.Tx, d discovery.Discovery) (bool, error) {
	meta, err := json.Marshal(d.Metadata)
	if err != nil {
		return false, err
	}

	var conflictTarget string
	switch {
	case d.ExternalID != nil:
		conflictTarget = "(origin_module_id, external_id) WHERE external_id IS NOT NULL"
	case d.NormalizedURL != nil:
		conflictTarget = "(origin_module_id, normalized_url) WHERE external_id IS NULL AND normalized_url IS NOT NULL"
	default:
		conflictTarget = ""
	}

	var tag pgx.CommandTag
	op := "discoveries.insert_tx"
	err = r.observe(op, func() error {
		var execErr error
		query := `INSERT INTO discoveries (` + discoveryColumns + `)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
		if conflictTarget != "" {
			query += ` ON CONFLICT ` + conflictTarget + ` DO NOTHING`
		}
		tag, execErr = tx.Exec(ctx, query,
			d.ID, d.OriginModuleID, d.ExternalID, d.DiscoveredAt, d.URL, d.NormalizedURL,
			d.CanonicalHash, d.TitleHint, d.TextHint, meta, d.CreatedAt, d.UpdatedAt,
		)
		return execErr
	})
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FindByUniquenessKeyTx re-selects the existing row by the same key
// InsertTx would have used, per §4.5 step 2.
func (r *DiscoveriesRepo) FindByUniquenessKeyTx(ctx context.Context, tx pgx.Tx, originModuleID string, externalID, normalizedURL *string) (discovery.Discovery, error) {
	op := "discoveries.find_by_uniqueness_key_tx"
	var row pgx.Row

	err := r.observe(op, func() error {
		switch {
		case externalID != nil:
			row = tx.QueryRow(ctx, `SELECT `+discoveryColumns+` FROM discoveries WHERE origin_module_id = $1 AND external_id = $2`, originModuleID, *externalID)
		case normalizedURL != nil:
			row = tx.QueryRow(ctx, `SELECT `+discoveryColumns+` FROM discoveries WHERE origin_module_id = $1 AND external_id IS NULL AND normalized_url = $2`, originModuleID, *normalizedURL)
		default:
			return discovery.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return discovery.Discovery{}, err
	}

	d, err := scanDiscovery(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return discovery.Discovery{}, discovery.ErrNotFound
		}
		return discovery.Discovery{}, err
	}
	return d, nil
}

func (r *DiscoveriesRepo) GetByID(ctx context.Context, id string) (discovery.Discovery, error) {
	op := "discoveries.get_by_id"
	var row pgx.Row
	err := r.observe(op, func() error {
		row = r.pool.QueryRow(ctx, `SELECT `+discoveryColumns+` FROM discoveries WHERE id = $1`, id)
		return nil
	})
	if err != nil {
		return discovery.Discovery{}, err
	}
	d, err := scanDiscovery(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return discovery.Discovery{}, discovery.ErrNotFound
		}
		return discovery.Discovery{}, err
	}
	return d, nil
}

func (r *DiscoveriesRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, id string) (discovery.Discovery, error) {
	op := "discoveries.get_by_id_tx"
	var row pgx.Row
	err := r.observe(op, func() error {
		row = tx.QueryRow(ctx, `SELECT `+discoveryColumns+` FROM discoveries WHERE id = $1 FOR UPDATE`, id)
		return nil
	})
	if err != nil {
		return discovery.Discovery{}, err
	}
	d, err := scanDiscovery(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return discovery.Discovery{}, discovery.ErrNotFound
		}
		return discovery.Discovery{}, err
	}
	return d, nil
}

// RewriteURLTx applies a resolve_url_redirects result to a discovery
// row in place (§4.6.3), guarded by the same uniqueness tuple so a
// collision raises a unique-violation the caller can translate into a
// redirect_resolution_conflict event.
func (r *DiscoveriesRepo) RewriteURLTx(ctx context.Context, tx pgx.Tx, id, url, normalizedURL, canonicalHash string) error {
	op := "discoveries.rewrite_url_tx"
	var tag pgx.CommandTag
	err := r.observe(op, func() error {
		var execErr error
		tag, execErr = tx.Exec(ctx, `
			UPDATE discoveries
			SET url = $2, normalized_url = $3, canonical_hash = $4, updated_at = now()
			WHERE id = $1
		`, id, url, normalizedURL, canonicalHash)
		return execErr
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return discovery.ErrNotFound
	}
	return nil
}
