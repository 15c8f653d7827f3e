package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sourcejob/controlplane/internal/domain/posting"
	"github.com/sourcejob/controlplane/internal/observability"
)

type PostingsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewPostingsRepo(pool *pgxpool.Pool, prom *observability.Prom) *PostingsRepo {
	return &PostingsRepo{pool: pool, prom: prom}
}

func (r *PostingsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

const postingColumns = `id, candidate_id, title, canonical_url, normalized_url, canonical_hash,
	organization_name, sector, degree_level, opportunity_kind, country, region, city, remote,
	tags, areas, description_text, application_url, deadline, source_refs, status, published_at,
	created_at, updated_at`

func scanPosting(row pgx.Row) (posting.Posting, error) {
	var p posting.Posting
	var status string
	var tagsRaw, areasRaw, refsRaw []byte
	if err := row.Scan(
		&p.ID, &p.CandidateID, &p.Title, &p.CanonicalURL, &p.NormalizedURL, &p.CanonicalHash,
		&p.OrganizationName, &p.Sector, &p.DegreeLevel, &p.OpportunityKind, &p.Country, &p.Region, &p.City, &p.Remote,
		&tagsRaw, &areasRaw, &p.DescriptionText, &p.ApplicationURL, &p.Deadline, &refsRaw, &status, &p.PublishedAt,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return posting.Posting{}, err
	}
	p.Status = posting.Status(status)
	if len(tagsRaw) > 0 {
		if err := json.Unmarshal(tagsRaw, &p.Tags); err != nil {
			return posting.Posting{}, err
		}
	}
	if len(areasRaw) > 0 {
		if err := json.Unmarshal(areasRaw, &p.Areas); err != nil {
			return posting.Posting{}, err
		}
	}
	if len(refsRaw) > 0 {
		if err := json.Unmarshal(refsRaw, &p.SourceRefs); err != nil {
			return posting.Posting{}, err
		}
	}
	return p, nil
}

func (r *PostingsRepo) GetByID(ctx context.Context, id string) (posting.Posting, error) {
	op := "postings.get_by_id"
	var row pgx.Row
	err := r.observe(op, func() error {
		row = r.pool.QueryRow(ctx, `SELECT `+postingColumns+` FROM postings WHERE id = $1`, id)
		return nil
	})
	if err != nil {
		return posting.Posting{}, err
	}
	p, err := scanPosting(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return posting.Posting{}, posting.ErrNotFound
		}
		return posting.Posting{}, err
	}
	return p, nil
}

func (r *PostingsRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, id string) (posting.Posting, error) {
	op := "postings.get_by_id_tx"
	var row pgx.Row
	err := r.observe(op, func() error {
		row = tx.QueryRow(ctx, `SELECT `+postingColumns+` FROM postings WHERE id = $1 FOR UPDATE`, id)
		return nil
	})
	if err != nil {
		return posting.Posting{}, err
	}
	p, err := scanPosting(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return posting.Posting{}, posting.ErrNotFound
		}
		return posting.Posting{}, err
	}
	return p, nil
}

func (r *PostingsRepo) GetByCandidateIDTx(ctx context.Context, tx pgx.Tx, candidateID string) (posting.Posting, error) {
	op := "postings.get_by_candidate_id_tx"
	var row pgx.Row
	err := r.observe(op, func() error {
		row = tx.QueryRow(ctx, `SELECT `+postingColumns+` FROM postings WHERE candidate_id = $1 FOR UPDATE`, candidateID)
		return nil
	})
	if err != nil {
		return posting.Posting{}, err
	}
	p, err := scanPosting(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return posting.Posting{}, posting.ErrNotFound
		}
		return posting.Posting{}, err
	}
	return p, nil
}

// UpsertTx applies the §4.7 step-9 posting projection: insert or
// ON CONFLICT (canonical_hash) DO UPDATE, the global dedupe key (P5).
func (r *PostingsRepo) UpsertTx(ctx context.Context, tx pgx.Tx, p posting.Posting) (posting.Posting, error) {
	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return posting.Posting{}, err
	}
	areas, err := json.Marshal(p.Areas)
	if err != nil {
		return posting.Posting{}, err
	}
	refs, err := json.Marshal(p.SourceRefs)
	if err != nil {
		return posting.Posting{}, err
	}

	op := "postings.upsert_tx"
	var row pgx.Row
	err = r.observe(op, func() error {
		row = tx.QueryRow(ctx, `
			INSERT INTO postings (`+postingColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
			ON CONFLICT (canonical_hash) DO UPDATE SET
				candidate_id = EXCLUDED.candidate_id,
				title = EXCLUDED.title,
				canonical_url = EXCLUDED.canonical_url,
				normalized_url = EXCLUDED.normalized_url,
				organization_name = EXCLUDED.organization_name,
				sector = EXCLUDED.sector,
				degree_level = EXCLUDED.degree_level,
				opportunity_kind = EXCLUDED.opportunity_kind,
				country = EXCLUDED.country,
				region = EXCLUDED.region,
				city = EXCLUDED.city,
				remote = EXCLUDED.remote,
				tags = EXCLUDED.tags,
				areas = EXCLUDED.areas,
				description_text = EXCLUDED.description_text,
				application_url = EXCLUDED.application_url,
				deadline = EXCLUDED.deadline,
				source_refs = EXCLUDED.source_refs,
				status = EXCLUDED.status,
				published_at = COALESCE(postings.published_at, EXCLUDED.published_at),
				updated_at = now()
			RETURNING `+postingColumns,
			p.ID, p.CandidateID, p.Title, p.CanonicalURL, p.NormalizedURL, p.CanonicalHash,
			p.OrganizationName, p.Sector, p.DegreeLevel, p.OpportunityKind, p.Country, p.Region, p.City, p.Remote,
			tags, areas, p.DescriptionText, p.ApplicationURL, p.Deadline, refs, string(p.Status), p.PublishedAt,
			p.CreatedAt, p.UpdatedAt)
		return nil
	})
	if err != nil {
		return posting.Posting{}, err
	}
	return scanPosting(row)
}

func (r *PostingsRepo) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id string, status posting.Status, setPublishedAtIfUnset bool) error {
	op := "postings.update_status_tx"
	var tag pgx.CommandTag
	err := r.observe(op, func() error {
		var execErr error
		if setPublishedAtIfUnset {
			tag, execErr = tx.Exec(ctx, `
				UPDATE postings SET status = $2, published_at = COALESCE(published_at, now()), updated_at = now()
				WHERE id = $1
			`, id, string(status))
		} else {
			tag, execErr = tx.Exec(ctx, `UPDATE postings SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
		}
		return execErr
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return posting.ErrNotFound
	}
	return nil
}

func (r *PostingsRepo) ReparentTx(ctx context.Context, tx pgx.Tx, postingID, newCandidateID string) error {
	op := "postings.reparent_tx"
	var tag pgx.CommandTag
	err := r.observe(op, func() error {
		var execErr error
		tag, execErr = tx.Exec(ctx, `UPDATE postings SET candidate_id = $2, updated_at = now() WHERE id = $1`, postingID, newCandidateID)
		return execErr
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return posting.ErrNotFound
	}
	return nil
}

// List implements the public catalog read surface (§6) with simple
// equality/substring filters and keyset-free offset pagination — the
// query-planning behind full-text search is explicitly out of scope.
func (r *PostingsRepo) List(ctx context.Context, f posting.ListFilter) ([]posting.Posting, error) {
	op := "postings.list"

	var conds []string
	var args []any
	pos := 1

	if f.Query != nil && *f.Query != "" {
		conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR description_text ILIKE $%d)", pos, pos))
		args = append(args, "%"+*f.Query+"%")
		pos++
	}
	if f.OrganizationName != nil {
		conds = append(conds, fmt.Sprintf("organization_name = $%d", pos))
		args = append(args, *f.OrganizationName)
		pos++
	}
	if f.Country != nil {
		conds = append(conds, fmt.Sprintf("country = $%d", pos))
		args = append(args, *f.Country)
		pos++
	}
	if f.Remote != nil {
		conds = append(conds, fmt.Sprintf("remote = $%d", pos))
		args = append(args, *f.Remote)
		pos++
	}
	if f.Status != nil {
		conds = append(conds, fmt.Sprintf("status = $%d", pos))
		args = append(args, string(*f.Status))
		pos++
	}
	if f.Tag != nil {
		conds = append(conds, fmt.Sprintf("tags @> $%d", pos))
		tagJSON, _ := json.Marshal([]string{*f.Tag})
		args = append(args, tagJSON)
		pos++
	}

	sortCol := "created_at"
	switch f.Sort {
	case "updated_at", "deadline", "published_at":
		sortCol = f.Sort
	}
	dir := "DESC"
	if f.Ascending {
		dir = "ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := `SELECT ` + postingColumns + ` FROM postings`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += fmt.Sprintf(" ORDER BY %s %s LIMIT $%d OFFSET $%d", sortCol, dir, pos, pos+1)
	args = append(args, limit, f.Offset)

	var rows pgx.Rows
	err := r.observe(op, func() error {
		var execErr error
		rows, execErr = r.pool.Query(ctx, q, args...)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []posting.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
