package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sourcejob/controlplane/internal/domain/candidate"
	"github.com/sourcejob/controlplane/internal/observability"
)

type CandidatesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewCandidatesRepo(pool *pgxpool.Pool, prom *observability.Prom) *CandidatesRepo {
	return &CandidatesRepo{pool: pool, prom: prom}
}

func (r *CandidatesRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

const candidateColumns = `id, state, dedupe_bucket_key, dedupe_confidence, extracted_fields, risk_flags, created_at, updated_at`

func scanCandidate(row pgx.Row) (candidate.Candidate, error) {
	var c candidate.Candidate
	var state string
	var fieldsRaw, flagsRaw []byte
	if err := row.Scan(&c.ID, &state, &c.DedupeBucketKey, &c.DedupeConfidence, &fieldsRaw, &flagsRaw, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return candidate.Candidate{}, err
	}
	c.State = candidate.State(state)
	if len(fieldsRaw) > 0 {
		if err := json.Unmarshal(fieldsRaw, &c.ExtractedFields); err != nil {
			return candidate.Candidate{}, err
		}
	}
	if c.ExtractedFields == nil {
		c.ExtractedFields = map[string]any{}
	}
	if len(flagsRaw) > 0 {
		if err := json.Unmarshal(flagsRaw, &c.RiskFlags); err != nil {
			return candidate.Candidate{}, err
		}
	}
	if c.RiskFlags == nil {
		c.RiskFlags = []string{}
	}
	return c, nil
}

func (r *CandidatesRepo) InsertTx(ctx context.Context, tx pgx.Tx, c candidate.Candidate) error {
	fields, err := json.Marshal(c.ExtractedFields)
	if err != nil {
		return err
	}
	flags, err := json.Marshal(c.RiskFlags)
	if err != nil {
		return err
	}
	op := "candidates.insert_tx"
	return r.observe(op, func() error {
		_, execErr := tx.Exec(ctx, `
			INSERT INTO posting_candidates (`+candidateColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, c.ID, string(c.State), c.DedupeBucketKey, c.DedupeConfidence, fields, flags, c.CreatedAt, c.UpdatedAt)
		return execErr
	})
}

func (r *CandidatesRepo) GetByID(ctx context.Context, id string) (candidate.Candidate, error) {
	op := "candidates.get_by_id"
	var row pgx.Row
	err := r.observe(op, func() error {
		row = r.pool.QueryRow(ctx, `SELECT `+candidateColumns+` FROM posting_candidates WHERE id = $1`, id)
		return nil
	})
	if err != nil {
		return candidate.Candidate{}, err
	}
	c, err := scanCandidate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return candidate.Candidate{}, candidate.ErrNotFound
		}
		return candidate.Candidate{}, err
	}
	return c, nil
}

func (r *CandidatesRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, id string) (candidate.Candidate, error) {
	op := "candidates.get_by_id_tx"
	var row pgx.Row
	err := r.observe(op, func() error {
		row = tx.QueryRow(ctx, `SELECT `+candidateColumns+` FROM posting_candidates WHERE id = $1 FOR UPDATE`, id)
		return nil
	})
	if err != nil {
		return candidate.Candidate{}, err
	}
	c, err := scanCandidate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return candidate.Candidate{}, candidate.ErrNotFound
		}
		return candidate.Candidate{}, err
	}
	return c, nil
}

// GetManyForUpdateTx locks two candidate rows in a caller-supplied
// order, so merge_candidates (§4.8) can lock ids in ascending order
// and stay deadlock-safe regardless of call order.
func (r *CandidatesRepo) GetManyForUpdateTx(ctx context.Context, tx pgx.Tx, orderedIDs []string) (map[string]candidate.Candidate, error) {
	out := map[string]candidate.Candidate{}
	for _, id := range orderedIDs {
		c, err := r.GetByIDTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out[id] = c
	}
	return out, nil
}

func (r *CandidatesRepo) UpdateStateTx(ctx context.Context, tx pgx.Tx, id string, state candidate.State) error {
	op := "candidates.update_state_tx"
	var tag pgx.CommandTag
	err := r.observe(op, func() error {
		var execErr error
		tag, execErr = tx.Exec(ctx, `UPDATE posting_candidates SET state = $2, updated_at = now() WHERE id = $1`, id, string(state))
		return execErr
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return candidate.ErrNotFound
	}
	return nil
}

func (r *CandidatesRepo) UpdateDedupeTx(ctx context.Context, tx pgx.Tx, id string, bucketKey *string, confidence *float64, riskFlags []string) error {
	flags := riskFlags
	if flags == nil {
		flags = []string{}
	}
	raw, err := json.Marshal(flags)
	if err != nil {
		return err
	}
	op := "candidates.update_dedupe_tx"
	var tag pgx.CommandTag
	err = r.observe(op, func() error {
		var execErr error
		tag, execErr = tx.Exec(ctx, `
			UPDATE posting_candidates
			SET dedupe_bucket_key = $2, dedupe_confidence = $3, risk_flags = $4, updated_at = now()
			WHERE id = $1
		`, id, bucketKey, confidence, raw)
		return execErr
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return candidate.ErrNotFound
	}
	return nil
}

func (r *CandidatesRepo) LinkDiscoveryTx(ctx context.Context, tx pgx.Tx, candidateID, discoveryID string) error {
	op := "candidates.link_discovery_tx"
	return r.observe(op, func() error {
		_, execErr := tx.Exec(ctx, `
			INSERT INTO candidate_discoveries (candidate_id, discovery_id) VALUES ($1,$2)
			ON CONFLICT DO NOTHING
		`, candidateID, discoveryID)
		return execErr
	})
}

// CopyLinksTx copies candidate_discoveries/candidate_evidence rows from
// secondary to primary during merge_candidates (§4.8), idempotently.
func (r *CandidatesRepo) CopyLinksTx(ctx context.Context, tx pgx.Tx, primaryID, secondaryID string) error {
	op := "candidates.copy_links_tx"
	return r.observe(op, func() error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO candidate_discoveries (candidate_id, discovery_id)
			SELECT $1, discovery_id FROM candidate_discoveries WHERE candidate_id = $2
			ON CONFLICT DO NOTHING
		`, primaryID, secondaryID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO candidate_evidence (candidate_id, evidence_id)
			SELECT $1, evidence_id FROM candidate_evidence WHERE candidate_id = $2
			ON CONFLICT DO NOTHING
		`, primaryID, secondaryID)
		return err
	})
}

// DedupeCandidateRow is one row of FindMatchingForDedupeTx, which queries
// candidates joined to postings whose
// canonical_hash/normalized_url/canonical_url/application_url matches any
// of the incoming values, excluding archived candidates (§4.7 step 7).
type DedupeCandidateRow struct {
	CandidateID      string
	PostingID        *string
	CanonicalHash    *string
	NormalizedURL    *string
	CanonicalURL     *string
	ApplicationURL   *string
	Title            *string
	OrganizationName *string
	Tags             []string
	Areas            []string
	DescriptionText  *string
}

// FindMatchingForDedupeTx loads the full field set internal/dedupe needs
// to build a CandidateSnapshot for each existing posting candidate that
// shares a strong-signal value with the incoming one, so the scorer
// never has to fall back to blank title/tags/areas/description.
func (r *CandidatesRepo) FindMatchingForDedupeTx(ctx context.Context, tx pgx.Tx, canonicalHash, normalizedURL, canonicalURL, applicationURL string, limit int) ([]DedupeCandidateRow, error) {
	op := "candidates.find_matching_for_dedupe_tx"
	var rows pgx.Rows
	err := r.observe(op, func() error {
		var execErr error
		rows, execErr = tx.Query(ctx, `
			SELECT pc.id, p.id, p.canonical_hash, p.normalized_url, p.canonical_url, p.application_url,
				p.title, p.organization_name, p.tags, p.areas, p.description_text
			FROM postings p
			JOIN posting_candidates pc ON pc.id = p.candidate_id
			WHERE pc.state != 'archived'
			  AND (p.canonical_hash = $1 OR p.normalized_url = $2 OR p.canonical_url = $3 OR p.application_url = $4)
			LIMIT $5
		`, canonicalHash, normalizedURL, canonicalURL, applicationURL, limit)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DedupeCandidateRow
	for rows.Next() {
		var d DedupeCandidateRow
		var tagsRaw, areasRaw []byte
		if err := rows.Scan(&d.CandidateID, &d.PostingID, &d.CanonicalHash, &d.NormalizedURL, &d.CanonicalURL,
			&d.ApplicationURL, &d.Title, &d.OrganizationName, &tagsRaw, &areasRaw, &d.DescriptionText); err != nil {
			return nil, err
		}
		if len(tagsRaw) > 0 {
			if err := json.Unmarshal(tagsRaw, &d.Tags); err != nil {
				return nil, err
			}
		}
		if len(areasRaw) > 0 {
			if err := json.Unmarshal(areasRaw, &d.Areas); err != nil {
				return nil, err
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// List implements the moderation queue surface (§6 `GET /candidates`):
// state/risk-flag filters over offset pagination, newest first unless
// the caller asks for ascending order.
func (r *CandidatesRepo) List(ctx context.Context, f candidate.ListFilter) ([]candidate.Candidate, error) {
	op := "candidates.list"

	var conds []string
	var args []any
	pos := 1

	if f.State != nil {
		conds = append(conds, fmt.Sprintf("state = $%d", pos))
		args = append(args, string(*f.State))
		pos++
	}
	if f.RiskFlag != nil {
		conds = append(conds, fmt.Sprintf("risk_flags @> $%d", pos))
		flagJSON, _ := json.Marshal([]string{*f.RiskFlag})
		args = append(args, flagJSON)
		pos++
	}

	dir := "DESC"
	if f.Ascending {
		dir = "ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := `SELECT ` + candidateColumns + ` FROM posting_candidates`
	if len(conds) > 0 {
		q += " WHERE " + joinConds(conds)
	}
	q += fmt.Sprintf(" ORDER BY created_at %s LIMIT $%d OFFSET $%d", dir, pos, pos+1)
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

	var out []candidate.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Facets implements the queue's `GET /candidates/facets` chip counts:
// one grouped query rather than one COUNT per candidate.State.
func (r *CandidatesRepo) Facets(ctx context.Context) (candidate.Facets, error) {
	op := "candidates.facets"
	var rows pgx.Rows
	err := r.observe(op, func() error {
		var execErr error
		rows, execErr = r.pool.Query(ctx, `SELECT state, count(*) FROM posting_candidates GROUP BY state`)
		return execErr
	})
	if err != nil {
		return candidate.Facets{}, err
	}
	defer rows.Close()

	out := candidate.Facets{ByState: map[candidate.State]int{}}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return candidate.Facets{}, err
		}
		out.ByState[candidate.State(state)] = n
		out.Total += n
	}
	return out, rows.Err()
}

func joinConds(conds []string) string {
	out := conds[0]
	for _, c := range conds[1:] {
		out += " AND " + c
	}
	return out
}
