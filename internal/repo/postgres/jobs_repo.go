package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sourcejob/controlplane/internal/domain/jobcore"
	"github.com/sourcejob/controlplane/internal/observability"
	"github.com/sourcejob/controlplane/internal/utils"
)

var (
	ErrJobNotClaimable = errors.New("job is not claimable")
	ErrJobForbidden    = errors.New("job is locked by another module")
	ErrJobNotClaimed   = errors.New("job is not claimed")
)

type JobsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewJobsRepo(pool *pgxpool.Pool, prom *observability.Prom) *JobsRepo {
	return &JobsRepo{pool: pool, prom: prom}
}

func (r *JobsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

const jobColumns = `id, kind, target_type, target_id, inputs_json, status, attempt,
	locked_by_module_id, locked_at, lease_expires_at, next_run_at, result_json, error_json,
	created_at, updated_at`

func scanJob(row pgx.Row) (jobcore.Job, error) {
	var j jobcore.Job
	var kind, targetType, status string
	if err := row.Scan(
		&j.ID, &kind, &targetType, &j.TargetID, &j.InputsJSON, &status, &j.Attempt,
		&j.LockedByModuleID, &j.LockedAt, &j.LeaseExpiresAt, &j.NextRunAt, &j.ResultJSON, &j.ErrorJSON,
		&j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return jobcore.Job{}, err
	}
	j.Kind = jobcore.Kind(kind)
	j.TargetType = jobcore.TargetType(targetType)
	j.Status = jobcore.Status(status)
	return j, nil
}

func (r *JobsRepo) CreateTx(ctx context.Context, tx pgx.Tx, req jobcore.CreateRequest) (jobcore.Job, error) {
	j, err := jobcore.New(req)
	if err != nil {
		return jobcore.Job{}, err
	}
	op := "jobs.create_tx"
	err = r.observe(op, func() error {
		_, execErr := tx.Exec(ctx, `
			INSERT INTO jobs (`+jobColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		`, j.ID, string(j.Kind), string(j.TargetType), j.TargetID, j.InputsJSON, string(j.Status), j.Attempt,
			j.LockedByModuleID, j.LockedAt, j.LeaseExpiresAt, j.NextRunAt, j.ResultJSON, j.ErrorJSON,
			j.CreatedAt, j.UpdatedAt)
		return execErr
	})
	if err != nil {
		return jobcore.Job{}, err
	}
	return j, nil
}

func (r *JobsRepo) Create(ctx context.Context, req jobcore.CreateRequest) (jobcore.Job, error) {
	j, err := jobcore.New(req)
	if err != nil {
		return jobcore.Job{}, err
	}
	op := "jobs.create"
	err = r.observe(op, func() error {
		_, execErr := r.pool.Exec(ctx, `
			INSERT INTO jobs (`+jobColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		`, j.ID, string(j.Kind), string(j.TargetType), j.TargetID, j.InputsJSON, string(j.Status), j.Attempt,
			j.LockedByModuleID, j.LockedAt, j.LeaseExpiresAt, j.NextRunAt, j.ResultJSON, j.ErrorJSON,
			j.CreatedAt, j.UpdatedAt)
		return execErr
	})
	if err != nil {
		return jobcore.Job{}, err
	}
	return j, nil
}

// ListQueued is an advisory, non-locking view (§4.6.1).
func (r *JobsRepo) ListQueued(ctx context.Context, limit int) ([]jobcore.Job, error) {
	op := "jobs.list_queued"
	var rows pgx.Rows
	err := r.observe(op, func() error {
		var execErr error
		rows, execErr = r.pool.Query(ctx, `
			SELECT `+jobColumns+` FROM jobs
			WHERE status = 'queued' AND next_run_at <= now()
			ORDER BY next_run_at ASC, created_at ASC
			LIMIT $1
		`, limit)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []jobcore.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Claim implements §4.6.2's single gated UPDATE. The URL-override
// overlay onto inputs_json for resolve_url_redirects/discovery jobs is
// applied by the caller (internal/jobqueue) after this returns, so the
// repo stays free of override-lookup concerns.
func (r *JobsRepo) Claim(ctx context.Context, jobID, moduleID string, leaseSeconds int) (jobcore.Job, error) {
	op := "jobs.claim"
	var row pgx.Row
	err := r.observe(op, func() error {
		row = r.pool.QueryRow(ctx, `
			UPDATE jobs
			SET status = 'claimed',
			    locked_by_module_id = $2,
			    locked_at = now(),
			    lease_expires_at = now() + ($3 * INTERVAL '1 second'),
			    attempt = attempt + 1,
			    updated_at = now()
			WHERE id = $1 AND status = 'queued' AND next_run_at <= now()
			RETURNING `+jobColumns, jobID, moduleID, leaseSeconds)
		return nil
	})
	if err != nil {
		return jobcore.Job{}, err
	}
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return jobcore.Job{}, ErrJobNotClaimable
		}
		return jobcore.Job{}, err
	}
	return j, nil
}

func (r *JobsRepo) GetByID(ctx context.Context, id string) (jobcore.Job, error) {
	op := "jobs.get_by_id"
	var row pgx.Row
	err := r.observe(op, func() error {
		row = r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
		return nil
	})
	if err != nil {
		return jobcore.Job{}, err
	}
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return jobcore.Job{}, jobcore.ErrNotFound
		}
		return jobcore.Job{}, err
	}
	return j, nil
}

// GetForUpdateTx locks the job row for §4.6.3's submit_result.
func (r *JobsRepo) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (jobcore.Job, error) {
	op := "jobs.get_for_update_tx"
	var row pgx.Row
	err := r.observe(op, func() error {
		row = tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
		return nil
	})
	if err != nil {
		return jobcore.Job{}, err
	}
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return jobcore.Job{}, jobcore.ErrNotFound
		}
		return jobcore.Job{}, err
	}
	return j, nil
}

// ApplyResolvedStatusTx sets the resolved status, clears the lock
// triplet, and stores attempt/next_run_at/result/error per the
// retry-policy decision the caller (internal/jobqueue) already made.
func (r *JobsRepo) ApplyResolvedStatusTx(ctx context.Context, tx pgx.Tx, id string, resolved jobcore.Status, nextRunAt time.Time, resultJSON, errorJSON []byte) error {
	op := "jobs.apply_resolved_status_tx"
	var tag pgconn.CommandTag
	err := r.observe(op, func() error {
		var execErr error
		tag, execErr = tx.Exec(ctx, `
			UPDATE jobs
			SET status = $2,
			    locked_by_module_id = NULL,
			    locked_at = NULL,
			    lease_expires_at = NULL,
			    next_run_at = $3,
			    result_json = $4,
			    error_json = $5,
			    updated_at = now()
			WHERE id = $1
		`, id, string(resolved), nextRunAt, resultJSON, errorJSON)
		return execErr
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return jobcore.ErrNotFound
	}
	return nil
}

// ReapExpiredTx requeues leases that expired (§4.6.4).
func (r *JobsRepo) ReapExpiredTx(ctx context.Context, tx pgx.Tx, limit int) ([]string, error) {
	op := "jobs.reap_expired_tx"
	var rows pgx.Rows
	err := r.observe(op, func() error {
		var execErr error
		rows, execErr = tx.Query(ctx, `
			WITH expired AS (
				SELECT id FROM jobs
				WHERE status = 'claimed' AND lease_expires_at <= now()
				ORDER BY lease_expires_at ASC
				LIMIT $1
				FOR UPDATE SKIP LOCKED
			)
			UPDATE jobs
			SET status = 'queued',
			    locked_by_module_id = NULL,
			    locked_at = NULL,
			    lease_expires_at = NULL,
			    next_run_at = now(),
			    updated_at = now()
			WHERE id IN (SELECT id FROM expired)
			RETURNING id
		`, limit)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PostingDueForFreshness is a minimal projection of the posting rows
// enqueue_due_freshness (§4.6.5) needs to build job inputs.
type PostingDueForFreshness struct {
	ID        string
	Status    string
	UpdatedAt time.Time
}

// EnqueueDueFreshnessTx selects postings in {active, stale} lacking a
// live or recent check_freshness job, locking them under SKIP LOCKED to
// prevent duplicate enqueues across callers; the caller
// (jobqueue.Engine.EnqueueDueFreshness) inserts one job per row.
func (r *JobsRepo) EnqueueDueFreshnessTx(ctx context.Context, tx pgx.Tx, limit int, intervalHours float64) ([]PostingDueForFreshness, error) {
	op := "jobs.enqueue_due_freshness_tx"
	var rows pgx.Rows
	err := r.observe(op, func() error {
		var execErr error
		rows, execErr = tx.Query(ctx, `
			SELECT p.id, p.status, p.updated_at
			FROM postings p
			WHERE p.status IN ('active','stale')
			  AND NOT EXISTS (
			      SELECT 1 FROM jobs j
			      WHERE j.target_type = 'posting' AND j.target_id = p.id
			        AND j.kind = 'check_freshness'
			        AND j.status IN ('queued','claimed')
			  )
			  AND NOT EXISTS (
			      SELECT 1 FROM jobs j
			      WHERE j.target_type = 'posting' AND j.target_id = p.id
			        AND j.kind = 'check_freshness'
			        AND j.status IN ('done','failed','dead_letter')
			        AND j.updated_at > now() - ($2 * INTERVAL '1 hour')
			  )
			ORDER BY p.updated_at ASC
			LIMIT $1
			FOR UPDATE OF p SKIP LOCKED
		`, limit, intervalHours)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PostingDueForFreshness
	for rows.Next() {
		var p PostingDueForFreshness
		if err := rows.Scan(&p.ID, &p.Status, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Admin listing, cursor-paginated newest-first.
func (r *JobsRepo) ListCursor(ctx context.Context, status *string, limit int, afterUpdatedAt time.Time, afterID string) (items []jobcore.Job, nextCursor *string, hasMore bool, err error) {
	op := "jobs.admin.list_cursor"

	base := `SELECT ` + jobColumns + ` FROM jobs`

	var (
		conds   []string
		args    []any
		argsPos = 1
	)

	if status != nil {
		conds = append(conds, fmt.Sprintf("status = $%d", argsPos))
		args = append(args, *status)
		argsPos++
	}

	conds = append(conds, fmt.Sprintf("(updated_at, id) < ($%d, $%d)", argsPos, argsPos+1))
	args = append(args, afterUpdatedAt, afterID)
	argsPos += 2

	q := base
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}

	limitPlusOne := limit + 1
	q += fmt.Sprintf(" ORDER BY updated_at DESC, id DESC LIMIT $%d", argsPos)
	args = append(args, limitPlusOne)

	var rows pgx.Rows
	err = r.observe(op, func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, q, args...)
		return qerr
	})
	if err != nil {
		return nil, nil, false, err
	}
	defer rows.Close()

	out := make([]jobcore.Job, 0, limit)
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, nil, false, scanErr
		}
		out = append(out, j)
	}
	if rows.Err() != nil {
		return nil, nil, false, rows.Err()
	}

	if len(out) > limit {
		hasMore = true
		out = out[:limit]
		last := out[len(out)-1]
		cur, encErr := utils.EncodeJobCursor(last.UpdatedAt, last.ID)
		if encErr != nil {
			return nil, nil, false, encErr
		}
		nextCursor = &cur
	}

	return out, nextCursor, hasMore, nil
}

// RequeueDeadLetter implements the admin manual-requeue operation
// (§6 `/admin/jobs/{id}/requeue`): resets a dead_letter job back to
// queued, to run immediately, without resetting its attempt count.
func (r *JobsRepo) RequeueDeadLetter(ctx context.Context, id string) error {
	op := "jobs.admin.requeue_dead_letter"
	var tag pgx.CommandTag
	err := r.observe(op, func() error {
		var execErr error
		tag, execErr = r.pool.Exec(ctx, `
			UPDATE jobs SET status = $2, next_run_at = now(), updated_at = now()
			WHERE id = $1 AND status = $3
		`, id, string(jobcore.StatusQueued), string(jobcore.StatusDeadLetter))
		return execErr
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return jobcore.ErrNotFound
	}
	return nil
}
