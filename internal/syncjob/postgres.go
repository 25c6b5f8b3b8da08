package syncjob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/paysync/internal/models"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

const jobColumns = `id, tenant_id, job_type, status, progress, error_message, started_at, completed_at,
	retry_count, provider_name, created_at, created_by, updated_at, updated_by, deleted_at, COALESCE(deleted_by, '')`

type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanJob(row pgx.Row) (*models.SyncJob, error) {
	var j models.SyncJob
	err := row.Scan(&j.ID, &j.TenantID, &j.JobType, &j.Status, &j.Progress, &j.ErrorMessage, &j.StartedAt,
		&j.CompletedAt, &j.RetryCount, &j.ProviderName, &j.CreatedAt, &j.CreatedBy, &j.UpdatedAt, &j.UpdatedBy,
		&j.DeletedAt, &j.DeletedBy)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *PostgresRepository) Create(ctx context.Context, scope tenant.Scope, job *models.SyncJob) (*models.SyncJob, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	created, err := scanJob(r.db.QueryRow(ctx,
		`INSERT INTO sync_jobs (tenant_id, job_type, provider_name, created_by, updated_by)
		 VALUES ($1, $2, $3, $4, $4)
		 RETURNING `+jobColumns,
		scope.TenantID(), job.JobType, job.ProviderName, job.CreatedBy,
	))
	if err != nil {
		return nil, fmt.Errorf("create sync job: %w", err)
	}
	return created, nil
}

func (r *PostgresRepository) Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*models.SyncJob, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	j, err := scanJob(r.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM sync_jobs WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`,
		id, scope.TenantID(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sync job: %w", err)
	}
	return j, nil
}

func (r *PostgresRepository) List(ctx context.Context, scope tenant.Scope, f ListFilter) ([]models.SyncJob, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}

	query := `SELECT ` + jobColumns + ` FROM sync_jobs WHERE tenant_id = $1 AND deleted_at IS NULL`
	args := []interface{}{scope.TenantID()}
	argIdx := 2

	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, f.Status)
		argIdx++
	}
	if f.Provider != "" {
		query += fmt.Sprintf(" AND provider_name = $%d", argIdx)
		args = append(args, f.Provider)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.SyncJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// swap runs a guarded UPDATE ... RETURNING. No row means either the job is
// missing or its status did not match the guard.
func (r *PostgresRepository) swap(ctx context.Context, scope tenant.Scope, id uuid.UUID, to models.SyncStatus, query string, args ...interface{}) (*models.SyncJob, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	j, err := scanJob(r.db.QueryRow(ctx, query, append([]interface{}{id, scope.TenantID()}, args...)...))
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update sync job: %w", err)
	}
	current, err := r.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	return nil, transitionError(current, to)
}

func (r *PostgresRepository) Claim(ctx context.Context, scope tenant.Scope, id uuid.UUID, actor string) (*models.SyncJob, error) {
	return r.swap(ctx, scope, id, models.SyncRunning, `
		UPDATE sync_jobs
		SET status = 'running', started_at = COALESCE(started_at, now()),
		    updated_at = now(), updated_by = $3
		WHERE id = $1 AND tenant_id = $2 AND status = 'pending' AND deleted_at IS NULL
		RETURNING `+jobColumns, actor)
}

func (r *PostgresRepository) UpdateProgress(ctx context.Context, scope tenant.Scope, id uuid.UUID, progress int, actor string) (*models.SyncJob, error) {
	return r.swap(ctx, scope, id, models.SyncRunning, `
		UPDATE sync_jobs
		SET progress = GREATEST(progress, $3), updated_at = now(), updated_by = $4
		WHERE id = $1 AND tenant_id = $2 AND status = 'running' AND deleted_at IS NULL
		RETURNING `+jobColumns, progress, actor)
}

func (r *PostgresRepository) Complete(ctx context.Context, scope tenant.Scope, id uuid.UUID, actor string) (*models.SyncJob, error) {
	return r.swap(ctx, scope, id, models.SyncCompleted, `
		UPDATE sync_jobs
		SET status = 'completed', progress = 100, completed_at = now(), error_message = NULL,
		    updated_at = now(), updated_by = $3
		WHERE id = $1 AND tenant_id = $2 AND status = 'running' AND deleted_at IS NULL
		RETURNING `+jobColumns, actor)
}

// Fail decides retry versus terminal in the same statement; SET
// expressions read the pre-update retry_count.
func (r *PostgresRepository) Fail(ctx context.Context, scope tenant.Scope, id uuid.UUID, p FailParams, actor string) (*models.SyncJob, error) {
	return r.swap(ctx, scope, id, models.SyncFailed, `
		UPDATE sync_jobs
		SET retry_count   = retry_count + 1,
		    error_message = $5,
		    status        = CASE WHEN $3::boolean AND retry_count + 1 < $4::int THEN 'pending' ELSE 'failed' END,
		    progress      = CASE WHEN $3::boolean AND retry_count + 1 < $4::int THEN 0 ELSE progress END,
		    completed_at  = CASE WHEN $3::boolean AND retry_count + 1 < $4::int THEN NULL ELSE now() END,
		    updated_at    = now(),
		    updated_by    = $6
		WHERE id = $1 AND tenant_id = $2 AND status = 'running' AND deleted_at IS NULL
		RETURNING `+jobColumns, p.Retryable, p.MaxRetries, truncate(p.Message), actor)
}

// FailStale shares Fail's retry decision. The status and updated_at guard
// makes it a swap, so a worker that reports in concurrently wins or loses
// cleanly.
func (r *PostgresRepository) FailStale(ctx context.Context, scope tenant.Scope, olderThan time.Duration, p FailParams, actor string) ([]models.SyncJob, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `
		UPDATE sync_jobs
		SET retry_count   = retry_count + 1,
		    error_message = $5,
		    status        = CASE WHEN $3::boolean AND retry_count + 1 < $4::int THEN 'pending' ELSE 'failed' END,
		    progress      = CASE WHEN $3::boolean AND retry_count + 1 < $4::int THEN 0 ELSE progress END,
		    completed_at  = CASE WHEN $3::boolean AND retry_count + 1 < $4::int THEN NULL ELSE now() END,
		    updated_at    = now(),
		    updated_by    = $6
		WHERE tenant_id = $1 AND status = 'running' AND deleted_at IS NULL
		  AND updated_at < now() - make_interval(secs => $2::double precision)
		RETURNING `+jobColumns,
		scope.TenantID(), olderThan.Seconds(), p.Retryable, p.MaxRetries, truncate(p.Message), actor,
	)
	if err != nil {
		return nil, fmt.Errorf("fail stale jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.SyncJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepository) FailRunning(ctx context.Context, scope tenant.Scope, message, actor string) (int, error) {
	if err := scope.Check(); err != nil {
		return 0, err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE sync_jobs
		SET status = 'failed', error_message = $2, completed_at = now(), updated_at = now(), updated_by = $3
		WHERE tenant_id = $1 AND status = 'running' AND deleted_at IS NULL`,
		scope.TenantID(), truncate(message), actor,
	)
	if err != nil {
		return 0, fmt.Errorf("fail running jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
