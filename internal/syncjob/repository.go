package syncjob

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/paysync/internal/apperr"
	"github.com/nikhilbhutani/paysync/internal/models"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

var (
	ErrNotFound          = apperr.NotFound("sync_job_not_found", "sync job not found")
	ErrInvalidTransition = apperr.Conflict("invalid_job_transition", "sync job cannot make this transition")
	ErrInvalidProgress   = apperr.Validation("invalid_progress", "progress must be between 0 and 100")
)

type ListFilter struct {
	Status   models.SyncStatus
	Provider string
	Limit    int
	Offset   int
}

type FailParams struct {
	Message    string
	Retryable  bool
	MaxRetries int
}

// Repository applies each transition as a compare-and-swap on the job's
// current status. A failed swap on an existing job yields ErrInvalidTransition.
type Repository interface {
	Create(ctx context.Context, scope tenant.Scope, job *models.SyncJob) (*models.SyncJob, error)
	Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*models.SyncJob, error)
	List(ctx context.Context, scope tenant.Scope, f ListFilter) ([]models.SyncJob, error)

	// Claim moves pending -> running; started_at is set only the first time.
	Claim(ctx context.Context, scope tenant.Scope, id uuid.UUID, actor string) (*models.SyncJob, error)
	// UpdateProgress applies only while running and never lowers progress.
	UpdateProgress(ctx context.Context, scope tenant.Scope, id uuid.UUID, progress int, actor string) (*models.SyncJob, error)
	Complete(ctx context.Context, scope tenant.Scope, id uuid.UUID, actor string) (*models.SyncJob, error)
	// Fail records the message and increments retry_count. The job returns
	// to pending when retryable and retry_count stays below MaxRetries;
	// otherwise it ends failed.
	Fail(ctx context.Context, scope tenant.Scope, id uuid.UUID, p FailParams, actor string) (*models.SyncJob, error)
	// FailRunning terminally fails every running job of the tenant.
	FailRunning(ctx context.Context, scope tenant.Scope, message, actor string) (int, error)
	// FailStale applies Fail to every running job of the tenant whose last
	// update is older than olderThan, and returns the jobs it moved.
	FailStale(ctx context.Context, scope tenant.Scope, olderThan time.Duration, p FailParams, actor string) ([]models.SyncJob, error)
}

func transitionError(job *models.SyncJob, to models.SyncStatus) error {
	return ErrInvalidTransition.With("from", string(job.Status)).With("to", string(to))
}
