package syncjob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nikhilbhutani/paysync/internal/apperr"
	"github.com/nikhilbhutani/paysync/internal/connector"
	"github.com/nikhilbhutani/paysync/internal/logger"
	"github.com/nikhilbhutani/paysync/internal/metrics"
	"github.com/nikhilbhutani/paysync/internal/models"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

const DefaultMaxRetries = 3

// Tracker owns the job lifecycle; workers never write job rows directly.
type Tracker struct {
	repo       Repository
	maxRetries int
}

func NewTracker(repo Repository, maxRetries int) *Tracker {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Tracker{repo: repo, maxRetries: maxRetries}
}

func (t *Tracker) MaxRetries() int { return t.maxRetries }

func (t *Tracker) Create(ctx context.Context, scope tenant.Scope, jobType, provider string) (*models.SyncJob, error) {
	if jobType == "" {
		return nil, apperr.Validation("invalid_job_type", "job type is required")
	}
	job := &models.SyncJob{JobType: jobType, Audit: models.Audit{CreatedBy: tenant.ActorFromContext(ctx)}}
	if p := connector.Normalize(provider); p != "" {
		job.ProviderName = &p
	}
	created, err := t.repo.Create(ctx, scope, job)
	if err != nil {
		return nil, err
	}
	metrics.SyncTransitionsTotal.WithLabelValues(string(models.SyncPending)).Inc()
	return created, nil
}

func (t *Tracker) Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*models.SyncJob, error) {
	return t.repo.Get(ctx, scope, id)
}

func (t *Tracker) List(ctx context.Context, scope tenant.Scope, f ListFilter) ([]models.SyncJob, error) {
	f.Provider = connector.Normalize(f.Provider)
	if f.Status != "" && !validStatus(f.Status) {
		return nil, apperr.Validation("invalid_status", "unknown sync job status").With("status", string(f.Status))
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	return t.repo.List(ctx, scope, f)
}

// Claim moves a pending job to running. Only one of several concurrent
// callers succeeds; the rest get ErrInvalidTransition.
func (t *Tracker) Claim(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*models.SyncJob, error) {
	job, err := t.repo.Claim(ctx, scope, id, tenant.ActorFromContext(ctx))
	if err != nil {
		return nil, err
	}
	t.observe(ctx, job)
	return job, nil
}

func (t *Tracker) UpdateProgress(ctx context.Context, scope tenant.Scope, id uuid.UUID, progress int) (*models.SyncJob, error) {
	if progress < 0 || progress > 100 {
		return nil, ErrInvalidProgress
	}
	return t.repo.UpdateProgress(ctx, scope, id, progress, tenant.ActorFromContext(ctx))
}

func (t *Tracker) Complete(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*models.SyncJob, error) {
	job, err := t.repo.Complete(ctx, scope, id, tenant.ActorFromContext(ctx))
	if err != nil {
		return nil, err
	}
	t.observe(ctx, job)
	return job, nil
}

// Fail records cause on a running job. A retryable failure within budget
// puts the job back to pending; the returned job's status tells the caller
// whether to re-enqueue it.
func (t *Tracker) Fail(ctx context.Context, scope tenant.Scope, id uuid.UUID, cause error, retryable bool) (*models.SyncJob, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	job, err := t.repo.Fail(ctx, scope, id, FailParams{
		Message:    msg,
		Retryable:  retryable,
		MaxRetries: t.maxRetries,
	}, tenant.ActorFromContext(ctx))
	if err != nil {
		return nil, err
	}
	if job.Status == models.SyncPending {
		metrics.SyncTransitionsTotal.WithLabelValues(string(models.SyncFailed)).Inc()
	}
	t.observe(ctx, job)
	return job, nil
}

// CascadeTenant terminally fails the running jobs of a deactivated tenant.
// Its pending jobs fail when claimed, since their connections are gone.
func (t *Tracker) CascadeTenant(ctx context.Context, scope tenant.Scope) (int, error) {
	return t.repo.FailRunning(ctx, scope, "tenant deactivated", tenant.ActorFromContext(ctx))
}

// ReapStale fails running jobs that have not been updated for olderThan,
// which happens when a worker dies between Claim and its final transition.
// The attempt counts against the retry budget like any retryable failure.
func (t *Tracker) ReapStale(ctx context.Context, scope tenant.Scope, olderThan time.Duration) ([]models.SyncJob, error) {
	jobs, err := t.repo.FailStale(ctx, scope, olderThan, FailParams{
		Message:    fmt.Sprintf("worker lost: no progress for %s", olderThan),
		Retryable:  true,
		MaxRetries: t.maxRetries,
	}, tenant.ActorFromContext(ctx))
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		t.observe(ctx, &jobs[i])
	}
	return jobs, nil
}

func (t *Tracker) observe(ctx context.Context, job *models.SyncJob) {
	metrics.SyncTransitionsTotal.WithLabelValues(string(job.Status)).Inc()
	logger.FromContext(ctx).Debug("sync job transition",
		zap.String("job_id", job.ID.String()),
		zap.String("status", string(job.Status)),
		zap.Int("retry_count", job.RetryCount))
}

func validStatus(s models.SyncStatus) bool {
	switch s {
	case models.SyncPending, models.SyncRunning, models.SyncCompleted, models.SyncFailed:
		return true
	}
	return false
}

// IsInvalidTransition reports whether err is a rejected state change.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
