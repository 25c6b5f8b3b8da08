package syncjob

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nikhilbhutani/paysync/internal/apperr"
	"github.com/nikhilbhutani/paysync/internal/logger"
	"github.com/nikhilbhutani/paysync/internal/models"
	"github.com/nikhilbhutani/paysync/internal/queue"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

// Enqueuer hands a job to the worker queue.
type Enqueuer interface {
	EnqueueSyncRun(ctx context.Context, payload queue.SyncRunPayload, delay time.Duration) error
}

type Scheduler struct {
	tracker    *Tracker
	queue      Enqueuer
	backoff    time.Duration
	staleAfter time.Duration
}

func NewScheduler(tracker *Tracker, q Enqueuer, backoff time.Duration) *Scheduler {
	if backoff <= 0 {
		backoff = 30 * time.Second
	}
	return &Scheduler{tracker: tracker, queue: q, backoff: backoff, staleAfter: 2 * queue.SyncRunTimeout}
}

// WithStaleAfter sets how long a running job may sit without an update
// before RecoverStale takes it back. Keep it above queue.SyncRunTimeout so
// live workers are never reaped.
func (s *Scheduler) WithStaleAfter(d time.Duration) *Scheduler {
	if d > 0 {
		s.staleAfter = d
	}
	return s
}

// ScheduleSync creates a pending job and enqueues it. A job that cannot be
// enqueued is failed terminally so it does not linger as pending.
func (s *Scheduler) ScheduleSync(ctx context.Context, scope tenant.Scope, provider, jobType string) (*models.SyncJob, error) {
	job, err := s.tracker.Create(ctx, scope, jobType, provider)
	if err != nil {
		return nil, err
	}

	if err := s.queue.EnqueueSyncRun(ctx, payload(job), 0); err != nil {
		logger.FromContext(ctx).Error("enqueue sync job", zap.String("job_id", job.ID.String()), zap.Error(err))
		if _, cerr := s.tracker.Claim(ctx, scope, job.ID); cerr == nil {
			_, _ = s.tracker.Fail(ctx, scope, job.ID, fmt.Errorf("enqueue: %w", err), false)
		}
		return nil, apperr.Internal("enqueue sync job", err)
	}
	return job, nil
}

// Retry re-enqueues a job the tracker returned to pending, delayed by
// backoff * retry_count^2.
func (s *Scheduler) Retry(ctx context.Context, job *models.SyncJob) error {
	if job.Status != models.SyncPending {
		return nil
	}
	return s.queue.EnqueueSyncRun(ctx, payload(job), s.Backoff(job.RetryCount))
}

// RecoverStale reaps the tenant's stranded running jobs and re-enqueues
// those that still have retry budget. It returns how many were reaped.
func (s *Scheduler) RecoverStale(ctx context.Context, scope tenant.Scope) (int, error) {
	jobs, err := s.tracker.ReapStale(ctx, scope, s.staleAfter)
	if err != nil {
		return 0, err
	}
	for i := range jobs {
		if err := s.Retry(ctx, &jobs[i]); err != nil {
			return len(jobs), fmt.Errorf("re-enqueue stale job %s: %w", jobs[i].ID, err)
		}
	}
	return len(jobs), nil
}

func (s *Scheduler) Backoff(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	return s.backoff * time.Duration(retry*retry)
}

func payload(job *models.SyncJob) queue.SyncRunPayload {
	p := queue.SyncRunPayload{
		JobID:    job.ID.String(),
		TenantID: job.TenantID.String(),
		Attempt:  job.RetryCount,
	}
	if job.ProviderName != nil {
		p.Provider = *job.ProviderName
	}
	return p
}
