package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/nikhilbhutani/paysync/internal/apperr"
	"github.com/nikhilbhutani/paysync/internal/connection"
	"github.com/nikhilbhutani/paysync/internal/connector"
	"github.com/nikhilbhutani/paysync/internal/logger"
	"github.com/nikhilbhutani/paysync/internal/models"
	"github.com/nikhilbhutani/paysync/internal/queue"
	"github.com/nikhilbhutani/paysync/internal/syncjob"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

const (
	workerActor = "sync-worker"
	// recordTimeout bounds the final transition, which runs even after the
	// task deadline has passed.
	recordTimeout = 10 * time.Second
)

var errNoProvider = apperr.Validation("missing_provider", "sync job has no provider")

type SyncWorker struct {
	tracker   *syncjob.Tracker
	scheduler *syncjob.Scheduler
	conns     *connection.Service
	registry  *connector.Registry
}

func NewSyncWorker(tracker *syncjob.Tracker, scheduler *syncjob.Scheduler, conns *connection.Service, registry *connector.Registry) *SyncWorker {
	return &SyncWorker{tracker: tracker, scheduler: scheduler, conns: conns, registry: registry}
}

// ProcessTask claims the job, runs it and records the outcome. Failures are
// recorded on the job row and retried through the scheduler, so the task
// itself only errors when the tracker cannot be reached.
func (w *SyncWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.SyncRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	jobID, err := uuid.Parse(payload.JobID)
	if err != nil {
		return fmt.Errorf("parse job ID: %v: %w", err, asynq.SkipRetry)
	}
	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		return fmt.Errorf("parse tenant ID: %v: %w", err, asynq.SkipRetry)
	}
	scope, err := tenant.NewScope(tenantID)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	ctx = tenant.WithActor(ctx, workerActor)
	ctx, log := logger.WithTenantID(ctx, logger.FromContext(ctx), tenantID.String())
	log = log.With(zap.String("job_id", jobID.String()))

	job, err := w.tracker.Claim(ctx, scope, jobID)
	if errors.Is(err, syncjob.ErrNotFound) || syncjob.IsInvalidTransition(err) {
		log.Info("sync job not claimable, skipping", zap.Error(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}

	provider := payload.Provider
	if job.ProviderName != nil {
		provider = *job.ProviderName
	}

	runErr := w.run(ctx, scope, job, provider)

	// Record the outcome even when the task context is already done, or the
	// job would stay running.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if runErr == nil {
		if _, err := w.tracker.Complete(rctx, scope, job.ID); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		if err := w.conns.MarkSynced(rctx, scope, provider); err != nil {
			log.Warn("mark connection synced", zap.Error(err))
		}
		log.Info("sync job completed", zap.String("provider", provider))
		return nil
	}

	failed, err := w.tracker.Fail(rctx, scope, job.ID, runErr, retryable(runErr))
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	log.Warn("sync job failed",
		zap.String("provider", provider),
		zap.String("status", string(failed.Status)),
		zap.Int("retry_count", failed.RetryCount),
		zap.Error(runErr))

	if failed.Status == models.SyncPending {
		if err := w.scheduler.Retry(rctx, failed); err != nil {
			return fmt.Errorf("re-enqueue job: %w", err)
		}
	}
	return nil
}

func (w *SyncWorker) run(ctx context.Context, scope tenant.Scope, job *models.SyncJob, provider string) error {
	if provider == "" {
		return errNoProvider
	}
	c, err := w.registry.Get(provider)
	if err != nil {
		return err
	}

	creds, err := w.conns.Credentials(ctx, scope, provider)
	if err != nil {
		return err
	}
	if _, err := w.tracker.UpdateProgress(ctx, scope, job.ID, 25); err != nil {
		return err
	}

	if v, ok := c.(connector.AccountVerifier); ok {
		if err := v.VerifyAccount(ctx, creds.AccessToken, creds.AccountID); err != nil {
			if errors.Is(err, connector.ErrProviderRejected) {
				_ = w.conns.MarkError(ctx, scope, provider)
			}
			return err
		}
	}

	_, err = w.tracker.UpdateProgress(ctx, scope, job.ID, 75)
	return err
}

// retryable reports whether a failed run may succeed on another attempt.
// Typed service errors and provider rejections are permanent; provider
// outages and untyped infrastructure errors are not.
func retryable(err error) bool {
	if errors.Is(err, connector.ErrProviderUnavailable) {
		return true
	}
	if errors.Is(err, connector.ErrProviderRejected) {
		return false
	}
	var ae *apperr.Error
	return !errors.As(err, &ae)
}
