package syncjob

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/paysync/internal/models"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

// MemoryRepository applies the same guarded transitions under one mutex.
type MemoryRepository struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.SyncJob
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: map[uuid.UUID]*models.SyncJob{}}
}

func (r *MemoryRepository) Create(_ context.Context, scope tenant.Scope, job *models.SyncJob) (*models.SyncJob, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	j := &models.SyncJob{
		ID:           uuid.New(),
		TenantID:     scope.TenantID(),
		JobType:      job.JobType,
		Status:       models.SyncPending,
		ProviderName: job.ProviderName,
		Audit:        models.Audit{CreatedAt: now, CreatedBy: job.CreatedBy, UpdatedAt: now, UpdatedBy: job.CreatedBy},
	}
	r.mu.Lock()
	r.jobs[j.ID] = j
	r.mu.Unlock()
	cp := *j
	return &cp, nil
}

func (r *MemoryRepository) find(scope tenant.Scope, id uuid.UUID) (*models.SyncJob, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	j, ok := r.jobs[id]
	if !ok || j.TenantID != scope.TenantID() {
		return nil, ErrNotFound
	}
	return j, nil
}

func (r *MemoryRepository) Get(_ context.Context, scope tenant.Scope, id uuid.UUID) (*models.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, err := r.find(scope, id)
	if err != nil {
		return nil, err
	}
	cp := *j
	return &cp, nil
}

func (r *MemoryRepository) List(_ context.Context, scope tenant.Scope, f ListFilter) ([]models.SyncJob, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []models.SyncJob{}
	for _, j := range r.jobs {
		if j.TenantID != scope.TenantID() {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.Provider != "" && (j.ProviderName == nil || *j.ProviderName != f.Provider) {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if f.Offset >= len(out) {
		return []models.SyncJob{}, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// mutate runs fn on the job when its status is from.
func (r *MemoryRepository) mutate(scope tenant.Scope, id uuid.UUID, from, to models.SyncStatus, actor string, fn func(j *models.SyncJob, now time.Time)) (*models.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, err := r.find(scope, id)
	if err != nil {
		return nil, err
	}
	if j.Status != from {
		return nil, transitionError(j, to)
	}
	now := time.Now().UTC()
	fn(j, now)
	j.UpdatedAt = now
	j.UpdatedBy = actor
	cp := *j
	return &cp, nil
}

func (r *MemoryRepository) Claim(_ context.Context, scope tenant.Scope, id uuid.UUID, actor string) (*models.SyncJob, error) {
	return r.mutate(scope, id, models.SyncPending, models.SyncRunning, actor, func(j *models.SyncJob, now time.Time) {
		j.Status = models.SyncRunning
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
	})
}

func (r *MemoryRepository) UpdateProgress(_ context.Context, scope tenant.Scope, id uuid.UUID, progress int, actor string) (*models.SyncJob, error) {
	return r.mutate(scope, id, models.SyncRunning, models.SyncRunning, actor, func(j *models.SyncJob, _ time.Time) {
		if progress > j.Progress {
			j.Progress = progress
		}
	})
}

func (r *MemoryRepository) Complete(_ context.Context, scope tenant.Scope, id uuid.UUID, actor string) (*models.SyncJob, error) {
	return r.mutate(scope, id, models.SyncRunning, models.SyncCompleted, actor, func(j *models.SyncJob, now time.Time) {
		j.Status = models.SyncCompleted
		j.Progress = 100
		j.CompletedAt = &now
		j.ErrorMessage = nil
	})
}

func (r *MemoryRepository) Fail(_ context.Context, scope tenant.Scope, id uuid.UUID, p FailParams, actor string) (*models.SyncJob, error) {
	return r.mutate(scope, id, models.SyncRunning, models.SyncFailed, actor, func(j *models.SyncJob, now time.Time) {
		applyFail(j, p, now)
	})
}

func applyFail(j *models.SyncJob, p FailParams, now time.Time) {
	msg := truncate(p.Message)
	j.ErrorMessage = &msg
	j.RetryCount++
	if p.Retryable && j.RetryCount < p.MaxRetries {
		j.Status = models.SyncPending
		j.Progress = 0
		j.CompletedAt = nil
		return
	}
	j.Status = models.SyncFailed
	j.CompletedAt = &now
}

func (r *MemoryRepository) FailStale(_ context.Context, scope tenant.Scope, olderThan time.Duration, p FailParams, actor string) ([]models.SyncJob, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)
	out := []models.SyncJob{}
	for _, j := range r.jobs {
		if j.TenantID != scope.TenantID() || j.Status != models.SyncRunning || !j.UpdatedAt.Before(cutoff) {
			continue
		}
		applyFail(j, p, now)
		j.UpdatedAt = now
		j.UpdatedBy = actor
		out = append(out, *j)
	}
	return out, nil
}

func (r *MemoryRepository) FailRunning(_ context.Context, scope tenant.Scope, message, actor string) (int, error) {
	if err := scope.Check(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	msg := truncate(message)
	for _, j := range r.jobs {
		if j.TenantID == scope.TenantID() && j.Status == models.SyncRunning {
			m := msg
			j.Status = models.SyncFailed
			j.ErrorMessage = &m
			j.CompletedAt = &now
			j.UpdatedAt = now
			j.UpdatedBy = actor
			n++
		}
	}
	return n, nil
}
