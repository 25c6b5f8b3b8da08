package workers

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/nikhilbhutani/paysync/internal/connection"
	"github.com/nikhilbhutani/paysync/internal/logger"
	"github.com/nikhilbhutani/paysync/internal/models"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

type TenantLister interface {
	ListActive(ctx context.Context) ([]models.Tenant, error)
}

// StaleRecoverer takes back running jobs whose worker went away.
type StaleRecoverer interface {
	RecoverStale(ctx context.Context, scope tenant.Scope) (int, error)
}

// ScheduleWorker recovers stranded jobs, then creates a scheduled sync job
// for every live connection of every active tenant.
type ScheduleWorker struct {
	tenants   TenantLister
	conns     *connection.Service
	scheduler connection.SyncScheduler
	stale     StaleRecoverer
}

func NewScheduleWorker(tenants TenantLister, conns *connection.Service, scheduler connection.SyncScheduler, stale StaleRecoverer) *ScheduleWorker {
	return &ScheduleWorker{tenants: tenants, conns: conns, scheduler: scheduler, stale: stale}
}

func (w *ScheduleWorker) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	log := logger.FromContext(ctx)
	tenants, err := w.tenants.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active tenants: %w", err)
	}

	scheduled, recovered := 0, 0
	for _, t := range tenants {
		scope, err := tenant.NewScope(t.ID)
		if err != nil {
			continue
		}
		tctx := tenant.WithActor(ctx, "scheduler")

		if w.stale != nil {
			n, err := w.stale.RecoverStale(tctx, scope)
			if err != nil {
				log.Error("recover stale jobs", zap.String("tenant_id", t.ID.String()), zap.Error(err))
			}
			recovered += n
		}

		conns, err := w.conns.GetConnections(tctx, scope)
		if err != nil {
			log.Error("list connections", zap.String("tenant_id", t.ID.String()), zap.Error(err))
			continue
		}
		for _, c := range conns {
			if c.Status != models.ConnectionConnected {
				continue
			}
			if _, err := w.scheduler.ScheduleSync(tctx, scope, c.ProviderName, models.JobTypeScheduledSync); err != nil {
				log.Error("schedule sync",
					zap.String("tenant_id", t.ID.String()), zap.String("provider", c.ProviderName), zap.Error(err))
				continue
			}
			scheduled++
		}
	}
	log.Info("scheduled sync jobs",
		zap.Int("tenants", len(tenants)), zap.Int("jobs", scheduled), zap.Int("recovered", recovered))
	return nil
}
