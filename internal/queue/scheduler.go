package queue

import (
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/paysync/internal/config"
)

// NewScheduler registers the periodic sync fan-out on cronspec (cron or @every).
func NewScheduler(cfg config.RedisConfig, cronspec string, logger asynq.Logger) (*asynq.Scheduler, error) {
	s := asynq.NewScheduler(RedisOpt(cfg), &asynq.SchedulerOpts{Logger: logger})
	task, err := NewSyncScheduleTask()
	if err != nil {
		return nil, err
	}
	if _, err := s.Register(cronspec, task); err != nil {
		return nil, fmt.Errorf("register %s on %q: %w", TypeSyncSchedule, cronspec, err)
	}
	return s, nil
}
