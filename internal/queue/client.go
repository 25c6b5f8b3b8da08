package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/paysync/internal/config"
)

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{client: asynq.NewClient(RedisOpt(cfg))}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SyncRunTimeout bounds a single sync:run task.
const SyncRunTimeout = 5 * time.Minute

// EnqueueSyncRun schedules a sync job run after delay. asynq retries are
// disabled; the job tracker owns the retry budget. The task id is derived
// from job and attempt, so enqueueing the same attempt twice is a no-op.
func (c *Client) EnqueueSyncRun(ctx context.Context, payload SyncRunPayload, delay time.Duration) error {
	opts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.Timeout(SyncRunTimeout),
		asynq.TaskID(fmt.Sprintf("sync:%s:%d", payload.JobID, payload.Attempt)),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	err := c.enqueue(ctx, TypeSyncRun, payload, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload interface{}, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	_, err = c.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}

// NewSyncScheduleTask is the periodic task that fans out scheduled syncs.
func NewSyncScheduleTask() (*asynq.Task, error) {
	data, err := json.Marshal(SyncSchedulePayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSyncSchedule, data, asynq.MaxRetry(1), asynq.Unique(time.Hour)), nil
}
