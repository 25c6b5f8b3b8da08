package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/nikhilbhutani/paysync/internal/logger"
)

type HandlersRegistry struct {
	mux *asynq.ServeMux
}

// NewHandlersRegistry returns a mux whose handlers receive a context
// carrying log, enriched with the task type and id.
func NewHandlersRegistry(log *zap.Logger) *HandlersRegistry {
	mux := asynq.NewServeMux()
	mux.Use(loggingMiddleware(log))
	return &HandlersRegistry{mux: mux}
}

func (r *HandlersRegistry) Register(taskType string, handler asynq.Handler) {
	r.mux.Handle(taskType, handler)
}

func (r *HandlersRegistry) Mux() *asynq.ServeMux {
	return r.mux
}

func loggingMiddleware(log *zap.Logger) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			taskID, _ := asynq.GetTaskID(ctx)
			l := log.With(zap.String("task_type", t.Type()), zap.String("task_id", taskID))
			start := time.Now()
			err := next.ProcessTask(logger.WithContext(ctx, l), t)
			if err != nil {
				l.Error("task failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
				return err
			}
			l.Debug("task done", zap.Duration("duration", time.Since(start)))
			return nil
		})
	}
}
