package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nikhilbhutani/paysync/internal/audit"
	"github.com/nikhilbhutani/paysync/internal/config"
	"github.com/nikhilbhutani/paysync/internal/connection"
	"github.com/nikhilbhutani/paysync/internal/connector/providers"
	"github.com/nikhilbhutani/paysync/internal/crypto"
	"github.com/nikhilbhutani/paysync/internal/database"
	"github.com/nikhilbhutani/paysync/internal/logger"
	"github.com/nikhilbhutani/paysync/internal/metrics"
	"github.com/nikhilbhutani/paysync/internal/queue"
	"github.com/nikhilbhutani/paysync/internal/queue/workers"
	"github.com/nikhilbhutani/paysync/internal/syncjob"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("failed to load config", zap.Error(err))
	}

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("database unavailable", zap.Error(err))
	}
	defer db.Close()

	cipher, err := crypto.New(cfg.Crypto.CredentialKey)
	if err != nil {
		log.Fatal("credential cipher", zap.Error(err))
	}
	registry, err := providers.NewRegistry(cfg.OAuth)
	if err != nil {
		log.Fatal("provider registry", zap.Error(err))
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatal("register metrics", zap.Error(err))
	}

	queueClient := queue.NewClient(cfg.Redis)
	defer queueClient.Close()

	conns := connection.NewService(connection.NewPostgresRepository(db), cipher, audit.NewService(db))
	tracker := syncjob.NewTracker(syncjob.NewPostgresRepository(db), cfg.Sync.MaxRetries)
	scheduler := syncjob.NewScheduler(tracker, queueClient, cfg.Sync.BackoffBase).WithStaleAfter(cfg.Sync.StaleAfter)
	tenants := tenant.NewService(db, conns, tracker)

	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: cfg.Sync.Concurrency,
			Logger:      logger.NewAsynq(log),
			Queues: map[string]int{
				"default": 1,
			},
		},
	)

	handlers := queue.NewHandlersRegistry(log)
	syncWorker := workers.NewSyncWorker(tracker, scheduler, conns, registry)
	scheduleWorker := workers.NewScheduleWorker(tenants, conns, scheduler, scheduler)
	handlers.Register(queue.TypeSyncRun, asynq.HandlerFunc(syncWorker.ProcessTask))
	handlers.Register(queue.TypeSyncSchedule, asynq.HandlerFunc(scheduleWorker.ProcessTask))

	periodic, err := queue.NewScheduler(cfg.Redis, cfg.Sync.Schedule, logger.NewAsynq(log))
	if err != nil {
		log.Fatal("sync scheduler", zap.Error(err))
	}

	log.Info("starting worker",
		zap.Int("concurrency", cfg.Sync.Concurrency),
		zap.String("schedule", cfg.Sync.Schedule),
		zap.Int("max_retries", cfg.Sync.MaxRetries),
	)
	if err := srv.Start(handlers.Mux()); err != nil {
		log.Fatal("worker error", zap.Error(err))
	}
	if err := periodic.Start(); err != nil {
		log.Fatal("scheduler error", zap.Error(err))
	}

	var metricsSrv *http.Server
	if cfg.Sync.MetricsAddr != "" {
		mux := chi.NewRouter()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Sync.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()

	log.Info("shutting down worker...")
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	periodic.Shutdown()
	srv.Shutdown()
	log.Info("worker stopped")
}
