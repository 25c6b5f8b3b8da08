package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nikhilbhutani/paysync/internal/api"
	"github.com/nikhilbhutani/paysync/internal/audit"
	"github.com/nikhilbhutani/paysync/internal/auth"
	"github.com/nikhilbhutani/paysync/internal/cache"
	"github.com/nikhilbhutani/paysync/internal/config"
	"github.com/nikhilbhutani/paysync/internal/connection"
	"github.com/nikhilbhutani/paysync/internal/connector/providers"
	"github.com/nikhilbhutani/paysync/internal/crypto"
	"github.com/nikhilbhutani/paysync/internal/database"
	"github.com/nikhilbhutani/paysync/internal/logger"
	"github.com/nikhilbhutani/paysync/internal/metrics"
	"github.com/nikhilbhutani/paysync/internal/oauthstate"
	"github.com/nikhilbhutani/paysync/internal/queue"
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

	if err := database.Migrate(ctx, db, log); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis unavailable", zap.Error(err))
	}
	defer rdb.Close()

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

	states := oauthstate.NewRedisStore(cache.NewCache(rdb, "oauth_state:"), cfg.OAuth.StateTTL)
	auditSvc := audit.NewService(db)
	conns := connection.NewService(connection.NewPostgresRepository(db), cipher, auditSvc)
	tracker := syncjob.NewTracker(syncjob.NewPostgresRepository(db), cfg.Sync.MaxRetries)
	scheduler := syncjob.NewScheduler(tracker, queueClient, cfg.Sync.BackoffBase)
	tenants := tenant.NewService(db, conns, tracker)
	flow := connection.NewFlow(registry, states, conns, scheduler, tenants)
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)

	router := api.NewRouter(api.Deps{
		Logger:         log,
		DB:             db,
		Redis:          rdb,
		Verifier:       verifier,
		Gatherer:       prometheus.DefaultGatherer,
		Registry:       registry,
		Flow:           flow,
		Connections:    conns,
		Scheduler:      scheduler,
		Tracker:        tracker,
		Audit:          auditSvc,
		Production:     cfg.IsProduction(),
		TenantHeader:   cfg.Auth.TenantHeader,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("starting API server",
			zap.String("addr", cfg.Addr()),
			zap.Int("providers", len(registry.Providers())),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}
