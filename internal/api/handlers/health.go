package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 2 * time.Second

type dependency struct {
	name string
	ping func(ctx context.Context) error
}

// HealthHandler serves liveness and readiness. Readiness pings Postgres
// (connections, jobs) and Redis (OAuth state, job queue) concurrently.
type HealthHandler struct {
	deps []dependency
}

func NewHealthHandler(db *pgxpool.Pool, rdb *redis.Client) *HealthHandler {
	h := &HealthHandler{}
	if db != nil {
		h.deps = append(h.deps, dependency{name: "database", ping: db.Ping})
	}
	if rdb != nil {
		h.deps = append(h.deps, dependency{name: "redis", ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	return h
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(h.deps))
		status = http.StatusOK
	)
	for _, p := range h.deps {
		wg.Add(1)
		go func(p dependency) {
			defer wg.Done()
			result := "ok"
			// The driver error is not echoed; it may include the DSN.
			if err := p.ping(ctx); err != nil {
				result = "unhealthy"
			}
			mu.Lock()
			checks[p.name] = result
			if result != "ok" {
				status = http.StatusServiceUnavailable
			}
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	label := "ok"
	if status != http.StatusOK {
		label = "unhealthy"
	}
	writeJSON(w, status, map[string]interface{}{"status": label, "checks": checks})
}
