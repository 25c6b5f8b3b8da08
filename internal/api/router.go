package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nikhilbhutani/paysync/internal/api/handlers"
	"github.com/nikhilbhutani/paysync/internal/api/middleware"
	"github.com/nikhilbhutani/paysync/internal/audit"
	"github.com/nikhilbhutani/paysync/internal/auth"
	"github.com/nikhilbhutani/paysync/internal/connection"
	"github.com/nikhilbhutani/paysync/internal/connector"
	"github.com/nikhilbhutani/paysync/internal/syncjob"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

// Deps is everything the HTTP surface needs. DB and Redis are only used
// by the readiness check and may be nil.
type Deps struct {
	Logger   *zap.Logger
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Verifier *auth.Verifier
	Gatherer prometheus.Gatherer

	Registry    *connector.Registry
	Flow        *connection.Flow
	Connections *connection.Service
	Scheduler   connection.SyncScheduler
	Tracker     *syncjob.Tracker
	Audit       audit.Reader

	Production     bool
	TenantHeader   string
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

type Router struct {
	mux  *chi.Mux
	deps Deps
}

func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Router{mux: chi.NewRouter(), deps: deps}
}

// Setup wires middleware and routes.
func (rt *Router) Setup() http.Handler {
	r := rt.mux
	d := rt.deps

	header := d.TenantHeader
	if header == "" {
		header = tenant.DefaultHeader
	}

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(d.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(d.AllowedOrigins, header))

	// Health and metrics (no tenant)
	health := handlers.NewHealthHandler(d.DB, d.Redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	providerH := handlers.NewProviderHandler(d.Registry)
	connH := handlers.NewConnectionHandler(d.Flow, d.Connections, d.Scheduler, d.Production)
	jobH := handlers.NewSyncJobHandler(d.Tracker, d.Production)
	auditH := handlers.NewAuditHandler(d.Audit, d.Production)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Tenant(tenant.NewResolver(header, d.Verifier), d.Verifier))
		if d.RateLimitRPS > 0 {
			rl := middleware.NewRateLimiter(d.RateLimitRPS, d.RateLimitBurst)
			r.Use(rl.Limit)
		}

		r.Get("/providers", providerH.List)

		r.Route("/connections", func(r chi.Router) {
			r.Get("/", connH.List)
			r.Get("/{provider}", connH.Get)
			r.Delete("/{provider}", connH.Disconnect)
			r.Post("/{provider}/initiate", connH.Initiate)
			r.Get("/{provider}/callback", connH.Callback)
			r.Post("/{provider}/callback", connH.Callback)
			r.Post("/{provider}/sync", connH.TriggerSync)
		})

		r.Route("/sync-jobs", func(r chi.Router) {
			r.Get("/", jobH.List)
			r.Get("/{id}", jobH.Get)
		})

		if d.Audit != nil {
			r.Get("/audit-logs", auditH.List)
		}
	})

	return r
}
