package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/nikhilbhutani/paysync/internal/tenant"
)

// limiterIdle is how long an unused bucket is kept before eviction.
const limiterIdle = 3 * time.Minute

// RateLimiter admits a request only when both the caller's bucket and the
// tenant's bucket have a token. The caller is the verified token subject,
// or the client address when the request is unauthenticated, so rotating
// tenant ids does not buy a client fresh capacity. Run it after the Tenant
// middleware.
type RateLimiter struct {
	limiters *gocache.Cache
	limit    rate.Limit
	burst    int
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = max(1, int(rps))
	}
	return &RateLimiter{
		limiters: gocache.New(limiterIdle, time.Minute),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.get(callerKey(r)).Allow() {
			tooManyRequests(w)
			return
		}
		// Tenant buckets are only created for admitted callers, which keeps
		// their number proportional to admitted traffic.
		if id := tenant.IDFromContext(r.Context()); id != uuid.Nil {
			if !rl.get("tenant:" + id.String()).Allow() {
				tooManyRequests(w)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// get returns the bucket for key, creating it on first use. Every hit
// refreshes the expiry so only idle buckets are evicted.
func (rl *RateLimiter) get(key string) *rate.Limiter {
	if v, ok := rl.limiters.Get(key); ok {
		l := v.(*rate.Limiter)
		rl.limiters.Set(key, l, gocache.DefaultExpiration)
		return l
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	if err := rl.limiters.Add(key, l, gocache.DefaultExpiration); err != nil {
		// Lost the race to another request for the same key.
		if v, ok := rl.limiters.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return l
}

func callerKey(r *http.Request) string {
	if actor, ok := tenant.LookupActor(r.Context()); ok {
		return "sub:" + actor
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func tooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate_limited", "message": "rate limit exceeded"})
}
