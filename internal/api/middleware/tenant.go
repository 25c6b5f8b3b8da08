package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/nikhilbhutani/paysync/internal/auth"
	"github.com/nikhilbhutani/paysync/internal/logger"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

// Tenant resolves the request tenant into the context. An unresolved
// request still proceeds with uuid.Nil; scoped operations reject it.
// A valid bearer token also sets the acting user for audit columns.
func Tenant(resolver *tenant.Resolver, verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, source := resolver.Resolve(r)
			ctx := tenant.WithTenantID(r.Context(), id)

			if verifier != nil && auth.BearerToken(r) != "" {
				if claims, err := verifier.FromRequest(r); err == nil && claims.Sub != "" {
					ctx = tenant.WithActor(ctx, claims.Sub)
				}
			}

			l := logger.FromContext(ctx)
			if source != tenant.SourceNone {
				ctx, l = logger.WithTenantID(ctx, l, id.String())
			}
			l.Debug("tenant resolved", zap.String("source", string(source)))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
