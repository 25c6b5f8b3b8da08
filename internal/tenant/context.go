package tenant

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	tenantKey contextKey = "tenant"
	actorKey  contextKey = "actor"
)

// WithTenantID attaches the resolved tenant to a request context.
// uuid.Nil records that resolution ran and found nothing.
func WithTenantID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantKey, id)
}

func IDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(tenantKey).(uuid.UUID)
	return id
}

// WithActor records who is acting, for audit columns.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFromContext(ctx context.Context) string {
	if a, ok := LookupActor(ctx); ok {
		return a
	}
	return "system"
}

// LookupActor reports the actor only when one was explicitly recorded.
func LookupActor(ctx context.Context) (string, bool) {
	a, ok := ctx.Value(actorKey).(string)
	return a, ok && a != ""
}
