package tenant

import (
	"context"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/paysync/internal/apperr"
)

// ErrTenantRequired is returned by every scoped operation when no tenant
// was resolved for the request.
var ErrTenantRequired = apperr.Validation("tenant_not_found", "tenant not found")

// ErrTenantNotFound is returned by lookups for an id with no tenant row.
var ErrTenantNotFound = apperr.NotFound("tenant_not_found", "tenant not found")

// Scope is the only handle repositories accept. The tenant id inside it is
// the mandatory predicate of every query they build.
type Scope struct {
	id uuid.UUID
}

func NewScope(id uuid.UUID) (Scope, error) {
	if id == uuid.Nil {
		return Scope{}, ErrTenantRequired
	}
	return Scope{id: id}, nil
}

// ScopeFromContext fails closed when the request carries no tenant.
func ScopeFromContext(ctx context.Context) (Scope, error) {
	return NewScope(IDFromContext(ctx))
}

func (s Scope) TenantID() uuid.UUID { return s.id }

// Check guards against a zero Scope built with a struct literal.
func (s Scope) Check() error {
	if s.id == uuid.Nil {
		return ErrTenantRequired
	}
	return nil
}

func (s Scope) String() string { return s.id.String() }
