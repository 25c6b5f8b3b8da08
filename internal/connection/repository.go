// Package connection stores tenants' provider connections and drives the
// OAuth flow that creates them.
package connection

import (
	"context"
	"time"

	"github.com/nikhilbhutani/paysync/internal/apperr"
	"github.com/nikhilbhutani/paysync/internal/models"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

var (
	ErrNotFound = apperr.NotFound("connection_not_found", "connection not found")
	// ErrAccountLinked is returned when the provider account already has a
	// live connection owned by another tenant.
	ErrAccountLinked = apperr.Conflict("account_already_linked", "provider account is already linked to another tenant")
)

// Repository persists connections. Every method is confined to scope and
// only ever sees live (not soft-deleted) rows.
type Repository interface {
	// Upsert inserts or replaces the live row for (tenant, provider) atomically.
	Upsert(ctx context.Context, scope tenant.Scope, c *models.ProviderConnection) (*models.ProviderConnection, error)
	Get(ctx context.Context, scope tenant.Scope, provider string) (*models.ProviderConnection, error)
	List(ctx context.Context, scope tenant.Scope) ([]models.ProviderConnection, error)
	// Disconnect soft-deletes the live row, blanks its tokens and returns the
	// row as updated. It returns nil, nil when there was nothing to
	// disconnect.
	Disconnect(ctx context.Context, scope tenant.Scope, provider, actor string) (*models.ProviderConnection, error)
	DisconnectAll(ctx context.Context, scope tenant.Scope, actor string) (int, error)
	SetStatus(ctx context.Context, scope tenant.Scope, provider string, status models.ConnectionStatus) error
	MarkSynced(ctx context.Context, scope tenant.Scope, provider string, at time.Time) error
}
