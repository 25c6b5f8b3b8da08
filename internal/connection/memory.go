package connection

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/paysync/internal/models"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

// MemoryRepository mirrors the Postgres uniqueness rules under one mutex.
type MemoryRepository struct {
	mu   sync.Mutex
	rows []*models.ProviderConnection
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) live(tenantID uuid.UUID, provider string) *models.ProviderConnection {
	for _, c := range r.rows {
		if c.DeletedAt == nil && c.TenantID == tenantID && c.ProviderName == provider {
			return c
		}
	}
	return nil
}

func (r *MemoryRepository) Upsert(_ context.Context, scope tenant.Scope, c *models.ProviderConnection) (*models.ProviderConnection, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tid := scope.TenantID()
	for _, other := range r.rows {
		if other.DeletedAt == nil && other.ProviderAccountID == c.ProviderAccountID &&
			!(other.TenantID == tid && other.ProviderName == c.ProviderName) {
			return nil, ErrAccountLinked
		}
	}

	now := time.Now().UTC()
	row := r.live(tid, c.ProviderName)
	if row == nil {
		row = &models.ProviderConnection{
			ID:           uuid.New(),
			TenantID:     tid,
			ProviderName: c.ProviderName,
			Audit:        models.Audit{CreatedAt: now, CreatedBy: c.UpdatedBy},
		}
		r.rows = append(r.rows, row)
	}
	row.ProviderAccountID = c.ProviderAccountID
	row.AccessToken = c.AccessToken
	row.RefreshToken = c.RefreshToken
	row.TokenType = c.TokenType
	row.TokenExpiresAt = c.TokenExpiresAt
	row.Scope = c.Scope
	row.Status = models.ConnectionConnected
	row.ConnectedAt = now
	row.UpdatedAt = now
	row.UpdatedBy = c.UpdatedBy

	cp := *row
	return &cp, nil
}

func (r *MemoryRepository) Get(_ context.Context, scope tenant.Scope, provider string) (*models.ProviderConnection, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.live(scope.TenantID(), provider)
	if row == nil {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *MemoryRepository) List(_ context.Context, scope tenant.Scope) ([]models.ProviderConnection, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.ProviderConnection{}
	for _, c := range r.rows {
		if c.DeletedAt == nil && c.TenantID == scope.TenantID() {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderName < out[j].ProviderName })
	return out, nil
}

func softDelete(c *models.ProviderConnection, actor string, now time.Time) {
	c.Status = models.ConnectionDisconnected
	c.AccessToken = ""
	c.RefreshToken = ""
	c.DeletedAt = &now
	c.DeletedBy = actor
	c.UpdatedAt = now
	c.UpdatedBy = actor
}

func (r *MemoryRepository) Disconnect(_ context.Context, scope tenant.Scope, provider, actor string) (*models.ProviderConnection, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.live(scope.TenantID(), provider)
	if row == nil {
		return nil, nil
	}
	softDelete(row, actor, time.Now().UTC())
	cp := *row
	return &cp, nil
}

func (r *MemoryRepository) DisconnectAll(_ context.Context, scope tenant.Scope, actor string) (int, error) {
	if err := scope.Check(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for _, c := range r.rows {
		if c.DeletedAt == nil && c.TenantID == scope.TenantID() {
			softDelete(c, actor, now)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) SetStatus(_ context.Context, scope tenant.Scope, provider string, status models.ConnectionStatus) error {
	if err := scope.Check(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.live(scope.TenantID(), provider)
	if row == nil {
		return ErrNotFound
	}
	row.Status = status
	row.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) MarkSynced(_ context.Context, scope tenant.Scope, provider string, at time.Time) error {
	if err := scope.Check(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.live(scope.TenantID(), provider)
	if row == nil {
		return ErrNotFound
	}
	row.LastSyncedAt = &at
	row.Status = models.ConnectionConnected
	row.UpdatedAt = time.Now().UTC()
	return nil
}

// Rows returns every row including soft-deleted ones, for assertions.
func (r *MemoryRepository) Rows() []models.ProviderConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ProviderConnection, len(r.rows))
	for i, c := range r.rows {
		out[i] = *c
	}
	return out
}
