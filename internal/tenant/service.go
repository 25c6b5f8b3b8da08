package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/paysync/internal/models"
)

// Cascader releases tenant-owned rows when a tenant is deactivated.
type Cascader interface {
	CascadeTenant(ctx context.Context, scope Scope) (int, error)
}

type Service struct {
	db        *pgxpool.Pool
	cascaders []Cascader
}

func NewService(db *pgxpool.Pool, cascaders ...Cascader) *Service {
	return &Service{db: db, cascaders: cascaders}
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.QueryRow(ctx,
		"SELECT id, name, slug, is_active, created_at, updated_at FROM tenants WHERE id = $1", id,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

func (s *Service) Create(ctx context.Context, name, slug string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.QueryRow(ctx,
		`INSERT INTO tenants (name, slug) VALUES ($1, $2)
		 RETURNING id, name, slug, is_active, created_at, updated_at`,
		name, slug,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}
	return &t, nil
}

func (s *Service) ListActive(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, name, slug, is_active, created_at, updated_at FROM tenants WHERE is_active = true ORDER BY created_at",
	)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// Deactivate marks the tenant inactive and cascades to its connections
// and sync jobs. Returns false when the tenant was already inactive.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (bool, error) {
	scope, err := NewScope(id)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx,
		"UPDATE tenants SET is_active = false, updated_at = now() WHERE id = $1 AND is_active = true", id,
	)
	if err != nil {
		return false, fmt.Errorf("deactivate tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	for _, c := range s.cascaders {
		if _, err := c.CascadeTenant(ctx, scope); err != nil {
			return true, fmt.Errorf("cascade tenant %s: %w", id, err)
		}
	}
	return true, nil
}
