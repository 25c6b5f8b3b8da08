package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/paysync/internal/models"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

const (
	uniqueViolation   = "23505"
	accountConstraint = "provider_connections_account_live"

	connectionColumns = `id, tenant_id, provider_name, provider_account_id, access_token, refresh_token,
		token_type, token_expires_at, scope, status, connected_at, last_synced_at,
		created_at, created_by, updated_at, updated_by, deleted_at, COALESCE(deleted_by, '')`
)

type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanConnection(row pgx.Row) (*models.ProviderConnection, error) {
	var c models.ProviderConnection
	err := row.Scan(&c.ID, &c.TenantID, &c.ProviderName, &c.ProviderAccountID, &c.AccessToken, &c.RefreshToken,
		&c.TokenType, &c.TokenExpiresAt, &c.Scope, &c.Status, &c.ConnectedAt, &c.LastSyncedAt,
		&c.CreatedAt, &c.CreatedBy, &c.UpdatedAt, &c.UpdatedBy, &c.DeletedAt, &c.DeletedBy)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Upsert relies on ON CONFLICT over the (tenant, provider) live index. A
// racing insert of the same row can surface as a violation of the account
// index instead, so an account conflict is retried once before it is
// reported; by then the competing row is visible and the retry updates it.
func (r *PostgresRepository) Upsert(ctx context.Context, scope tenant.Scope, c *models.ProviderConnection) (*models.ProviderConnection, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var saved *models.ProviderConnection
		saved, err = r.upsert(ctx, scope, c)
		if err == nil {
			return saved, nil
		}
		if !isAccountConflict(err) {
			return nil, fmt.Errorf("upsert connection: %w", err)
		}
	}
	return nil, ErrAccountLinked
}

func isAccountConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == accountConstraint
}

func (r *PostgresRepository) upsert(ctx context.Context, scope tenant.Scope, c *models.ProviderConnection) (*models.ProviderConnection, error) {
	return scanConnection(r.db.QueryRow(ctx, `
		INSERT INTO provider_connections
			(tenant_id, provider_name, provider_account_id, access_token, refresh_token,
			 token_type, token_expires_at, scope, status, connected_at, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'connected', now(), $9, $9)
		ON CONFLICT (tenant_id, provider_name) WHERE deleted_at IS NULL DO UPDATE SET
			provider_account_id = EXCLUDED.provider_account_id,
			access_token        = EXCLUDED.access_token,
			refresh_token       = EXCLUDED.refresh_token,
			token_type          = EXCLUDED.token_type,
			token_expires_at    = EXCLUDED.token_expires_at,
			scope               = EXCLUDED.scope,
			status              = 'connected',
			connected_at        = now(),
			updated_at          = now(),
			updated_by          = EXCLUDED.updated_by
		RETURNING `+connectionColumns,
		scope.TenantID(), c.ProviderName, c.ProviderAccountID, c.AccessToken, c.RefreshToken,
		c.TokenType, c.TokenExpiresAt, c.Scope, c.UpdatedBy,
	))
}

func (r *PostgresRepository) Get(ctx context.Context, scope tenant.Scope, provider string) (*models.ProviderConnection, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	c, err := scanConnection(r.db.QueryRow(ctx,
		`SELECT `+connectionColumns+` FROM provider_connections
		 WHERE tenant_id = $1 AND provider_name = $2 AND deleted_at IS NULL`,
		scope.TenantID(), provider,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) List(ctx context.Context, scope tenant.Scope) ([]models.ProviderConnection, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+connectionColumns+` FROM provider_connections
		 WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY provider_name`,
		scope.TenantID(),
	)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	out := []models.ProviderConnection{}
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Disconnect(ctx context.Context, scope tenant.Scope, provider, actor string) (*models.ProviderConnection, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	c, err := scanConnection(r.db.QueryRow(ctx, `
		UPDATE provider_connections
		SET status = 'disconnected', access_token = '', refresh_token = '',
		    deleted_at = now(), deleted_by = $3, updated_at = now(), updated_by = $3
		WHERE tenant_id = $1 AND provider_name = $2 AND deleted_at IS NULL
		RETURNING `+connectionColumns,
		scope.TenantID(), provider, actor,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("disconnect: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) DisconnectAll(ctx context.Context, scope tenant.Scope, actor string) (int, error) {
	if err := scope.Check(); err != nil {
		return 0, err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE provider_connections
		SET status = 'disconnected', access_token = '', refresh_token = '',
		    deleted_at = now(), deleted_by = $2, updated_at = now(), updated_by = $2
		WHERE tenant_id = $1 AND deleted_at IS NULL`,
		scope.TenantID(), actor,
	)
	if err != nil {
		return 0, fmt.Errorf("disconnect all: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) SetStatus(ctx context.Context, scope tenant.Scope, provider string, status models.ConnectionStatus) error {
	if err := scope.Check(); err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE provider_connections SET status = $3, updated_at = now()
		 WHERE tenant_id = $1 AND provider_name = $2 AND deleted_at IS NULL`,
		scope.TenantID(), provider, status,
	)
	if err != nil {
		return fmt.Errorf("set connection status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) MarkSynced(ctx context.Context, scope tenant.Scope, provider string, at time.Time) error {
	if err := scope.Check(); err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE provider_connections SET last_synced_at = $3, status = 'connected', updated_at = now()
		 WHERE tenant_id = $1 AND provider_name = $2 AND deleted_at IS NULL`,
		scope.TenantID(), provider, at,
	)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
