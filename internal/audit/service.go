package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/paysync/internal/models"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

const (
	ActionConnected    = "connection.connected"
	ActionDisconnected = "connection.disconnected"

	ResourceConnection = "provider_connection"
)

type Entry struct {
	Action       string
	ResourceType string
	ResourceID   *uuid.UUID
	Details      map[string]interface{}
}

// Recorder appends tenant-scoped audit entries.
type Recorder interface {
	Record(ctx context.Context, scope tenant.Scope, entry Entry) error
}

// Reader lists a tenant's entries, newest first.
type Reader interface {
	List(ctx context.Context, scope tenant.Scope, q Query) ([]models.AuditLog, error)
}

const (
	defaultLimit = 50
	maxLimit     = 200
)

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

func (s *Service) Record(ctx context.Context, scope tenant.Scope, entry Entry) error {
	if err := scope.Check(); err != nil {
		return err
	}
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO audit_logs (tenant_id, actor, action, resource_type, resource_id, details)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		scope.TenantID(), tenant.ActorFromContext(ctx), entry.Action, entry.ResourceType, entry.ResourceID, details,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

type Query struct {
	Action string
	Limit  int
	Offset int
}

func (q Query) normalize() Query {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

func (s *Service) List(ctx context.Context, scope tenant.Scope, q Query) ([]models.AuditLog, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	q = q.normalize()

	query := `SELECT id, tenant_id, actor, action, resource_type, resource_id, details, created_at
			  FROM audit_logs WHERE tenant_id = $1`
	args := []interface{}{scope.TenantID()}
	argIdx := 2

	if q.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, q.Action)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []models.AuditLog
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.TenantID, &l.Actor, &l.Action, &l.ResourceType, &l.ResourceID, &l.Details, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
