package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Audit is embedded in every persisted tenant record.
type Audit struct {
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	CreatedBy string     `json:"createdBy,omitempty" db:"created_by"`
	UpdatedAt time.Time  `json:"updatedAt" db:"updated_at"`
	UpdatedBy string     `json:"updatedBy,omitempty" db:"updated_by"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" db:"deleted_at"`
	DeletedBy string     `json:"deletedBy,omitempty" db:"deleted_by"`
}

func (a Audit) IsDeleted() bool { return a.DeletedAt != nil }

type AuditLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	TenantID     uuid.UUID       `json:"tenantId" db:"tenant_id"`
	Actor        string          `json:"actor,omitempty" db:"actor"`
	Action       string          `json:"action" db:"action"`
	ResourceType string          `json:"resourceType,omitempty" db:"resource_type"`
	ResourceID   *uuid.UUID      `json:"resourceId,omitempty" db:"resource_id"`
	Details      json.RawMessage `json:"details" db:"details"`
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
}
