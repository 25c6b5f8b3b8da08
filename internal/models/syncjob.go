package models

import (
	"time"

	"github.com/google/uuid"
)

type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

const (
	JobTypeInitialSync   = "initial_sync"
	JobTypeScheduledSync = "scheduled_sync"
	JobTypeManualSync    = "manual_sync"
)

type SyncJob struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	TenantID     uuid.UUID  `json:"tenantId" db:"tenant_id"`
	JobType      string     `json:"jobType" db:"job_type"`
	Status       SyncStatus `json:"status" db:"status"`
	Progress     int        `json:"progress" db:"progress"`
	ErrorMessage *string    `json:"errorMessage,omitempty" db:"error_message"`
	StartedAt    *time.Time `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt  *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	RetryCount   int        `json:"retryCount" db:"retry_count"`
	ProviderName *string    `json:"providerName,omitempty" db:"provider_name"`
	Audit
}
