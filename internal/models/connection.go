package models

import (
	"time"

	"github.com/google/uuid"
)

type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionError        ConnectionStatus = "error"
)

// ProviderConnection is a tenant's authorized link to one provider account.
// AccessToken and RefreshToken always hold ciphertext.
type ProviderConnection struct {
	ID                uuid.UUID        `json:"id" db:"id"`
	TenantID          uuid.UUID        `json:"tenantId" db:"tenant_id"`
	ProviderName      string           `json:"providerName" db:"provider_name"`
	ProviderAccountID string           `json:"providerAccountId" db:"provider_account_id"`
	AccessToken       string           `json:"-" db:"access_token"`
	RefreshToken      string           `json:"-" db:"refresh_token"`
	TokenType         string           `json:"tokenType,omitempty" db:"token_type"`
	TokenExpiresAt    *time.Time       `json:"tokenExpiresAt,omitempty" db:"token_expires_at"`
	Scope             string           `json:"scope,omitempty" db:"scope"`
	Status            ConnectionStatus `json:"status" db:"status"`
	ConnectedAt       time.Time        `json:"connectedAt" db:"connected_at"`
	LastSyncedAt      *time.Time       `json:"lastSyncedAt,omitempty" db:"last_synced_at"`
	Audit
}
