// Package oauthstate issues and validates the anti-CSRF state tokens that
// round-trip through a provider's authorization flow.
package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const DefaultTTL = 10 * time.Minute

var ErrNotFound = errors.New("oauth state not found or expired")

// Entry is what a state token is bound to.
type Entry struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	Provider  string    `json:"provider"`
	ReturnURL string    `json:"return_url,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Store keeps entries until their TTL elapses. Lookups do not consume the
// state so a double-submitted callback converges on the same connection.
type Store interface {
	Issue(ctx context.Context, e Entry) (string, error)
	Lookup(ctx context.Context, state string) (*Entry, error)
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
