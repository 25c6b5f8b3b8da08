package connection

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/nikhilbhutani/paysync/internal/apperr"
	"github.com/nikhilbhutani/paysync/internal/audit"
	"github.com/nikhilbhutani/paysync/internal/connector"
	"github.com/nikhilbhutani/paysync/internal/crypto"
	"github.com/nikhilbhutani/paysync/internal/logger"
	"github.com/nikhilbhutani/paysync/internal/metrics"
	"github.com/nikhilbhutani/paysync/internal/models"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

// Credentials are the decrypted tokens of a live connection.
type Credentials struct {
	ProviderName string
	AccountID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

type Service struct {
	repo   Repository
	cipher *crypto.Cipher
	audit  audit.Recorder
}

func NewService(repo Repository, cipher *crypto.Cipher, rec audit.Recorder) *Service {
	return &Service{repo: repo, cipher: cipher, audit: rec}
}

// SaveConnection encrypts the tokens and upserts the (tenant, provider) row.
func (s *Service) SaveConnection(ctx context.Context, scope tenant.Scope, provider string, tok *connector.TokenResult) (*models.ProviderConnection, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	provider = connector.Normalize(provider)
	if provider == "" {
		return nil, apperr.Validation("invalid_provider", "provider name is required")
	}
	if tok == nil || tok.AccessToken == "" {
		return nil, apperr.Validation("missing_access_token", "token result has no access token")
	}
	if tok.ProviderAccountID == "" {
		return nil, apperr.Validation("missing_account_id", "token result has no provider account id")
	}

	access, err := s.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return nil, apperr.Internal("encrypt access token", err)
	}
	var refresh string
	if tok.RefreshToken != "" {
		if refresh, err = s.cipher.Encrypt(tok.RefreshToken); err != nil {
			return nil, apperr.Internal("encrypt refresh token", err)
		}
	}

	saved, err := s.repo.Upsert(ctx, scope, &models.ProviderConnection{
		ProviderName:      provider,
		ProviderAccountID: tok.ProviderAccountID,
		AccessToken:       access,
		RefreshToken:      refresh,
		TokenType:         tok.TokenType,
		TokenExpiresAt:    tok.ExpiresAt,
		Scope:             tok.Scope,
		Audit:             models.Audit{UpdatedBy: tenant.ActorFromContext(ctx)},
	})
	if err != nil {
		if errors.Is(err, ErrAccountLinked) {
			metrics.ConnectionConflictsTotal.WithLabelValues(provider).Inc()
			return nil, ErrAccountLinked.With("provider", provider)
		}
		return nil, err
	}
	metrics.ConnectionsSavedTotal.WithLabelValues(provider).Inc()

	s.record(ctx, scope, audit.ActionConnected, saved)
	return saved, nil
}

func (s *Service) GetConnection(ctx context.Context, scope tenant.Scope, provider string) (*models.ProviderConnection, error) {
	return s.repo.Get(ctx, scope, connector.Normalize(provider))
}

func (s *Service) GetConnections(ctx context.Context, scope tenant.Scope) ([]models.ProviderConnection, error) {
	return s.repo.List(ctx, scope)
}

// Disconnect soft-deletes the connection. Of several calls only the one
// that removed the live row reports true and writes the audit entry.
func (s *Service) Disconnect(ctx context.Context, scope tenant.Scope, provider string) (bool, error) {
	removed, err := s.repo.Disconnect(ctx, scope, connector.Normalize(provider), tenant.ActorFromContext(ctx))
	if err != nil || removed == nil {
		return false, err
	}
	s.record(ctx, scope, audit.ActionDisconnected, removed)
	return true, nil
}

// Credentials decrypts the stored tokens. A row that no longer decrypts is
// flagged with status error.
func (s *Service) Credentials(ctx context.Context, scope tenant.Scope, provider string) (*Credentials, error) {
	provider = connector.Normalize(provider)
	c, err := s.repo.Get(ctx, scope, provider)
	if err != nil {
		return nil, err
	}

	access, err := s.cipher.Decrypt(c.AccessToken)
	if err != nil {
		s.markUnreadable(ctx, scope, provider, err)
		return nil, apperr.Internal("stored credentials are unreadable", err)
	}
	var refresh string
	if c.RefreshToken != "" {
		if refresh, err = s.cipher.Decrypt(c.RefreshToken); err != nil {
			s.markUnreadable(ctx, scope, provider, err)
			return nil, apperr.Internal("stored credentials are unreadable", err)
		}
	}
	return &Credentials{
		ProviderName: c.ProviderName,
		AccountID:    c.ProviderAccountID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    c.TokenExpiresAt,
	}, nil
}

func (s *Service) markUnreadable(ctx context.Context, scope tenant.Scope, provider string, cause error) {
	logger.FromContext(ctx).Error("credential decryption failed",
		zap.String("tenant_id", scope.String()), zap.String("provider", provider), zap.Error(cause))
	_ = s.repo.SetStatus(ctx, scope, provider, models.ConnectionError)
}

func (s *Service) MarkSynced(ctx context.Context, scope tenant.Scope, provider string) error {
	return s.repo.MarkSynced(ctx, scope, connector.Normalize(provider), time.Now().UTC())
}

// MarkError flags a connection whose credentials the provider no longer accepts.
func (s *Service) MarkError(ctx context.Context, scope tenant.Scope, provider string) error {
	return s.repo.SetStatus(ctx, scope, connector.Normalize(provider), models.ConnectionError)
}

// CascadeTenant disconnects every live connection of a deactivated tenant.
func (s *Service) CascadeTenant(ctx context.Context, scope tenant.Scope) (int, error) {
	return s.repo.DisconnectAll(ctx, scope, tenant.ActorFromContext(ctx))
}

func (s *Service) record(ctx context.Context, scope tenant.Scope, action string, c *models.ProviderConnection) {
	if s.audit == nil {
		return
	}
	id := c.ID
	err := s.audit.Record(ctx, scope, audit.Entry{
		Action:       action,
		ResourceType: audit.ResourceConnection,
		ResourceID:   &id,
		Details: map[string]interface{}{
			"provider":            c.ProviderName,
			"provider_account_id": c.ProviderAccountID,
		},
	})
	if err != nil {
		logger.FromContext(ctx).Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}
