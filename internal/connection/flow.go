package connection

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nikhilbhutani/paysync/internal/apperr"
	"github.com/nikhilbhutani/paysync/internal/connector"
	"github.com/nikhilbhutani/paysync/internal/logger"
	"github.com/nikhilbhutani/paysync/internal/metrics"
	"github.com/nikhilbhutani/paysync/internal/models"
	"github.com/nikhilbhutani/paysync/internal/oauthstate"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

var (
	ErrMissingOAuthParams = apperr.Validation("missing_oauth_parameters", "missing required OAuth parameters")
	ErrInvalidState       = apperr.Validation("invalid_state", "OAuth state is invalid or expired")
	ErrInvalidReturnURL   = apperr.Validation("invalid_return_url", "returnUrl must be an absolute http(s) URL")
	ErrOAuthUnsupported   = apperr.Validation("oauth_not_supported", "provider does not support OAuth")
)

// TenantChecker looks up the tenant a request resolved to.
type TenantChecker interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

// SyncScheduler creates and enqueues a sync job for a connection.
type SyncScheduler interface {
	ScheduleSync(ctx context.Context, scope tenant.Scope, provider, jobType string) (*models.SyncJob, error)
}

type InitiateResult struct {
	AuthorizationURL string `json:"authorizationUrl"`
	State            string `json:"state"`
	Provider         string `json:"provider"`
}

type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

type CallbackResult struct {
	Connection *models.ProviderConnection
	InitialJob *models.SyncJob
	// ReturnURL is the URL recorded at initiation. It is also set alongside
	// an error once the state has been validated.
	ReturnURL string
}

// Flow drives the authorization-code flow from initiation to the saved
// connection.
type Flow struct {
	registry *connector.Registry
	states   oauthstate.Store
	conns    *Service
	sync     SyncScheduler
	tenants  TenantChecker
}

func NewFlow(registry *connector.Registry, states oauthstate.Store, conns *Service, sync SyncScheduler, tenants TenantChecker) *Flow {
	return &Flow{registry: registry, states: states, conns: conns, sync: sync, tenants: tenants}
}

// checkTenant admits only tenants that exist and are active. Missing and
// deactivated tenants get the same error as an unresolved one.
func (f *Flow) checkTenant(ctx context.Context, scope tenant.Scope) error {
	if err := scope.Check(); err != nil {
		return err
	}
	t, err := f.tenants.GetByID(ctx, scope.TenantID())
	if errors.Is(err, tenant.ErrTenantNotFound) {
		return tenant.ErrTenantRequired
	}
	if err != nil {
		return apperr.Internal("load tenant", err)
	}
	if !t.IsActive {
		return tenant.ErrTenantRequired
	}
	return nil
}

func (f *Flow) oauthConnector(provider string) (connector.Connector, error) {
	c, err := f.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	if !c.SupportsOAuth() {
		return nil, ErrOAuthUnsupported.With("provider", c.ProviderName())
	}
	return c, nil
}

func (f *Flow) Initiate(ctx context.Context, scope tenant.Scope, provider, returnURL string) (*InitiateResult, error) {
	if err := f.checkTenant(ctx, scope); err != nil {
		return nil, err
	}
	c, err := f.oauthConnector(provider)
	if err != nil {
		return nil, err
	}
	if returnURL != "" && !validReturnURL(returnURL) {
		return nil, ErrInvalidReturnURL
	}

	state, err := f.states.Issue(ctx, oauthstate.Entry{
		TenantID:  scope.TenantID(),
		Provider:  c.ProviderName(),
		ReturnURL: returnURL,
	})
	if err != nil {
		return nil, apperr.Internal("issue oauth state", err)
	}

	authURL, err := c.GenerateAuthorizationURL(returnURL, state, scope.TenantID())
	if err != nil {
		return nil, apperr.Internal("build authorization url", err)
	}
	return &InitiateResult{AuthorizationURL: authURL, State: state, Provider: c.ProviderName()}, nil
}

func (f *Flow) HandleCallback(ctx context.Context, scope tenant.Scope, provider string, p CallbackParams) (*CallbackResult, error) {
	c, err := f.oauthConnector(provider)
	if err != nil {
		return nil, err
	}
	name := c.ProviderName()
	log := logger.FromContext(ctx).With(zap.String("provider", name))

	res := &CallbackResult{}
	if p.State != "" && scope.Check() == nil {
		if entry, err := f.states.Lookup(ctx, p.State); err == nil && f.stateMatches(entry, scope, name) {
			res.ReturnURL = entry.ReturnURL
		}
	}

	if p.Error != "" {
		metrics.CallbacksTotal.WithLabelValues(name, "provider_error").Inc()
		return res, apperr.Provider(p.Error, providerMessage(p), nil).
			With("error", p.Error).
			With("error_description", p.ErrorDescription).
			With("provider", name)
	}
	if p.Code == "" || p.State == "" {
		metrics.CallbacksTotal.WithLabelValues(name, "invalid").Inc()
		return res, ErrMissingOAuthParams
	}
	if err := f.checkTenant(ctx, scope); err != nil {
		metrics.CallbacksTotal.WithLabelValues(name, "invalid").Inc()
		return res, err
	}

	entry, err := f.states.Lookup(ctx, p.State)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues(name, "invalid").Inc()
		if errors.Is(err, oauthstate.ErrNotFound) {
			return res, ErrInvalidState
		}
		return res, apperr.Internal("load oauth state", err)
	}
	if !f.stateMatches(entry, scope, name) {
		metrics.CallbacksTotal.WithLabelValues(name, "invalid").Inc()
		log.Warn("oauth state bound to a different tenant or provider")
		return res, ErrInvalidState
	}

	start := time.Now()
	tok, err := c.ExchangeAuthorizationCode(ctx, p.Code, p.State, scope.TenantID())
	metrics.ExchangeDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues(name, "exchange_failed").Inc()
		log.Warn("token exchange failed", zap.Error(err))
		return res, exchangeError(name, err)
	}

	conn, err := f.conns.SaveConnection(ctx, scope, name, tok)
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrAccountLinked) {
			outcome = "conflict"
		}
		metrics.CallbacksTotal.WithLabelValues(name, outcome).Inc()
		return res, err
	}
	metrics.CallbacksTotal.WithLabelValues(name, "connected").Inc()
	res.Connection = conn

	if f.sync != nil {
		job, err := f.sync.ScheduleSync(ctx, scope, name, models.JobTypeInitialSync)
		if err != nil {
			log.Error("schedule initial sync", zap.Error(err))
		} else {
			res.InitialJob = job
		}
	}
	return res, nil
}

func (f *Flow) stateMatches(e *oauthstate.Entry, scope tenant.Scope, provider string) bool {
	return e.TenantID == scope.TenantID() && e.Provider == provider
}

func exchangeError(provider string, err error) error {
	var xerr *connector.ExchangeError
	if !errors.As(err, &xerr) {
		return apperr.Provider("token_exchange_failed", "token exchange failed", err).With("provider", provider)
	}
	if xerr.Retryable {
		return apperr.Provider("provider_unavailable", "provider is unavailable, try again", err).
			With("provider", provider)
	}
	code := xerr.Code
	if code == "" {
		code = "provider_rejected"
	}
	msg := xerr.Description
	if msg == "" {
		msg = "provider rejected the authorization code"
	}
	return apperr.Provider(code, msg, err).With("provider", provider)
}

func providerMessage(p CallbackParams) string {
	if p.ErrorDescription != "" {
		return p.ErrorDescription
	}
	return "provider reported an error: " + p.Error
}

func validReturnURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
