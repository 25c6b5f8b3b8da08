// Package stripeconnect implements the Stripe Connect OAuth connector.
package stripeconnect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/account"
	"github.com/stripe/stripe-go/v81/oauth"

	"github.com/nikhilbhutani/paysync/internal/connector"
)

const (
	ProviderName = "stripe"
	defaultScope = "read_only"
)

type Config struct {
	ClientID      string
	SecretKey     string
	PublicBaseURL string
	Scope         string
	Timeout       time.Duration

	// ConnectURL and APIURL override the Stripe backends, for tests.
	ConnectURL string
	APIURL     string
}

type Connector struct {
	cfg   Config
	oauth oauth.Client
	api   stripe.Backend
}

func New(cfg Config) (*Connector, error) {
	if cfg.ClientID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe: client id and secret key required")
	}
	if cfg.Scope == "" {
		cfg.Scope = defaultScope
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	connectCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.ConnectURL != "" {
		connectCfg.URL = stripe.String(cfg.ConnectURL)
	}
	apiCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.APIURL != "" {
		apiCfg.URL = stripe.String(cfg.APIURL)
	}

	return &Connector{
		cfg: cfg,
		oauth: oauth.Client{
			B:   stripe.GetBackendWithConfig(stripe.ConnectBackend, connectCfg),
			Key: cfg.SecretKey,
		},
		api: stripe.GetBackendWithConfig(stripe.APIBackend, apiCfg),
	}, nil
}

func (c *Connector) ProviderName() string { return ProviderName }
func (c *Connector) DisplayName() string  { return "Stripe" }
func (c *Connector) SupportsOAuth() bool  { return true }

func (c *Connector) GenerateAuthorizationURL(_ string, state string, tenantID uuid.UUID) (string, error) {
	callback, err := connector.CallbackURL(c.cfg.PublicBaseURL, ProviderName, tenantID)
	if err != nil {
		return "", err
	}
	return c.oauth.AuthorizeURL(&stripe.AuthorizeURLParams{
		ClientID:     stripe.String(c.cfg.ClientID),
		RedirectURI:  stripe.String(callback),
		ResponseType: stripe.String("code"),
		Scope:        stripe.String(c.cfg.Scope),
		State:        stripe.String(state),
	}), nil
}

func (c *Connector) ExchangeAuthorizationCode(ctx context.Context, code, _ string, _ uuid.UUID) (*connector.TokenResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	params := &stripe.OAuthTokenParams{
		GrantType:    stripe.String("authorization_code"),
		Code:         stripe.String(code),
		ClientSecret: stripe.String(c.cfg.SecretKey),
	}
	params.Context = ctx

	tok, err := c.oauth.New(params)
	if err != nil {
		return nil, classify(err)
	}
	if tok.AccessToken == "" || tok.StripeUserID == "" {
		return nil, connector.Rejected(ProviderName, "invalid_response", "token response missing access token or account", nil)
	}

	// Stripe Connect access tokens do not expire.
	return &connector.TokenResult{
		AccessToken:       tok.AccessToken,
		RefreshToken:      tok.RefreshToken,
		TokenType:         string(tok.TokenType),
		Scope:             string(tok.Scope),
		ProviderAccountID: tok.StripeUserID,
	}, nil
}

// VerifyAccount fetches the connected account with its own access token.
func (c *Connector) VerifyAccount(ctx context.Context, accessToken, accountID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	params := &stripe.AccountParams{}
	params.Context = ctx
	acct, err := (&account.Client{B: c.api, Key: accessToken}).GetByID(accountID, params)
	if err != nil {
		return classify(err)
	}
	if acct.ID != accountID {
		return connector.Rejected(ProviderName, "account_mismatch",
			fmt.Sprintf("token resolves to %s, expected %s", acct.ID, accountID), nil)
	}
	return nil
}

func classify(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		if serr.HTTPStatusCode >= 500 || serr.HTTPStatusCode == http.StatusTooManyRequests {
			return connector.Unavailable(ProviderName, err)
		}
		code, msg := string(serr.Code), serr.Msg
		// OAuth endpoints report failures in the error/error_description pair.
		if code == "" {
			code, msg = serr.OAuthError, serr.OAuthErrorDescription
		}
		return connector.Rejected(ProviderName, code, msg, err)
	}
	// Transport errors and ctx deadline both land here.
	return connector.Unavailable(ProviderName, err)
}
