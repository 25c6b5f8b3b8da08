// Package paypal implements the "Log in with PayPal" OAuth connector.
package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/nikhilbhutani/paysync/internal/connector"
)

const (
	ProviderName = "paypal"

	DefaultAPIBaseURL   = "https://api-m.paypal.com"
	DefaultAuthorizeURL = "https://www.paypal.com/signin/authorize"

	userInfoPath = "/v1/identity/oauth2/userinfo?schema=paypalv1.1"
)

var defaultScopes = []string{"openid", "https://uri.paypal.com/services/paypalattributes"}

type Config struct {
	ClientID      string
	ClientSecret  string
	PublicBaseURL string
	APIBaseURL    string
	AuthorizeURL  string
	Scopes        []string
	Timeout       time.Duration
}

type Connector struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) (*Connector, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("paypal: client id and secret required")
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = DefaultAuthorizeURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = defaultScopes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	return &Connector{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (c *Connector) ProviderName() string { return ProviderName }
func (c *Connector) DisplayName() string  { return "PayPal" }
func (c *Connector) SupportsOAuth() bool  { return true }

// oauthConfig is built per call because the redirect URL carries the tenant.
func (c *Connector) oauthConfig(tenantID uuid.UUID) (*oauth2.Config, error) {
	callback, err := connector.CallbackURL(c.cfg.PublicBaseURL, ProviderName, tenantID)
	if err != nil {
		return nil, err
	}
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  callback,
		Scopes:       c.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.cfg.AuthorizeURL,
			TokenURL:  c.cfg.APIBaseURL + "/v1/oauth2/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}, nil
}

func (c *Connector) GenerateAuthorizationURL(_ string, state string, tenantID uuid.UUID) (string, error) {
	cfg, err := c.oauthConfig(tenantID)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("flowEntry", "static")), nil
}

func (c *Connector) ExchangeAuthorizationCode(ctx context.Context, code, _ string, tenantID uuid.UUID) (*connector.TokenResult, error) {
	cfg, err := c.oauthConfig(tenantID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode < 500 {
			return nil, connector.Rejected(ProviderName, rerr.ErrorCode, rerr.ErrorDescription, err)
		}
		return nil, connector.Unavailable(ProviderName, err)
	}

	accountID, err := c.fetchAccountID(ctx, cfg.Client(ctx, tok))
	if err != nil {
		return nil, err
	}

	res := &connector.TokenResult{
		AccessToken:       tok.AccessToken,
		RefreshToken:      tok.RefreshToken,
		TokenType:         tok.TokenType,
		ProviderAccountID: accountID,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		res.ExpiresAt = &exp
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		res.Scope = scope
	}
	return res, nil
}

// VerifyAccount calls userinfo with the stored token and compares ids.
func (c *Connector) VerifyAccount(ctx context.Context, accessToken, accountID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))
	got, err := c.fetchAccountID(ctx, client)
	if err != nil {
		return err
	}
	if got != accountID {
		return connector.Rejected(ProviderName, "account_mismatch",
			fmt.Sprintf("token resolves to %s, expected %s", got, accountID), nil)
	}
	return nil
}

type userInfo struct {
	UserID  string `json:"user_id"`
	PayerID string `json:"payer_id"`
}

func (c *Connector) fetchAccountID(ctx context.Context, client *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBaseURL+userInfoPath, nil)
	if err != nil {
		return "", fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", connector.Unavailable(ProviderName, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode >= 500:
		return "", connector.Unavailable(ProviderName, fmt.Errorf("userinfo status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return "", connector.Rejected(ProviderName, "userinfo_failed", http.StatusText(resp.StatusCode), nil)
	}

	var info userInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return "", connector.Rejected(ProviderName, "invalid_response", "malformed userinfo", err)
	}
	if info.PayerID != "" {
		return info.PayerID, nil
	}
	if info.UserID != "" {
		return info.UserID, nil
	}
	return "", connector.Rejected(ProviderName, "invalid_response", "userinfo missing account id", nil)
}
