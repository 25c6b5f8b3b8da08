// Package connector defines the provider-agnostic OAuth capability and the
// registry that maps provider names onto implementations.
package connector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Connector implements the OAuth authorization-code flow for one provider.
type Connector interface {
	ProviderName() string
	DisplayName() string
	SupportsOAuth() bool

	// GenerateAuthorizationURL is pure: no I/O, same inputs same URL.
	GenerateAuthorizationURL(returnURL, state string, tenantID uuid.UUID) (string, error)

	// ExchangeAuthorizationCode trades code for tokens. Failures are
	// reported as *ExchangeError.
	ExchangeAuthorizationCode(ctx context.Context, code, state string, tenantID uuid.UUID) (*TokenResult, error)
}

// AccountVerifier is implemented by connectors that can confirm a stored
// access token still reaches the linked account.
type AccountVerifier interface {
	VerifyAccount(ctx context.Context, accessToken, accountID string) error
}

type TokenResult struct {
	AccessToken       string
	RefreshToken      string
	TokenType         string
	ExpiresAt         *time.Time
	Scope             string
	ProviderAccountID string
}

var (
	// ErrProviderRejected means the provider refused the exchange; retrying
	// with the same code will not help.
	ErrProviderRejected = errors.New("provider rejected the request")
	// ErrProviderUnavailable covers transport failures, timeouts and 5xx.
	ErrProviderUnavailable = errors.New("provider unavailable")
)

type ExchangeError struct {
	Provider    string
	Code        string
	Description string
	Retryable   bool
	Err         error
}

func (e *ExchangeError) Error() string {
	kind := "rejected"
	if e.Retryable {
		kind = "unavailable"
	}
	msg := fmt.Sprintf("%s exchange %s", e.Provider, kind)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += " (" + e.Description + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExchangeError) Unwrap() error { return e.Err }

func (e *ExchangeError) Is(target error) bool {
	switch target {
	case ErrProviderRejected:
		return !e.Retryable
	case ErrProviderUnavailable:
		return e.Retryable
	}
	return false
}

func Rejected(provider, code, description string, err error) *ExchangeError {
	return &ExchangeError{Provider: provider, Code: code, Description: description, Err: err}
}

func Unavailable(provider string, err error) *ExchangeError {
	return &ExchangeError{Provider: provider, Retryable: true, Err: err}
}

// Normalize is the single casing rule for provider names.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// CallbackURL encodes tenant and provider so the provider redirect can be
// routed back without any server-side lookup.
func CallbackURL(publicBaseURL, provider string, tenantID uuid.UUID) (string, error) {
	base, err := url.Parse(strings.TrimRight(publicBaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid public base url %q", publicBaseURL)
	}
	base.Path += "/api/v1/connections/" + url.PathEscape(Normalize(provider)) + "/callback"
	base.RawQuery = url.Values{"tenantId": {tenantID.String()}}.Encode()
	return base.String(), nil
}
