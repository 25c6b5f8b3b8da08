// Package connectortest provides an in-memory Connector for tests.
package connectortest

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/paysync/internal/connector"
)

// Fake is an in-process connector.Connector for tests and local runs. Codes map to
// the account they authorize; unknown codes are rejected.
type Fake struct {
	Name    string
	Display string
	NoOAuth bool

	mu        sync.Mutex
	accounts  map[string]string
	failWith  error
	verifyErr error
	calls     int
}

func NewFake(name string) *Fake {
	return &Fake{Name: name, Display: name, accounts: map[string]string{}}
}

// Authorize registers code as valid for accountID.
func (f *Fake) Authorize(code, accountID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[code] = accountID
}

// FailNext makes the next exchange return err.
func (f *Fake) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

// FailVerify makes every VerifyAccount return err until reset with nil.
func (f *Fake) FailVerify(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyErr = err
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) ProviderName() string { return f.Name }
func (f *Fake) DisplayName() string  { return f.Display }
func (f *Fake) SupportsOAuth() bool  { return !f.NoOAuth }

func (f *Fake) GenerateAuthorizationURL(returnURL, state string, tenantID uuid.UUID) (string, error) {
	cb, err := connector.CallbackURL("https://app.example.test", f.Name, tenantID)
	if err != nil {
		return "", err
	}
	q := url.Values{"state": {state}, "redirect_uri": {cb}}
	return "https://" + connector.Normalize(f.Name) + ".example.test/authorize?" + q.Encode(), nil
}

func (f *Fake) ExchangeAuthorizationCode(_ context.Context, code, _ string, _ uuid.UUID) (*connector.TokenResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.failWith; err != nil {
		f.failWith = nil
		return nil, err
	}
	account, ok := f.accounts[code]
	if !ok {
		return nil, connector.Rejected(f.Name, "invalid_grant", "unknown code", nil)
	}
	return &connector.TokenResult{
		AccessToken:       fmt.Sprintf("at_%s_%d", code, f.calls),
		RefreshToken:      "rt_" + code,
		TokenType:         "bearer",
		Scope:             "read_only",
		ProviderAccountID: account,
	}, nil
}

func (f *Fake) VerifyAccount(_ context.Context, accessToken, _ string) error {
	f.mu.Lock()
	err := f.verifyErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if accessToken == "" {
		return connector.Rejected(f.Name, "invalid_token", "empty token", nil)
	}
	return nil
}
