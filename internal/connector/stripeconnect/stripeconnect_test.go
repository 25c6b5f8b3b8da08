package stripeconnect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/paysync/internal/connector"
)

func newTestConnector(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Connector {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		ClientID:      "ca_test",
		SecretKey:     "sk_test_platform",
		PublicBaseURL: "https://app.example.com",
		Timeout:       timeout,
		ConnectURL:    srv.URL,
		APIURL:        srv.URL,
	})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestGenerateAuthorizationURL(t *testing.T) {
	c := newTestConnector(t, func(http.ResponseWriter, *http.Request) {}, time.Second)
	tenantID := uuid.New()

	raw, err := c.GenerateAuthorizationURL("https://app.example.com/settings", "state-123", tenantID)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "ca_test", q.Get("client_id"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "read_only", q.Get("scope"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "https://app.example.com/api/v1/connections/stripe/callback?tenantId="+tenantID.String(), q.Get("redirect_uri"))

	again, err := c.GenerateAuthorizationURL("https://app.example.com/settings", "state-123", tenantID)
	require.NoError(t, err)
	assert.Equal(t, raw, again)
}

func TestExchangeAuthorizationCode_Success(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth/token", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "ac_good", r.Form.Get("code"))
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":           "sk_test_connected",
			"refresh_token":          "rt_123",
			"token_type":             "bearer",
			"scope":                  "read_only",
			"livemode":               false,
			"stripe_user_id":         "acct_123",
			"stripe_publishable_key": "pk_test_123",
		})
	}, time.Second)

	tok, err := c.ExchangeAuthorizationCode(context.Background(), "ac_good", "state", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "sk_test_connected", tok.AccessToken)
	assert.Equal(t, "rt_123", tok.RefreshToken)
	assert.Equal(t, "bearer", tok.TokenType)
	assert.Equal(t, "read_only", tok.Scope)
	assert.Equal(t, "acct_123", tok.ProviderAccountID)
	assert.Nil(t, tok.ExpiresAt)
}

func TestExchangeAuthorizationCode_Rejected(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "invalid_grant",
			"error_description": "Authorization code does not exist: ac_bad",
		})
	}, time.Second)

	_, err := c.ExchangeAuthorizationCode(context.Background(), "ac_bad", "state", uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, connector.ErrProviderRejected)

	var xerr *connector.ExchangeError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, "invalid_grant", xerr.Code)
	assert.Equal(t, "Authorization code does not exist: ac_bad", xerr.Description)
	assert.False(t, xerr.Retryable)
}

func TestExchangeAuthorizationCode_ServerError(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": map[string]any{"type": "api_error", "message": "try later"},
		})
	}, time.Second)

	_, err := c.ExchangeAuthorizationCode(context.Background(), "ac_x", "state", uuid.New())
	assert.ErrorIs(t, err, connector.ErrProviderUnavailable)
}

func TestExchangeAuthorizationCode_Timeout(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, 50*time.Millisecond)

	_, err := c.ExchangeAuthorizationCode(context.Background(), "ac_slow", "state", uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, connector.ErrProviderUnavailable)
}

func TestVerifyAccount(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/acct_123", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"id": "acct_123", "object": "account"})
	}, time.Second)

	assert.NoError(t, c.VerifyAccount(context.Background(), "sk_test_connected", "acct_123"))
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{ClientID: "ca_x"})
	assert.Error(t, err)
}
