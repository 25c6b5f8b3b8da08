package connector_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/paysync/internal/apperr"
	"github.com/nikhilbhutani/paysync/internal/connector"
	"github.com/nikhilbhutani/paysync/internal/connector/connectortest"
)

func newRegistry(t *testing.T) *connector.Registry {
	t.Helper()
	paypal := connectortest.NewFake("paypal")
	paypal.Display = "PayPal"
	stripe := connectortest.NewFake("stripe")
	stripe.Display = "Stripe"
	reg, err := connector.NewRegistry(stripe, paypal)
	require.NoError(t, err)
	return reg
}

func TestRegistry_CaseInsensitive(t *testing.T) {
	reg := newRegistry(t)

	for _, name := range []string{"stripe", "STRIPE", "Stripe", "  stripe "} {
		c, err := reg.Get(name)
		require.NoError(t, err, name)
		assert.Equal(t, "stripe", c.ProviderName())
	}
}

func TestRegistry_Unsupported(t *testing.T) {
	reg := newRegistry(t)

	_, err := reg.Get("square")
	require.Error(t, err)
	assert.ErrorIs(t, err, connector.ErrUnsupportedProvider)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = reg.Get("")
	assert.ErrorIs(t, err, connector.ErrUnsupportedProvider)
}

func TestRegistry_AllSortedAndCopied(t *testing.T) {
	reg := newRegistry(t)

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "paypal", all[0].ProviderName())
	assert.Equal(t, "stripe", all[1].ProviderName())

	all[0] = nil
	assert.NotNil(t, reg.All()[0])

	assert.Equal(t, []connector.ProviderInfo{
		{ProviderName: "paypal", DisplayName: "PayPal", SupportsOAuth: true},
		{ProviderName: "stripe", DisplayName: "Stripe", SupportsOAuth: true},
	}, reg.Providers())
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	_, err := connector.NewRegistry(connectortest.NewFake("stripe"), connectortest.NewFake("Stripe"))
	assert.Error(t, err)
}

func TestExchangeError_Classification(t *testing.T) {
	rejected := fmt.Errorf("callback: %w", connector.Rejected("stripe", "invalid_grant", "expired", nil))
	assert.True(t, errors.Is(rejected, connector.ErrProviderRejected))
	assert.False(t, errors.Is(rejected, connector.ErrProviderUnavailable))

	cause := errors.New("dial tcp: i/o timeout")
	unavailable := connector.Unavailable("paypal", cause)
	assert.True(t, errors.Is(unavailable, connector.ErrProviderUnavailable))
	assert.True(t, errors.Is(unavailable, cause))
	assert.Contains(t, unavailable.Error(), "unavailable")
}

func TestCallbackURL(t *testing.T) {
	id := uuid.MustParse("2b1d3c4e-0000-4000-8000-000000000001")

	u, err := connector.CallbackURL("https://app.example.com/", "Stripe", id)
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/api/v1/connections/stripe/callback?tenantId="+id.String(), u)

	_, err = connector.CallbackURL("not a url", "stripe", id)
	assert.Error(t, err)
}
