// Package providers builds the connector registry from configuration.
package providers

import (
	"errors"

	"github.com/nikhilbhutani/paysync/internal/config"
	"github.com/nikhilbhutani/paysync/internal/connector"
	"github.com/nikhilbhutani/paysync/internal/connector/paypal"
	"github.com/nikhilbhutani/paysync/internal/connector/stripeconnect"
)

var ErrNoProviders = errors.New("no payment provider is configured")

// NewRegistry registers every provider with credentials present in cfg.
func NewRegistry(cfg config.OAuthConfig) (*connector.Registry, error) {
	var conns []connector.Connector

	if cfg.Stripe.Enabled() {
		c, err := stripeconnect.New(stripeconnect.Config{
			ClientID:      cfg.Stripe.ClientID,
			SecretKey:     cfg.Stripe.SecretKey,
			Scope:         cfg.Stripe.Scope,
			ConnectURL:    cfg.Stripe.ConnectURL,
			PublicBaseURL: cfg.PublicBaseURL,
			Timeout:       cfg.ExchangeTimeout,
		})
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}

	if cfg.PayPal.Enabled() {
		c, err := paypal.New(paypal.Config{
			ClientID:      cfg.PayPal.ClientID,
			ClientSecret:  cfg.PayPal.ClientSecret,
			APIBaseURL:    cfg.PayPal.APIBaseURL,
			AuthorizeURL:  cfg.PayPal.AuthorizeURL,
			PublicBaseURL: cfg.PublicBaseURL,
			Timeout:       cfg.ExchangeTimeout,
		})
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}

	if len(conns) == 0 {
		return nil, ErrNoProviders
	}
	return connector.NewRegistry(conns...)
}
