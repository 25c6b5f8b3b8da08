// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paysync_oauth_callbacks_total",
		Help: "OAuth callbacks handled, by provider and outcome",
	}, []string{"provider", "outcome"})

	ExchangeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paysync_oauth_exchange_seconds",
		Help:    "Latency of the authorization code exchange",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	ConnectionsSavedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paysync_connections_saved_total",
		Help: "Connection upserts, by provider",
	}, []string{"provider"})

	ConnectionConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paysync_connection_conflicts_total",
		Help: "Connections refused because the provider account is linked to another tenant",
	}, []string{"provider"})

	SyncTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paysync_sync_transitions_total",
		Help: "Sync job state transitions, by target state",
	}, []string{"to"})
)

// Register registers all collectors on reg (or the default registerer if nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		CallbacksTotal, ExchangeDuration, ConnectionsSavedTotal, ConnectionConflictsTotal, SyncTransitionsTotal,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
