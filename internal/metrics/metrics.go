// Package metrics exposes the broker's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedSessions tracks currently open broker sessions.
	ConnectedSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connected_sessions",
		Help: "Current number of open websocket sessions.",
	})

	// RegisteredDomains tracks domains with at least one live instance.
	RegisteredDomains = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_registered_domains",
		Help: "Current number of domains with at least one registered instance.",
	})

	// BrokerCommandsTotal counts broker-directed commands by command and
	// outcome code.
	BrokerCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_broker_commands_total",
		Help: "Total broker commands handled, by command and status code.",
	}, []string{"command", "code"})

	// RoutedRequestsTotal counts requests routed between domains by outcome
	// code.
	RoutedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_routed_requests_total",
		Help: "Total requests routed to a target domain, by status code.",
	}, []string{"code"})

	// NotificationsTotal counts notifications fanned out to target domains.
	NotificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_notifications_total",
		Help: "Total notifications fanned out to target domains.",
	})

	// RoutingSeconds observes end-to-end latency of routed requests.
	RoutingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_routing_seconds",
		Help:    "Latency of routed requests from arrival to response.",
		Buckets: prometheus.DefBuckets,
	})

	// SessionsExpiredTotal counts sessions closed by the liveness sweep.
	SessionsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_sessions_expired_total",
		Help: "Total sessions closed after missing the liveness deadline.",
	})
)
