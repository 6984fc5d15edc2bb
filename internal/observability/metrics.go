package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_websocket_connections_active",
			Help: "Current number of active WebSocket connections",
		},
	)

	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_messages_total",
			Help: "Total number of accepted chat operations",
		},
		[]string{"operation"},
	)

	BroadcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_broadcasts_total",
			Help: "Total number of events fanned out to peers",
		},
	)

	AuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_auth_failures_total",
			Help: "Total number of rejected authentication attempts",
		},
	)

	DroppedMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_dropped_messages_total",
			Help: "Messages dropped because a client send buffer was full",
		},
	)
)
