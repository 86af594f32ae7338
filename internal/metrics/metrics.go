package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pingline_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pingline_connections_active",
			Help: "Currently open websocket connections",
		},
	)

	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pingline_users_online",
			Help: "Users currently registered in the presence directory",
		},
	)

	// Relay metrics
	MessagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pingline_messages_relayed_total",
			Help: "Messages handled by the relay engine",
		},
		[]string{"route"}, // "delivered" or "queued"
	)

	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pingline_messages_dropped_total",
			Help: "Messages dropped without delivery or queueing",
		},
		[]string{"reason"}, // "malformed", "store_error", "rate_limited"
	)

	PresenceBroadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pingline_presence_broadcasts_total",
			Help: "user_online/user_offline broadcasts sent",
		},
		[]string{"event"},
	)

	UnreadDrained = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pingline_unread_drained_total",
			Help: "Queued messages delivered during join reconciliation",
		},
	)

	// Transport metrics
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pingline_events_received_total",
			Help: "Client events received over websocket",
		},
		[]string{"event"},
	)

	DeliveriesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pingline_deliveries_dropped_total",
			Help: "Outbound events dropped because the client's send buffer was full",
		},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pingline_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"op"}, // "enqueue", "drain_unread", "mark_read"
	)
)
