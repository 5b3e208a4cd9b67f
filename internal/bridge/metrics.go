package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "teamsync"

// Auth token request outcomes.
const (
	tokenOK           = "ok"
	tokenEmpty        = "empty"
	tokenNoClient     = "no_client"
	tokenSendFailed   = "send_failed"
	tokenTimeout      = "timeout"
	tokenDisconnected = "disconnected"
)

var (
	connectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "connected_clients",
			Help:      "Number of connected foreground windows",
		},
	)

	broadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "broadcast_dropped_total",
			Help:      "Broadcast messages dropped because a window could not keep up",
		},
	)

	authTokenRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "auth_token_requests_total",
			Help:      "Auth token requests to windows by outcome",
		},
		[]string{"outcome"},
	)
)

func recordAuthToken(outcome string) {
	authTokenRequests.WithLabelValues(outcome).Inc()
}
