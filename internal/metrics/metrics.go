package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Status server HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveagent_http_requests_total",
			Help: "Total HTTP requests served by the local status server",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liveagent_http_request_duration_seconds",
			Help:    "Local status server request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Upstream REST calls
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liveagent_request_duration_seconds",
			Help:    "Latency of calls to the live chat REST endpoints",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveagent_polls_total",
			Help: "Status polls by result",
		},
		[]string{"result"}, // "ok", "rejected", "failed"
	)

	// Session lifecycle
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveagent_state_transitions_total",
			Help: "Session state transitions",
		},
		[]string{"from", "to"},
	)

	MessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "liveagent_messages_received_total",
			Help: "Messages delivered to the observer from polls",
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveagent_messages_sent_total",
			Help: "Outgoing messages and uploads by result",
		},
		[]string{"result"}, // "confirmed" or "failed"
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveagent_store_errors_total",
			Help: "Swallowed local session store errors",
		},
		[]string{"op"},
	)
)
