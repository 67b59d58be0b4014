package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total gateway requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adcortex_gateway_requests_total",
			Help: "Total gateway API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// gateway request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adcortex_gateway_request_duration_seconds",
			Help:    "Histogram of gateway request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// match API calls labelled by endpoint and outcome (ad, no_ad, error, rate_limited)
	AdFetchCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adcortex_ad_fetch_total",
			Help: "Total ad fetch attempts against the match API",
		},
		[]string{"endpoint", "outcome"},
	)

	// latency of match API calls
	AdFetchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adcortex_ad_fetch_duration_seconds",
			Help:    "Duration of match API requests",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 3, 5},
		},
		[]string{"endpoint"},
	)

	// conversation messages submitted to clients, by role
	MessageCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adcortex_messages_total",
			Help: "Total conversation messages submitted",
		},
		[]string{"role"},
	)

	// messages dropped because the request queue was full
	QueueDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adcortex_queue_drops_total",
			Help: "Total messages dropped because the request queue was full",
		},
	)

	// messages for which the cadence policy suppressed a fetch
	CadenceSkips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adcortex_cadence_skips_total",
			Help: "Total messages that did not trigger a fetch due to cadence",
		},
	)

	// fetches skipped by the client-side token bucket
	RateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adcortex_ratelimit_hits_total",
			Help: "Total fetches skipped by the client-side rate limiter",
		},
	)

	// analytics events recorded, labelled by type
	EventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adcortex_events_total",
			Help: "Total analytics events recorded",
		},
		[]string{"type"},
	)

	// failures writing analytics events
	EventErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adcortex_event_errors_total",
			Help: "Total analytics event write failures",
		},
	)

	// gateway sessions currently holding a client
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adcortex_gateway_active_sessions",
			Help: "Number of sessions with a live client in the gateway",
		},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		AdFetchCount,
		AdFetchLatency,
		MessageCount,
		QueueDrops,
		CadenceSkips,
		RateLimitHits,
		EventCount,
		EventErrors,
		ActiveSessions,
	)
}
