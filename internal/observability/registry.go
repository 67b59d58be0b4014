package observability

import "time"

// MetricsRegistry provides an interface for recording SDK and gateway metrics.
// Clients receive it through dependency injection instead of touching the
// global Prometheus collectors directly.
type MetricsRegistry interface {
	// Gateway HTTP metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Match API metrics
	IncrementAdFetches(endpoint, outcome string)
	RecordAdFetchLatency(endpoint string, duration time.Duration)

	// Conversation metrics
	IncrementMessages(role string)
	IncrementQueueDrops()
	IncrementCadenceSkips()
	IncrementRateLimitHits()

	// Analytics metrics
	IncrementEvent(eventType string)
	IncrementEventErrors()

	// Gateway session metrics
	SetActiveSessions(n int)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementAdFetches(endpoint, outcome string) {
	AdFetchCount.WithLabelValues(endpoint, outcome).Inc()
}

func (r *PrometheusRegistry) RecordAdFetchLatency(endpoint string, duration time.Duration) {
	AdFetchLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementMessages(role string) {
	MessageCount.WithLabelValues(role).Inc()
}

func (r *PrometheusRegistry) IncrementQueueDrops() {
	QueueDrops.Inc()
}

func (r *PrometheusRegistry) IncrementCadenceSkips() {
	CadenceSkips.Inc()
}

func (r *PrometheusRegistry) IncrementRateLimitHits() {
	RateLimitHits.Inc()
}

func (r *PrometheusRegistry) IncrementEvent(eventType string) {
	EventCount.WithLabelValues(eventType).Inc()
}

func (r *PrometheusRegistry) IncrementEventErrors() {
	EventErrors.Inc()
}

func (r *PrometheusRegistry) SetActiveSessions(n int) {
	ActiveSessions.Set(float64(n))
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementAdFetches(endpoint, outcome string)                          {}
func (r *NoOpRegistry) RecordAdFetchLatency(endpoint string, duration time.Duration)         {}
func (r *NoOpRegistry) IncrementMessages(role string)                                        {}
func (r *NoOpRegistry) IncrementQueueDrops()                                                 {}
func (r *NoOpRegistry) IncrementCadenceSkips()                                               {}
func (r *NoOpRegistry) IncrementRateLimitHits()                                              {}
func (r *NoOpRegistry) IncrementEvent(eventType string)                                      {}
func (r *NoOpRegistry) IncrementEventErrors()                                                {}
func (r *NoOpRegistry) SetActiveSessions(n int)                                              {}
