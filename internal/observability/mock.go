package observability

import (
	"sync"
	"time"
)

// MockMetricsRegistry records calls so tests can assert on them.
type MockMetricsRegistry struct {
	mu             sync.Mutex
	Fetches        map[string]int // keyed by outcome
	Messages       map[string]int // keyed by role
	Events         map[string]int // keyed by event type
	Requests       map[string]int // keyed by "endpoint status"
	QueueDrops     int
	CadenceSkips   int
	RateLimitHits  int
	EventErrors    int
	ActiveSessions int
}

// NewMockMetricsRegistry creates an empty MockMetricsRegistry.
func NewMockMetricsRegistry() *MockMetricsRegistry {
	return &MockMetricsRegistry{
		Fetches:  make(map[string]int),
		Messages: make(map[string]int),
		Events:   make(map[string]int),
		Requests: make(map[string]int),
	}
}

func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests[endpoint+" "+status]++
}

func (m *MockMetricsRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}

func (m *MockMetricsRegistry) IncrementAdFetches(endpoint, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fetches[outcome]++
}

func (m *MockMetricsRegistry) RecordAdFetchLatency(endpoint string, duration time.Duration) {}

func (m *MockMetricsRegistry) IncrementMessages(role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages[role]++
}

func (m *MockMetricsRegistry) IncrementQueueDrops() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueueDrops++
}

func (m *MockMetricsRegistry) IncrementCadenceSkips() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CadenceSkips++
}

func (m *MockMetricsRegistry) IncrementRateLimitHits() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RateLimitHits++
}

func (m *MockMetricsRegistry) IncrementEvent(eventType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events[eventType]++
}

func (m *MockMetricsRegistry) IncrementEventErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EventErrors++
}

func (m *MockMetricsRegistry) SetActiveSessions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ActiveSessions = n
}

// FetchCount returns how many fetches ended with outcome.
func (m *MockMetricsRegistry) FetchCount(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Fetches[outcome]
}

// Drops returns the number of queue drops recorded.
func (m *MockMetricsRegistry) Drops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.QueueDrops
}

// EventTotal returns how many events of eventType were recorded.
func (m *MockMetricsRegistry) EventTotal(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Events[eventType]
}
