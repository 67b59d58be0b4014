package analytics

import (
	"context"
	"sync"

	"github.com/patrickwarner/adcortex-go/pkg/client"
	"github.com/patrickwarner/adcortex-go/pkg/models"
)

var _ AnalyticsService = (*MockAnalytics)(nil)

// MockAnalytics keeps events in memory for tests.
type MockAnalytics struct {
	mu     sync.Mutex
	events []EventRecord
	// Err, when set, is returned from every call instead of recording.
	Err error
}

// NewMockAnalytics creates a new mock analytics instance
func NewMockAnalytics() *MockAnalytics {
	return &MockAnalytics{}
}

func (m *MockAnalytics) RecordEvent(_ context.Context, ev EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *MockAnalytics) RecordFetch(ctx context.Context, session models.SessionInfo, res client.FetchResult) error {
	return m.RecordEvent(ctx, FetchEvent(session, res))
}

func (m *MockAnalytics) RecordShown(ctx context.Context, session models.SessionInfo, ad *models.Ad) error {
	return m.RecordEvent(ctx, NewEvent(EventShown, session).WithAd(ad))
}

func (m *MockAnalytics) RecordDropped(ctx context.Context, session models.SessionInfo) error {
	return m.RecordEvent(ctx, NewEvent(EventDropped, session))
}

// Events returns a copy of the recorded events.
func (m *MockAnalytics) Events() []EventRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventRecord, len(m.events))
	copy(out, m.events)
	return out
}

// Count returns how many events of eventType were recorded.
func (m *MockAnalytics) Count(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}
