package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/patrickwarner/adcortex-go/internal/observability"
	"github.com/patrickwarner/adcortex-go/pkg/client"
	"github.com/patrickwarner/adcortex-go/pkg/models"
)

func testSession() models.SessionInfo {
	return models.SessionInfo{
		SessionID: "s1",
		UserInfo:  models.UserInfo{UserID: "u1", Location: "US"},
		Platform:  models.Platform{Name: "bot", Version: "1"},
	}
}

func TestFetchEvent(t *testing.T) {
	ad := &models.Ad{Idx: 7, AdTitle: "Headset"}
	ev := FetchEvent(testSession(), client.FetchResult{RGUID: "r1", Ad: ad, Duration: 1500 * time.Microsecond})

	if ev.EventType != EventFetched {
		t.Fatalf("want %s got %s", EventFetched, ev.EventType)
	}
	if ev.SessionID != "s1" || ev.UserID != "u1" || ev.Country != "US" || ev.Platform != "bot" {
		t.Errorf("session columns not filled: %+v", ev)
	}
	if ev.AdIdx == nil || *ev.AdIdx != 7 || ev.AdTitle == nil || *ev.AdTitle != "Headset" {
		t.Errorf("ad columns not filled: %+v", ev)
	}
	if ev.LatencyMS != 1.5 {
		t.Errorf("want latency 1.5ms got %f", ev.LatencyMS)
	}
}

func TestFetchEvent_Outcomes(t *testing.T) {
	tests := []struct {
		res  client.FetchResult
		want string
	}{
		{client.FetchResult{}, EventNoAd},
		{client.FetchResult{Err: errors.New("boom")}, EventError},
		{client.FetchResult{Err: client.ErrRateLimited}, EventRateLimited},
	}
	for _, tt := range tests {
		ev := FetchEvent(testSession(), tt.res)
		if ev.EventType != tt.want {
			t.Errorf("want %s got %s", tt.want, ev.EventType)
		}
		if ev.AdIdx != nil {
			t.Errorf("no ad columns expected for %s", tt.want)
		}
	}

	ev := FetchEvent(testSession(), client.FetchResult{Err: errors.New("boom")})
	if ev.Error != "boom" {
		t.Errorf("want error text, got %q", ev.Error)
	}
}

func TestRecordEvent_Unavailable(t *testing.T) {
	var a *Analytics
	if err := a.RecordEvent(context.Background(), NewEvent(EventShown, testSession())); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable got %v", err)
	}

	a = &Analytics{Metrics: observability.NewNoOpRegistry()}
	if err := a.RecordDropped(context.Background(), testSession()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable got %v", err)
	}
	if _, err := a.EventsBySession(context.Background(), "s1", EventFilter{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable got %v", err)
	}
}

func TestMockAnalytics(t *testing.T) {
	m := NewMockAnalytics()
	ctx := context.Background()

	_ = m.RecordFetch(ctx, testSession(), client.FetchResult{Ad: &models.Ad{AdTitle: "x"}})
	_ = m.RecordShown(ctx, testSession(), &models.Ad{AdTitle: "x"})
	_ = m.RecordDropped(ctx, testSession())

	if m.Count(EventFetched) != 1 || m.Count(EventShown) != 1 || m.Count(EventDropped) != 1 {
		t.Fatalf("unexpected events: %+v", m.Events())
	}

	m.Err = ErrUnavailable
	if err := m.RecordDropped(ctx, testSession()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want configured error got %v", err)
	}
	if len(m.Events()) != 3 {
		t.Fatalf("failed calls must not record")
	}
}

func TestParseEventTypes(t *testing.T) {
	types, err := ParseEventTypes(" fetched, shown ,,")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(types) != 2 || types[0] != EventFetched || types[1] != EventShown {
		t.Errorf("unexpected types %v", types)
	}

	if types, err := ParseEventTypes(""); err != nil || len(types) != 0 {
		t.Errorf("empty list should match all, got %v %v", types, err)
	}
	if _, err := ParseEventTypes("fetched,clicked"); err == nil {
		t.Error("expected error for unknown event type")
	}
}

func TestEventFilterWhere(t *testing.T) {
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		filter   EventFilter
		wantCond string
		wantArgs int
	}{
		{"empty", EventFilter{}, "", 0},
		{"types", EventFilter{Types: []string{EventFetched, EventNoAd}}, " AND event_type IN (?,?)", 2},
		{"since", EventFilter{Since: since}, " AND timestamp >= ?", 1},
		{"both", EventFilter{Types: []string{EventShown}, Since: since}, " AND event_type IN (?) AND timestamp >= ?", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, args := tt.filter.where()
			if cond != tt.wantCond {
				t.Errorf("want %q got %q", tt.wantCond, cond)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("want %d args got %d", tt.wantArgs, len(args))
			}
		})
	}
}
