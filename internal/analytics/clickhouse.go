package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/adcortex-go/internal/observability"
	"github.com/patrickwarner/adcortex-go/pkg/client"
	"github.com/patrickwarner/adcortex-go/pkg/models"
)

// Event types written to the events table.
const (
	EventFetched     = client.OutcomeFetched
	EventNoAd        = client.OutcomeNoAd
	EventError       = client.OutcomeError
	EventRateLimited = client.OutcomeRateLimited
	EventDropped     = "dropped"
	EventShown       = "shown"
)

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = errors.New("analytics unavailable")

// AnalyticsService defines the interface for analytics operations.
// Implementations should return ErrUnavailable when storage is not configured.
type AnalyticsService interface {
	// RecordEvent records a single ad event.
	RecordEvent(ctx context.Context, ev EventRecord) error
	// RecordFetch records the outcome of a match request.
	RecordFetch(ctx context.Context, session models.SessionInfo, res client.FetchResult) error
	// RecordShown records that the application displayed an ad.
	RecordShown(ctx context.Context, session models.SessionInfo, ad *models.Ad) error
	// RecordDropped records a message dropped because the queue was full.
	RecordDropped(ctx context.Context, session models.SessionInfo) error
}

// Analytics wraps a ClickHouse DB connection.
type Analytics struct {
	DB      *sql.DB
	Metrics observability.MetricsRegistry
}

var _ AnalyticsService = (*Analytics)(nil)

// EventRecord mirrors a row in the ad_events table.
type EventRecord struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	SessionID string    `json:"session_id"`
	RGUID     string    `json:"rguid"`
	UserID    string    `json:"user_id"`
	Country   string    `json:"country"`
	Platform  string    `json:"platform"`
	AdIdx     *int32    `json:"ad_idx"`
	AdTitle   *string   `json:"ad_title"`
	LatencyMS float64   `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
}

// NewEvent fills the session columns of an event.
func NewEvent(eventType string, session models.SessionInfo) EventRecord {
	return EventRecord{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		SessionID: session.SessionID,
		UserID:    session.UserInfo.UserID,
		Country:   session.UserInfo.Location,
		Platform:  session.Platform.Name,
	}
}

// WithAd sets the ad columns.
func (e EventRecord) WithAd(ad *models.Ad) EventRecord {
	if ad != nil {
		idx := int32(ad.Idx)
		title := ad.AdTitle
		e.AdIdx = &idx
		e.AdTitle = &title
	}
	return e
}

// FetchEvent converts a fetch result into an event.
func FetchEvent(session models.SessionInfo, res client.FetchResult) EventRecord {
	ev := NewEvent(res.Outcome(), session).WithAd(res.Ad)
	ev.RGUID = res.RGUID
	ev.LatencyMS = float64(res.Duration) / float64(time.Millisecond)
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	return ev
}

// InitClickHouse connects to ClickHouse and ensures the events table exists.
func InitClickHouse(dsn string, maxOpenConns int, metrics observability.MetricsRegistry) (*Analytics, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	create := `CREATE TABLE IF NOT EXISTS ad_events (
       timestamp   DateTime64(3),
       event_type  LowCardinality(String),
       session_id  String,
       rguid       String,
       user_id     String,
       country     LowCardinality(String),
       platform    LowCardinality(String),
       ad_idx      Nullable(Int32),
       ad_title    Nullable(String),
       latency_ms  Float64,
       error       String
   ) ENGINE=MergeTree() ORDER BY (event_type, timestamp)`
	if _, err := db.ExecContext(context.Background(), create); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	zap.L().Info("Connected to ClickHouse")
	return &Analytics{DB: db, Metrics: metrics}, nil
}

// RecordEvent inserts a single event row.
func (a *Analytics) RecordEvent(ctx context.Context, ev EventRecord) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	var idx sql.NullInt32
	if ev.AdIdx != nil {
		idx = sql.NullInt32{Int32: *ev.AdIdx, Valid: true}
	}
	var title sql.NullString
	if ev.AdTitle != nil {
		title = sql.NullString{String: *ev.AdTitle, Valid: true}
	}

	stmt := `INSERT INTO ad_events (timestamp, event_type, session_id, rguid, user_id, country, platform, ad_idx, ad_title, latency_ms, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := a.DB.ExecContext(ctx, stmt, ev.Timestamp, ev.EventType, ev.SessionID, ev.RGUID, ev.UserID,
		ev.Country, ev.Platform, idx, title, ev.LatencyMS, ev.Error); err != nil {
		a.metrics().IncrementEventErrors()
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("event_type", ev.EventType))
		return fmt.Errorf("insert %s event: %w", ev.EventType, err)
	}
	a.metrics().IncrementEvent(ev.EventType)
	return nil
}

// RecordFetch records the outcome of a match request.
func (a *Analytics) RecordFetch(ctx context.Context, session models.SessionInfo, res client.FetchResult) error {
	return a.RecordEvent(ctx, FetchEvent(session, res))
}

// RecordShown records that the application displayed ad.
func (a *Analytics) RecordShown(ctx context.Context, session models.SessionInfo, ad *models.Ad) error {
	return a.RecordEvent(ctx, NewEvent(EventShown, session).WithAd(ad))
}

// RecordDropped records a message dropped from a full queue.
func (a *Analytics) RecordDropped(ctx context.Context, session models.SessionInfo) error {
	return a.RecordEvent(ctx, NewEvent(EventDropped, session))
}

func (a *Analytics) metrics() observability.MetricsRegistry {
	if a.Metrics == nil {
		return observability.NewNoOpRegistry()
	}
	return a.Metrics
}

// Close terminates the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}

// EventsBySession returns the events for a session that pass f, ordered by
// timestamp.
func (a *Analytics) EventsBySession(ctx context.Context, sessionID string, f EventFilter) ([]EventRecord, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	cond, args := f.where()
	query := `SELECT timestamp, event_type, session_id, rguid, user_id, country, platform, ad_idx, ad_title, latency_ms, error FROM ad_events WHERE session_id=?` +
		cond + ` ORDER BY timestamp`
	rows, err := a.DB.QueryContext(ctx, query, append([]any{sessionID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var events []EventRecord
	for rows.Next() {
		var ev EventRecord
		if err := rows.Scan(&ev.Timestamp, &ev.EventType, &ev.SessionID, &ev.RGUID, &ev.UserID, &ev.Country,
			&ev.Platform, &ev.AdIdx, &ev.AdTitle, &ev.LatencyMS, &ev.Error); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}
