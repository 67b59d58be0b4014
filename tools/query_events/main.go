package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adcortex-go/internal/analytics"
	"github.com/patrickwarner/adcortex-go/internal/config"
	"github.com/patrickwarner/adcortex-go/internal/observability"
)

func main() {
	logger, err := observability.InitStderrLogger("query-events")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var (
		session string
		dsn     string
		types   string
		since   time.Duration
	)
	flag.StringVar(&session, "session", "", "session ID")
	flag.StringVar(&dsn, "dsn", "", "ClickHouse DSN")
	flag.StringVar(&types, "type", "", "comma separated event types, e.g. fetched,shown")
	flag.DurationVar(&since, "since", 0, "only events newer than this, e.g. 1h")
	flag.Parse()

	if session == "" {
		fmt.Fprintln(os.Stderr, "session required")
		os.Exit(1)
	}
	var filter analytics.EventFilter
	if filter.Types, err = analytics.ParseEventTypes(types); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -type: %v\n", err)
		os.Exit(1)
	}
	if since > 0 {
		filter.Since = time.Now().Add(-since)
	}
	if dsn == "" {
		cfg := config.Load()
		dsn = cfg.ClickHouseDSN
	}

	a, err := analytics.InitClickHouse(dsn, 2, observability.NewNoOpRegistry())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect clickhouse: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	events, err := a.EventsBySession(ctx, session, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query events: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Fetched session events", zap.String("session_id", session), zap.Int("count", len(events)))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		fmt.Fprintf(os.Stderr, "encode events: %v\n", err)
		os.Exit(1)
	}
}
