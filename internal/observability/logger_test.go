package observability

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zap.DebugLevel,
		" INFO ":  zap.InfoLevel,
		"warning": zap.WarnLevel,
		"Error":   zap.ErrorLevel,
		"loud":    zap.WarnLevel,
		"":        zap.WarnLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in, zap.WarnLevel); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestGetLogLevel(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("LOG_LEVEL", "")
	if got := getLogLevel(); got != zap.DebugLevel {
		t.Errorf("dev default: got %v", got)
	}
	t.Setenv("LOG_LEVEL", "error")
	if got := getLogLevel(); got != zap.ErrorLevel {
		t.Errorf("explicit level: got %v", got)
	}
}

func TestNewClientLoggerLevel(t *testing.T) {
	logger := NewClientLogger(zap.ErrorLevel)
	if logger.Core().Enabled(zap.WarnLevel) {
		t.Error("warn should be disabled at error level")
	}
	if !logger.Core().Enabled(zap.ErrorLevel) {
		t.Error("error should be enabled")
	}
}

func TestMockMetricsRegistry(t *testing.T) {
	m := NewMockMetricsRegistry()
	var reg MetricsRegistry = m
	reg.IncrementAdFetches("/ads/matchv2", "fetched")
	reg.IncrementAdFetches("/ads/matchv2", "fetched")
	reg.IncrementQueueDrops()
	reg.IncrementEvent("ad_shown")
	reg.IncrementRequests("health", "GET", "200")

	if m.FetchCount("fetched") != 2 || m.Drops() != 1 || m.EventTotal("ad_shown") != 1 {
		t.Errorf("unexpected counts: %+v", m)
	}
	if m.Requests["health 200"] != 1 {
		t.Errorf("requests: %v", m.Requests)
	}
}
