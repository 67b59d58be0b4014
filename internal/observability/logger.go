package observability

import (
	"math/rand"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLoggerWithService constructs a production zap.Logger for a binary.
// The returned logger is installed as the global logger.
func InitLoggerWithService(serviceName string) (*zap.Logger, error) {
	return InitLoggerWithLevel(getLogLevel(), serviceName)
}

// InitLoggerWithLevel constructs a zap.Logger at the provided level.
// The returned logger is named with the service name and installed as the global logger.
func InitLoggerWithLevel(level zapcore.Level, serviceName string) (*zap.Logger, error) {
	logger, err := buildLogger(level, serviceName, nil)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// InitStderrLogger builds a logger that writes only to stderr, for binaries
// whose stdout carries a protocol stream.
func InitStderrLogger(serviceName string) (*zap.Logger, error) {
	return buildLogger(getLogLevel(), serviceName, []string{"stderr"})
}

// NewClientLogger builds the logger SDK clients use when the caller does not
// inject one. It never replaces the global logger.
func NewClientLogger(level zapcore.Level) *zap.Logger {
	logger, err := buildLogger(level, "adcortex", []string{"stderr"})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func buildLogger(level zapcore.Level, serviceName string, outputs []string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	if len(outputs) > 0 {
		cfg.OutputPaths = outputs
		cfg.ErrorOutputPaths = outputs
	}

	// Consistent field names across every binary and the SDK
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.NameKey = "logger"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return logger.Named(serviceName).With(zap.String("service", serviceName)), nil
}

// ParseLevel converts a LOG_LEVEL style string. Unknown values yield def.
func ParseLevel(s string, def zapcore.Level) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zap.DebugLevel
	case "INFO":
		return zap.InfoLevel
	case "WARN", "WARNING":
		return zap.WarnLevel
	case "ERROR":
		return zap.ErrorLevel
	default:
		return def
	}
}

// getLogLevel determines the appropriate log level based on environment
func getLogLevel() zapcore.Level {
	env := strings.ToLower(os.Getenv("ENV"))

	def := zap.InfoLevel
	if env == "development" || env == "dev" {
		def = zap.DebugLevel
	}

	// Explicit LOG_LEVEL wins over the environment default
	return ParseLevel(os.Getenv("LOG_LEVEL"), def)
}

// ShouldSample returns true if the log should be sampled based on the given rate.
// rate should be between 0.0 and 1.0 (e.g., 0.1 for 10% sampling).
func ShouldSample(rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0.0 {
		return false
	}
	return rand.Float64() < rate
}

// GetSamplingRate returns the per-message log sampling rate based on environment
func GetSamplingRate() float64 {
	env := strings.ToLower(os.Getenv("ENV"))
	switch env {
	case "development", "dev":
		return 1.0 // No sampling in development
	case "staging", "test":
		return 0.5
	default: // production
		return 0.1
	}
}
