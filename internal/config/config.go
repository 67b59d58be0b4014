package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// APIKeyEnv is the environment variable holding the ADCortex API key.
const APIKeyEnv = "ADCORTEX_API_KEY"

// DefaultBaseURL is the ADCortex API host.
const DefaultBaseURL = "https://adcortex.3102labs.com"

// Config holds application configuration derived from environment variables.
type Config struct {
	// ADCortex API
	APIKey          string
	BaseURL         string
	Timeout         time.Duration
	MaxQueueSize    int
	ContextTemplate string
	StrictTemplate  bool
	LogLevel        string
	// Cadence policy
	CadenceEnabled     bool
	CadenceBeforeFirst int
	CadenceBetween     int
	// Client-side rate limiting of fetches, per session
	RateLimitEnabled    bool
	RateLimitCapacity   int
	RateLimitRefillRate int
	// Gateway
	Port               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	SessionIdleTimeout time.Duration
	ServiceName        string
	// Optional backing stores; empty disables the store
	RedisAddr     string
	PostgresDSN   string
	ClickHouseDSN string
	GeoIPDB       string
	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	CHMaxOpenConns    int
	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load reads a .env file when present, then parses environment variables and
// returns a Config populated with defaults when variables are absent.
// Variables already set in the environment take precedence over .env.
func Load() Config {
	_ = LoadDotEnv()

	cfg := Config{}

	cfg.APIKey = os.Getenv(APIKeyEnv)
	cfg.BaseURL = getenv("ADCORTEX_BASE_URL", DefaultBaseURL)
	cfg.Timeout = envDuration("ADCORTEX_TIMEOUT", 3*time.Second)
	cfg.MaxQueueSize = envInt("ADCORTEX_MAX_QUEUE_SIZE", 100)
	cfg.ContextTemplate = getenv("ADCORTEX_CONTEXT_TEMPLATE", "")
	cfg.StrictTemplate = envBool("ADCORTEX_STRICT_TEMPLATE", false)
	cfg.LogLevel = getenv("LOG_LEVEL", "")

	cfg.CadenceEnabled = envBool("CADENCE_ENABLED", false)
	cfg.CadenceBeforeFirst = envInt("CADENCE_BEFORE_FIRST", 3)
	cfg.CadenceBetween = envInt("CADENCE_BETWEEN", 10)

	cfg.RateLimitEnabled = envBool("RATE_LIMIT_ENABLED", false)
	cfg.RateLimitCapacity = envInt("RATE_LIMIT_CAPACITY", 5)
	cfg.RateLimitRefillRate = envInt("RATE_LIMIT_REFILL_RATE", 1)

	cfg.Port = getenv("PORT", "8788")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.SessionIdleTimeout = envDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute)
	cfg.ServiceName = getenv("SERVICE_NAME", "adcortex-gateway")

	cfg.RedisAddr = getenv("REDIS_ADDR", "")
	cfg.PostgresDSN = getenv("POSTGRES_DSN", "")
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "")
	cfg.GeoIPDB = getenv("GEOIP_DB", "")

	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", time.Minute)
	cfg.CHMaxOpenConns = envInt("CH_MAX_OPEN_CONNS", 25)

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// LoadDotEnv loads ./.env into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}
