package client

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/patrickwarner/adcortex-go/internal/config"
	"github.com/patrickwarner/adcortex-go/internal/macros"
	"github.com/patrickwarner/adcortex-go/internal/observability"
	"github.com/patrickwarner/adcortex-go/internal/ratelimit"
	"github.com/patrickwarner/adcortex-go/pkg/models"
)

const (
	// DefaultBaseURL is the ADCortex API host.
	DefaultBaseURL = config.DefaultBaseURL
	// DefaultContextTemplate is used by CreateContext unless overridden.
	DefaultContextTemplate = macros.DefaultContextTemplate
	// DefaultTimeout bounds each match request.
	DefaultTimeout = 3 * time.Second
	// DefaultMaxQueueSize is the AsyncChatClient queue capacity.
	DefaultMaxQueueSize = 100
)

// Metrics receives fetch, queue and throttle measurements.
type Metrics = observability.MetricsRegistry

// PrometheusMetrics records into the default Prometheus registry.
func PrometheusMetrics() Metrics {
	return observability.NewPrometheusRegistry()
}

// NoMetrics discards all measurements.
func NoMetrics() Metrics {
	return observability.NewNoOpRegistry()
}

// FetchHook is called after every fetch attempt, from the goroutine that made
// it. Hooks must return quickly.
type FetchHook func(FetchResult)

// PlaceholderFunc renders a custom context-template placeholder.
type PlaceholderFunc func(ad models.Ad) (string, error)

// Option configures a client.
type Option func(*settings)

type settings struct {
	apiKey          string
	baseURL         string
	httpClient      *http.Client
	timeout         time.Duration
	template        string
	strictTemplate  bool
	placeholders    map[string]PlaceholderFunc
	logger          *zap.Logger
	logLevel        zapcore.Level
	loggingDisabled bool
	metrics         Metrics
	maxQueueSize    int
	rateLimit       ratelimit.Config
	hook            FetchHook
	cadence         *Cadence
	cadenceStore    CadenceStore
	now             func() time.Time
}

func defaultSettings() settings {
	return settings{
		baseURL:      DefaultBaseURL,
		timeout:      DefaultTimeout,
		logLevel:     zapcore.ErrorLevel,
		maxQueueSize: DefaultMaxQueueSize,
		now:          time.Now,
	}
}

// WithAPIKey sets the API key instead of reading ADCORTEX_API_KEY.
func WithAPIKey(key string) Option {
	return func(s *settings) { s.apiKey = key }
}

// WithBaseURL points the client at another host, e.g. a test server.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// WithTimeout bounds each request. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithContextTemplate sets the template used by CreateContext.
func WithContextTemplate(t string) Option {
	return func(s *settings) { s.template = t }
}

// WithStrictTemplate makes unknown placeholders an error instead of leaving
// them in the output.
func WithStrictTemplate() Option {
	return func(s *settings) { s.strictTemplate = true }
}

// WithPlaceholder registers an extra placeholder for the context template.
func WithPlaceholder(name string, fn PlaceholderFunc) Option {
	return func(s *settings) {
		if s.placeholders == nil {
			s.placeholders = make(map[string]PlaceholderFunc)
		}
		s.placeholders[name] = fn
	}
}

// WithLogger injects a logger. It takes precedence over WithLogLevel.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithLogLevel sets the level of the default stderr logger (error by default).
func WithLogLevel(level zapcore.Level) Option {
	return func(s *settings) { s.logLevel = level }
}

// WithLoggingDisabled silences the client entirely.
func WithLoggingDisabled() Option {
	return func(s *settings) { s.loggingDisabled = true }
}

// WithMetrics sets the metrics registry. Defaults to PrometheusMetrics.
func WithMetrics(m Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithMaxQueueSize sets the AsyncChatClient queue capacity.
func WithMaxQueueSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxQueueSize = n
		}
	}
}

// WithRateLimit throttles fetches to a burst of capacity and refillPerSecond
// sustained. Fetches over the limit are skipped.
func WithRateLimit(capacity, refillPerSecond int) Option {
	return func(s *settings) {
		s.rateLimit = ratelimit.Config{Capacity: capacity, RefillRate: refillPerSecond, Enabled: true}
	}
}

// WithFetchHook registers a callback run after every fetch attempt.
func WithFetchHook(h FetchHook) Option {
	return func(s *settings) { s.hook = h }
}

// WithCadence sets the CadenceClient thresholds.
func WithCadence(beforeFirst, between int) Option {
	return func(s *settings) { s.cadence = NewCadence(beforeFirst, between) }
}

// WithCadenceStore keeps CadenceClient counters in store instead of memory.
func WithCadenceStore(store CadenceStore) Option {
	return func(s *settings) { s.cadenceStore = store }
}

func withClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}
