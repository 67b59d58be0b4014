package macros

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/patrickwarner/adcortex-go/pkg/models"
)

// ErrUnknownPlaceholder is returned in strict mode when a template references a
// name that is neither registered nor supplied in ExpansionContext.Values.
var ErrUnknownPlaceholder = errors.New("unknown placeholder")

// ErrMalformedTemplate is returned in strict mode for an unmatched brace.
var ErrMalformedTemplate = errors.New("malformed template")

// Expander substitutes {name} placeholders in context templates with values
// taken from an ad. Doubled braces ({{ and }}) produce literal braces.
type Expander struct {
	logger       *zap.Logger
	expansions   map[string]ExpansionFunc
	expansionsMu sync.RWMutex
	strictMode   bool // If true, any unknown placeholder fails the whole expansion

	metrics *expanderMetrics
}

// ExpansionFunc produces the value for one placeholder.
type ExpansionFunc func(ctx *ExpansionContext) (string, error)

// ExpansionContext contains all data available for placeholder expansion.
type ExpansionContext struct {
	Ad        models.Ad
	SessionID string
	Timestamp time.Time

	// Values supplies ad-hoc placeholders that are not registered on the expander.
	Values map[string]string
}

type expanderMetrics struct {
	expansionCounter  *prometheus.CounterVec
	expansionDuration prometheus.Histogram
	failureCounter    *prometheus.CounterVec
}

func newExpanderMetrics(factory promauto.Factory) *expanderMetrics {
	return &expanderMetrics{
		expansionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adcortex_template_expansions_total",
				Help: "Total number of placeholder expansions performed",
			},
			[]string{"placeholder", "success"},
		),
		expansionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "adcortex_template_expansion_duration_seconds",
				Help:    "Time taken to expand a context template",
				Buckets: prometheus.DefBuckets,
			},
		),
		failureCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adcortex_template_expansion_failures_total",
				Help: "Total number of placeholder expansion failures",
			},
			[]string{"placeholder", "error_type"},
		),
	}
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *expanderMetrics
)

// globalMetrics registers the expander metrics with the default registry once.
// Every client in a process shares them.
func globalMetrics() *expanderMetrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = newExpanderMetrics(promauto.With(prometheus.DefaultRegisterer))
	})
	return defaultMetrics
}

// NewExpander creates a lenient expander with the ad field placeholders registered.
func NewExpander(logger *zap.Logger) *Expander {
	return NewExpanderWithMode(logger, false)
}

// NewExpanderWithMode creates an expander with configurable strict/lenient mode.
func NewExpanderWithMode(logger *zap.Logger, strictMode bool) *Expander {
	return newExpander(logger, strictMode, globalMetrics())
}

// NewExpanderForTesting creates an expander whose metrics live in a private
// registry so tests can construct as many as they like.
func NewExpanderForTesting(logger *zap.Logger, strictMode bool) *Expander {
	return newExpander(logger, strictMode, newExpanderMetrics(promauto.With(prometheus.NewRegistry())))
}

func newExpander(logger *zap.Logger, strictMode bool, metrics *expanderMetrics) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Expander{
		logger:     logger,
		expansions: make(map[string]ExpansionFunc),
		strictMode: strictMode,
		metrics:    metrics,
	}
	e.registerDefaultMacros()
	return e
}

// SetStrictMode enables or disables strict expansion.
func (e *Expander) SetStrictMode(strict bool) {
	e.strictMode = strict
}

// Expand replaces every placeholder in template.
//
// In lenient mode unknown placeholders and stray braces are copied through
// unchanged and the partial result is returned with a nil error. In strict mode
// the first problem aborts expansion.
func (e *Expander) Expand(template string, ctx *ExpansionContext) (string, error) {
	start := time.Now()
	defer func() {
		e.metrics.expansionDuration.Observe(time.Since(start).Seconds())
	}()

	if template == "" {
		return "", nil
	}
	if ctx == nil {
		ctx = &ExpansionContext{}
	}

	var (
		b        strings.Builder
		problems []error
	)
	b.Grow(len(template))

	for i := 0; i < len(template); {
		switch c := template[i]; c {
		case '{':
			if i+1 < len(template) && template[i+1] == '{' {
				b.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(template[i+1:], '}')
			if end == -1 {
				err := fmt.Errorf("%w: single '{' at offset %d", ErrMalformedTemplate, i)
				if e.strictMode {
					return "", err
				}
				problems = append(problems, err)
				b.WriteString(template[i:])
				i = len(template)
				continue
			}
			name := template[i+1 : i+1+end]
			value, err := e.expand(name, ctx)
			if err != nil {
				if e.strictMode {
					return "", err
				}
				problems = append(problems, err)
				b.WriteString(template[i : i+end+2])
			} else {
				b.WriteString(value)
			}
			i += end + 2
		case '}':
			if i+1 < len(template) && template[i+1] == '}' {
				b.WriteByte('}')
				i += 2
				continue
			}
			err := fmt.Errorf("%w: single '}' at offset %d", ErrMalformedTemplate, i)
			if e.strictMode {
				return "", err
			}
			problems = append(problems, err)
			b.WriteByte('}')
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}

	expanded := b.String()
	if len(problems) > 0 {
		e.logger.Warn("Template expansion completed with errors, continuing with partial expansion",
			zap.String("template", template),
			zap.Error(errors.Join(problems...)))
	}
	return expanded, nil
}

// expand resolves a single placeholder name.
func (e *Expander) expand(name string, ctx *ExpansionContext) (string, error) {
	e.expansionsMu.RLock()
	fn, registered := e.expansions[name]
	e.expansionsMu.RUnlock()

	if !registered {
		if v, ok := ctx.Values[name]; ok {
			e.metrics.expansionCounter.WithLabelValues("value", "true").Inc()
			return v, nil
		}
		e.metrics.failureCounter.WithLabelValues("unknown", "unknown_placeholder").Inc()
		return "", fmt.Errorf("%w %q", ErrUnknownPlaceholder, name)
	}

	value, err := fn(ctx)
	if err != nil {
		e.metrics.expansionCounter.WithLabelValues(name, "false").Inc()
		e.metrics.failureCounter.WithLabelValues(name, "expansion_error").Inc()
		e.logger.Error("Failed to expand placeholder",
			zap.String("placeholder", name),
			zap.Error(err))
		return "", fmt.Errorf("expand %q: %w", name, err)
	}
	e.metrics.expansionCounter.WithLabelValues(name, "true").Inc()
	return value, nil
}

// RegisterMacro adds a custom placeholder.
func (e *Expander) RegisterMacro(name string, expansionFunc ExpansionFunc) error {
	if name == "" {
		return fmt.Errorf("macro name cannot be empty")
	}
	if strings.ContainsAny(name, "{}") {
		return fmt.Errorf("macro name %q cannot contain braces", name)
	}
	if expansionFunc == nil {
		return fmt.Errorf("expansion function cannot be nil")
	}

	e.expansionsMu.Lock()
	defer e.expansionsMu.Unlock()

	e.expansions[name] = expansionFunc

	e.logger.Debug("Registered custom macro",
		zap.String("macro", name))

	return nil
}

// GetRegisteredMacros returns the sorted names of all registered placeholders.
func (e *Expander) GetRegisteredMacros() []string {
	e.expansionsMu.RLock()
	defer e.expansionsMu.RUnlock()

	names := make([]string, 0, len(e.expansions))
	for name := range e.expansions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// registerDefaultMacros registers one placeholder per ad field plus a few
// conversation-level values.
func (e *Expander) registerDefaultMacros() {
	e.expansions["idx"] = func(ctx *ExpansionContext) (string, error) {
		return fmt.Sprintf("%d", ctx.Ad.Idx), nil
	}
	e.expansions["ad_title"] = func(ctx *ExpansionContext) (string, error) {
		return ctx.Ad.AdTitle, nil
	}
	e.expansions["ad_description"] = func(ctx *ExpansionContext) (string, error) {
		return ctx.Ad.AdDescription, nil
	}
	e.expansions["placement_template"] = func(ctx *ExpansionContext) (string, error) {
		return ctx.Ad.PlacementTemplate, nil
	}
	e.expansions["link"] = func(ctx *ExpansionContext) (string, error) {
		return ctx.Ad.Link, nil
	}

	e.expansions["session_id"] = func(ctx *ExpansionContext) (string, error) {
		if ctx.SessionID == "" {
			return "", fmt.Errorf("no session id in context")
		}
		return ctx.SessionID, nil
	}
	e.expansions["timestamp"] = func(ctx *ExpansionContext) (string, error) {
		ts := ctx.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		return ts.UTC().Format(time.RFC3339), nil
	}
}

// ValidateTemplate returns the placeholders in template that are not
// registered. Values supplied at expansion time are not known here, so callers
// relying on them should expect those names in the result.
func (e *Expander) ValidateTemplate(template string) []string {
	var unsupported []string

	for i := 0; i < len(template); i++ {
		switch template[i] {
		case '{':
			if i+1 < len(template) && template[i+1] == '{' {
				i++
				continue
			}
			end := strings.IndexByte(template[i+1:], '}')
			if end == -1 {
				return unsupported
			}
			name := template[i+1 : i+1+end]

			e.expansionsMu.RLock()
			_, supported := e.expansions[name]
			e.expansionsMu.RUnlock()

			if !supported {
				unsupported = append(unsupported, name)
			}
			i += end + 1
		case '}':
			if i+1 < len(template) && template[i+1] == '}' {
				i++
			}
		}
	}

	return unsupported
}
