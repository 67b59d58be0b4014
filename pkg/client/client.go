// Package client talks to the ADCortex contextual advertising API.
//
// Three clients share one transport:
//
//   - ChatClient fetches an ad for every message and blocks for the answer.
//   - AsyncChatClient queues messages and fetches in the background, one
//     request at a time.
//   - CadenceClient accumulates history and only fetches when a message-count
//     policy says an ad is due.
//
// All of them format the latest ad into a context string through a template
// so the assistant can mention the product in its next reply.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/adcortex-go/internal/config"
	"github.com/patrickwarner/adcortex-go/internal/macros"
	"github.com/patrickwarner/adcortex-go/internal/observability"
	"github.com/patrickwarner/adcortex-go/internal/ratelimit"
	"github.com/patrickwarner/adcortex-go/pkg/models"
)

const (
	// MatchPath is the endpoint used by ChatClient and AsyncChatClient.
	MatchPath = "/ads/matchv2"
	// LegacyMatchPath is the history-based endpoint used by CadenceClient.
	LegacyMatchPath = "/ads/match"

	apiKeyHeader   = "X-API-KEY"
	maxErrorBody   = 4 << 10
	limiterKey     = "client"
	healthFailures = 3
)

// Fetch outcomes, used as metric labels and analytics event types.
const (
	OutcomeFetched     = "fetched"
	OutcomeNoAd        = "no_ad"
	OutcomeError       = "error"
	OutcomeRateLimited = "rate_limited"
)

// FetchResult describes one fetch attempt.
type FetchResult struct {
	RGUID     string
	SessionID string
	Message   models.Message
	Ad        *models.Ad // nil when no ad was returned
	Err       error
	Duration  time.Duration
}

// Outcome classifies the result.
func (r FetchResult) Outcome() string {
	switch {
	case errors.Is(r.Err, ErrRateLimited):
		return OutcomeRateLimited
	case r.Err != nil:
		return OutcomeError
	case r.Ad == nil:
		return OutcomeNoAd
	default:
		return OutcomeFetched
	}
}

// matchRequest is the body of a MatchPath request.
type matchRequest struct {
	RGUID       string             `json:"RGUID"`
	SessionInfo models.SessionInfo `json:"session_info"`
	UserData    models.UserInfo    `json:"user_data"`
	Messages    []models.Message   `json:"messages"`
}

// legacyMatchRequest is the body of a LegacyMatchPath request.
type legacyMatchRequest struct {
	SessionInfo models.SessionInfo `json:"session_info"`
	Messages    []models.Message   `json:"messages"`
}

// core holds what every client variant shares.
type core struct {
	session   models.SessionInfo
	apiKey    string
	baseURL   string
	http      *http.Client
	ownsHTTP  bool
	timeout   time.Duration
	logger    *zap.Logger
	metrics   Metrics
	formatter *macros.Service
	limiter   *ratelimit.Limiter
	hook      FetchHook
	now       func() time.Time
	tracer    trace.Tracer
	settings  settings
}

func newCore(session models.SessionInfo, opts []Option) (*core, error) {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}

	if err := session.Validate(); err != nil {
		return nil, invalidInput("invalid session", err)
	}

	apiKey := s.apiKey
	if apiKey == "" {
		_ = config.LoadDotEnv()
		apiKey = os.Getenv(config.APIKeyEnv)
	}
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	logger := s.logger
	switch {
	case s.loggingDisabled:
		logger = zap.NewNop()
	case logger == nil:
		logger = observability.NewClientLogger(s.logLevel)
	}
	logger = logger.With(zap.String("session_id", session.SessionID))

	metrics := s.metrics
	if metrics == nil {
		metrics = PrometheusMetrics()
	}

	formatter := macros.NewService(logger, s.template, s.strictTemplate)
	for name, fn := range s.placeholders {
		err := formatter.RegisterCustomMacro(name, func(ctx *macros.ExpansionContext) (string, error) {
			return fn(ctx.Ad)
		})
		if err != nil {
			return nil, invalidInput("invalid placeholder", err)
		}
	}

	httpClient := s.httpClient
	ownsHTTP := false
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
		ownsHTTP = true
	}

	c := &core{
		session:   session,
		apiKey:    apiKey,
		baseURL:   strings.TrimRight(s.baseURL, "/"),
		http:      httpClient,
		ownsHTTP:  ownsHTTP,
		timeout:   s.timeout,
		logger:    logger,
		metrics:   metrics,
		formatter: formatter,
		hook:      s.hook,
		now:       s.now,
		tracer:    observability.Tracer("adcortex-go/client"),
		settings:  s,
	}
	if s.rateLimit.Enabled {
		c.limiter = ratelimit.NewLimiter(s.rateLimit, metrics)
	}
	return c, nil
}

// newMessage stamps and validates a message.
func (c *core) newMessage(role models.Role, content string) (models.Message, error) {
	msg := models.NewMessage(role, content, c.now())
	if err := msg.Validate(); err != nil {
		return models.Message{}, invalidInput("invalid message", err)
	}
	c.metrics.IncrementMessages(string(role))
	return msg, nil
}

// fetchMessage requests an ad for a single message on MatchPath.
func (c *core) fetchMessage(ctx context.Context, msg models.Message) (*models.Ad, error) {
	rguid := uuid.NewString()
	user := c.session.UserInfo
	if user.Interests == nil {
		user.Interests = []models.Interest{}
	}
	body := matchRequest{
		RGUID:       rguid,
		SessionInfo: c.session,
		UserData:    user,
		Messages:    []models.Message{msg},
	}
	return c.fetch(ctx, MatchPath, rguid, msg, body)
}

// fetchHistory requests an ad for the whole conversation on LegacyMatchPath.
func (c *core) fetchHistory(ctx context.Context, history []models.Message) (*models.Ad, error) {
	var last models.Message
	if len(history) > 0 {
		last = history[len(history)-1]
	}
	body := legacyMatchRequest{SessionInfo: c.session, Messages: history}
	return c.fetch(ctx, LegacyMatchPath, uuid.NewString(), last, body)
}

func (c *core) fetch(ctx context.Context, path, rguid string, msg models.Message, body any) (*models.Ad, error) {
	start := time.Now()
	res := FetchResult{RGUID: rguid, SessionID: c.session.SessionID, Message: msg}

	if !c.limiter.Allow(limiterKey) {
		res.Err = ErrRateLimited
	} else {
		res.Ad, res.Err = c.post(ctx, path, rguid, body)
	}
	res.Duration = time.Since(start)

	outcome := res.Outcome()
	c.metrics.IncrementAdFetches(path, outcome)
	if outcome != OutcomeRateLimited {
		c.metrics.RecordAdFetchLatency(path, res.Duration)
	}

	switch outcome {
	case OutcomeError:
		c.logger.Error("Error fetching ad", zap.String("rguid", rguid), zap.Error(res.Err))
	case OutcomeRateLimited:
		c.logger.Info("Ad fetch skipped by rate limit", zap.String("rguid", rguid))
	case OutcomeNoAd:
		c.logger.Info("No ads returned", zap.String("rguid", rguid))
	default:
		c.logger.Info("Ad fetched", zap.String("rguid", rguid), zap.String("ad_title", res.Ad.AdTitle))
	}

	if c.hook != nil {
		c.hook(res)
	}
	return res.Ad, res.Err
}

func (c *core) post(ctx context.Context, path, rguid string, body any) (ad *models.Ad, err error) {
	ctx, span := c.tracer.Start(ctx, "adcortex.match",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("adcortex.path", path),
			attribute.String("adcortex.rguid", rguid),
			attribute.String("adcortex.session_id", c.session.SessionID),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("adcortex.ad_returned", ad != nil))
		span.End()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, invalidInput("marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, invalidInput("create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(apiKeyHeader, c.apiKey)
	httpReq.Header.Set("User-Agent", "adcortex-go/"+observability.Version)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "http request", Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &Error{Kind: KindStatusCode, Status: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "read response", Err: err}
	}
	ad, err = decodeMatchResponse(data)
	if err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Message: "decode response", Err: err}
	}
	return ad, nil
}

// decodeMatchResponse accepts {"ads": [...]} as well as the bare ad object
// the history endpoint answers with. Only the first listed ad is decoded,
// so malformed entries after it are ignored.
func decodeMatchResponse(data []byte) (*models.Ad, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if raw, ok := fields["ads"]; ok {
		var ads []json.RawMessage
		if err := json.Unmarshal(raw, &ads); err != nil {
			return nil, fmt.Errorf("ads: %w", err)
		}
		if len(ads) == 0 {
			return nil, nil
		}
		var ad models.Ad
		if err := json.Unmarshal(ads[0], &ad); err != nil {
			return nil, fmt.Errorf("ads[0]: %w", err)
		}
		return &ad, nil
	}
	var ad models.Ad
	if err := json.Unmarshal(data, &ad); err != nil {
		return nil, fmt.Errorf("neither an ad list nor an ad: %w", err)
	}
	return &ad, nil
}

func (c *core) createContext(ad *models.Ad) (string, error) {
	return c.formatter.FormatAd(ad, c.session.SessionID)
}

func (c *core) close() {
	if c.ownsHTTP {
		c.http.CloseIdleConnections()
	}
}

func copyAd(ad *models.Ad) *models.Ad {
	if ad == nil {
		return nil
	}
	cp := *ad
	return &cp
}
