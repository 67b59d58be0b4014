package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/adcortex-go/internal/analytics"
	"github.com/patrickwarner/adcortex-go/internal/config"
	"github.com/patrickwarner/adcortex-go/internal/db"
	"github.com/patrickwarner/adcortex-go/internal/geoip"
	"github.com/patrickwarner/adcortex-go/internal/observability"
	"github.com/patrickwarner/adcortex-go/pkg/client"
	"github.com/patrickwarner/adcortex-go/pkg/models"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.4896.75 Safari/537.36"

var upstreamAd = models.Ad{
	Idx:               7,
	AdTitle:           "Mechanical Keyboard",
	AdDescription:     "Clicky keys",
	PlacementTemplate: "Try a mechanical keyboard",
	Link:              "https://example.com/kb",
}

type testEnv struct {
	srv       *Server
	handler   http.Handler
	upstream  *httptest.Server
	calls     *atomic.Int32
	analytics *analytics.MockAnalytics
	metrics   *observability.MockMetricsRegistry
	repo      *db.MemoryRepository
}

func newTestEnv(t *testing.T, cadence client.CadenceStore, cfg config.Config, upstream http.HandlerFunc, opts ...client.Option) *testEnv {
	t.Helper()
	calls := &atomic.Int32{}
	if upstream == nil {
		upstream = func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(models.AdResponse{Ads: []models.Ad{upstreamAd}})
		}
	}
	us := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		upstream(w, r)
	}))
	t.Cleanup(us.Close)

	geo, err := geoip.FromJSON([]byte(`[{"net":"203.0.113.0/24","country":"DE"}]`))
	require.NoError(t, err)

	mock := analytics.NewMockAnalytics()
	metrics := observability.NewMockMetricsRegistry()
	repo := db.NewMemoryRepository()
	base := []client.Option{client.WithAPIKey("test-key"), client.WithBaseURL(us.URL)}
	srv := NewServer(zap.NewNop(), repo, cadence, mock, geo, metrics, cfg, append(base, opts...)...)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return &testEnv{
		srv:       srv,
		handler:   srv.Router(),
		upstream:  us,
		calls:     calls,
		analytics: mock,
		metrics:   metrics,
		repo:      repo,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.7:5555"
	req.Header.Set("User-Agent", chromeUA)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func sessionBody(id string) map[string]any {
	return map[string]any{
		"session_id":     id,
		"character_name": "Alex",
		"user_info": map[string]any{
			"user_id":   "u1",
			"age":       30,
			"gender":    "female",
			"location":  "US",
			"language":  "en",
			"interests": []string{"gaming"},
		},
		"platform": map[string]any{"name": "ChatBotX", "version": "1.0"},
	}
}

func (e *testEnv) waitIdle(t *testing.T, id string) {
	t.Helper()
	c, _, err := e.srv.clientFor(context.Background(), id)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.WaitForQueue(ctx))
}

func TestCreateSession_FillsDefaultsFromRequest(t *testing.T) {
	env := newTestEnv(t, nil, config.Config{}, nil)

	body := sessionBody("s1")
	body["user_info"].(map[string]any)["location"] = ""
	delete(body, "platform")

	rec := env.do(t, http.MethodPost, "/sessions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var got models.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "DE", got.UserInfo.Location)
	assert.Equal(t, "Chrome", got.Platform.Name)
	assert.NotEmpty(t, got.Platform.Version)

	stored, err := env.repo.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "DE", stored.UserInfo.Location)
	assert.Equal(t, 1, env.srv.ActiveSessions())
}

func TestCreateSession_GeneratesID(t *testing.T) {
	env := newTestEnv(t, nil, config.Config{}, nil)

	rec := env.do(t, http.MethodPost, "/sessions", sessionBody(""))
	require.Equal(t, http.StatusCreated, rec.Code)

	var got models.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.NotEmpty(t, got.SessionID)
}

func TestCreateSession_Invalid(t *testing.T) {
	env := newTestEnv(t, nil, config.Config{}, nil)

	body := sessionBody("s1")
	body["user_info"].(map[string]any)["gender"] = "robot"
	rec := env.do(t, http.MethodPost, "/sessions", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "gender")

	req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateSession_Duplicate(t *testing.T) {
	env := newTestEnv(t, nil, config.Config{}, nil)

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/sessions", sessionBody("s1")).Code)
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/sessions", sessionBody("s1")).Code)
}

func TestCreateSession_MissingAPIKeyRollsBack(t *testing.T) {
	t.Setenv(config.APIKeyEnv, "")
	t.Chdir(t.TempDir())
	metrics := observability.NewMockMetricsRegistry()
	repo := db.NewMemoryRepository()
	srv := NewServer(zap.NewNop(), repo, nil, nil, nil, metrics, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(mustJSON(t, sessionBody("s1"))))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	_, err := repo.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, db.ErrSessionNotFound)
}

func TestGetSession(t *testing.T) {
	env := newTestEnv(t, nil, config.Config{}, nil)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/sessions", sessionBody("s1")).Code)

	rec := env.do(t, http.MethodGet, "/sessions/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"character_name":"Alex"`)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/sessions/nope", nil).Code)
}

func TestMessageFlow_FetchesAndShowsAd(t *testing.T) {
	env := newTestEnv(t, nil, config.Config{}, nil)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/sessions", sessionBody("s1")).Code)

	rec := env.do(t, http.MethodGet, "/sessions/s1/ad", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, "/sessions/s1/messages", map[string]string{"role": "user", "content": "I want a new keyboard"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var queued messageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queued))
	assert.True(t, queued.Queued)

	env.waitIdle(t, "s1")
	assert.Equal(t, int32(1), env.calls.Load())

	rec = env.do(t, http.MethodGet, "/sessions/s1/ad", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got adResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.New)
	assert.Equal(t, upstreamAd.AdTitle, got.Ad.AdTitle)

	rec = env.do(t, http.MethodGet, "/sessions/s1/ad", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.False(t, got.New)

	assert.Equal(t, 1, env.analytics.Count(analytics.EventFetched))
	assert.Equal(t, 1, env.analytics.Count(analytics.EventShown))
	assert.Equal(t, 1, env.metrics.FetchCount(client.OutcomeFetched))

	rec = env.do(t, http.MethodGet, "/sessions/s1/context", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ctxResp contextResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ctxResp))
	assert.Contains(t, ctxResp.Context, upstreamAd.AdTitle)
	assert.Contains(t, ctxResp.Context, upstreamAd.AdDescription)
}

func TestPostMessage_BadInput(t *testing.T) {
	env := newTestEnv(t, nil, config.Config{}, nil)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/sessions", sessionBody("s1")).Code)

	rec := env.do(t, http.MethodPost, "/sessions/s1/messages", map[string]string{"role": "narrator", "content": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/sessions/missing/messages", map[string]string{"role": "user", "content": "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, int32(0), env.calls.Load())
}

func TestPostMessage_Cadence(t *testing.T) {
	cfg := config.Config{CadenceBeforeFirst: 2, CadenceBetween: 2}
	env := newTestEnv(t, client.NewMemoryCadenceStore(), cfg, nil)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/sessions", sessionBody("s1")).Code)

	want := []bool{false, true, false, true}
	for i, w := range want {
		rec := env.do(t, http.MethodPost, "/sessions/s1/messages", map[string]string{"role": "user", "content": "msg"})
		require.Equal(t, http.StatusAccepted, rec.Code)
		var got messageResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, w, got.Queued, "message %d", i+1)
	}

	env.waitIdle(t, "s1")
	assert.Equal(t, int32(2), env.calls.Load())
	assert.Equal(t, 2, env.metrics.CadenceSkips)
}

func TestPostMessage_Throttled(t *testing.T) {
	cfg := config.Config{RateLimitEnabled: true, RateLimitCapacity: 1, RateLimitRefillRate: 0}
	env := newTestEnv(t, nil, cfg, nil)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/sessions", sessionBody("s1")).Code)

	want := []bool{true, false, false}
	for i, w := range want {
		rec := env.do(t, http.MethodPost, "/sessions/s1/messages", map[string]string{"role": "user", "content": "msg"})
		require.Equal(t, http.StatusAccepted, rec.Code)
		var got messageResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, w, got.Queued, "message %d", i+1)
	}

	env.waitIdle(t, "s1")
	assert.Equal(t, int32(1), env.calls.Load())
	assert.Equal(t, 2, env.metrics.RateLimitHits)
	assert.Equal(t, 0, env.metrics.CadenceSkips)

	// Deleting the session releases its bucket.
	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/sessions/s1", nil).Code)
	assert.Empty(t, env.srv.Limiter.Stats())
}

func TestPostMessage_QueueFull(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 10)
	upstream := func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-gate
		_ = json.NewEncoder(w).Encode(models.AdResponse{Ads: []models.Ad{}})
	}
	env := newTestEnv(t, nil, config.Config{}, upstream, client.WithMaxQueueSize(1))
	defer close(gate)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/sessions", sessionBody("s1")).Code)

	msg := map[string]string{"role": "user", "content": "hello"}
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/sessions/s1/messages", msg).Code)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never started")
	}

	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/sessions/s1/messages", msg).Code)
	rec := env.do(t, http.MethodPost, "/sessions/s1/messages", msg)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1, env.analytics.Count(analytics.EventDropped))
	assert.Equal(t, 1, env.metrics.Drops())
}

func TestAnalyticsFailureDoesNotFailRequests(t *testing.T) {
	env := newTestEnv(t, nil, config.Config{}, nil)
	env.analytics.Err = assert.AnError
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/sessions", sessionBody("s1")).Code)

	require.Equal(t, http.StatusAccepted,
		env.do(t, http.MethodPost, "/sessions/s1/messages", map[string]string{"role": "user", "content": "hi"}).Code)
	env.waitIdle(t, "s1")

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/sessions/s1/ad", nil).Code)
}

func TestDeleteSession(t *testing.T) {
	store := client.NewMemoryCadenceStore()
	env := newTestEnv(t, store, config.Config{}, nil)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/sessions", sessionBody("s1")).Code)
	require.Equal(t, http.StatusAccepted,
		env.do(t, http.MethodPost, "/sessions/s1/messages", map[string]string{"role": "user", "content": "hi"}).Code)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/sessions/s1", nil).Code)
	assert.Equal(t, 0, env.srv.ActiveSessions())
	state, _ := store.Get(context.Background(), "s1")
	assert.Equal(t, client.CadenceState{}, state)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/sessions/s1", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/sessions/s1", nil).Code)
}

func TestEvictIdle_ReopensOnNextRequest(t *testing.T) {
	env := newTestEnv(t, nil, config.Config{SessionIdleTimeout: time.Minute}, nil)
	now := time.Now()
	env.srv.now = func() time.Time { return now }
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/sessions", sessionBody("s1")).Code)

	assert.Equal(t, 0, env.srv.EvictIdle(context.Background()))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, env.srv.EvictIdle(context.Background()))
	assert.Equal(t, 0, env.srv.ActiveSessions())

	rec := env.do(t, http.MethodPost, "/sessions/s1/messages", map[string]string{"role": "user", "content": "back again"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, env.srv.ActiveSessions())
}

func TestEvictIdle_KeepsUnreadAd(t *testing.T) {
	env := newTestEnv(t, nil, config.Config{SessionIdleTimeout: time.Minute}, nil)
	now := time.Now()
	env.srv.now = func() time.Time { return now }
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/sessions", sessionBody("s1")).Code)
	require.Equal(t, http.StatusAccepted,
		env.do(t, http.MethodPost, "/sessions/s1/messages", map[string]string{"role": "user", "content": "hi"}).Code)
	env.waitIdle(t, "s1")

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 0, env.srv.EvictIdle(context.Background()), "unread ad keeps the session")
	assert.Equal(t, 1, env.srv.ActiveSessions())

	rec := env.do(t, http.MethodGet, "/sessions/s1/ad", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got adResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.New)
	assert.Equal(t, upstreamAd.AdTitle, got.Ad.AdTitle)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, env.srv.EvictIdle(context.Background()), "delivered ad no longer pins the session")
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t, nil, config.Config{}, nil)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/sessions", sessionBody("s1")).Code)

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, 1, got.ActiveSessions)
	assert.Equal(t, 1, env.metrics.Requests["health 200"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
