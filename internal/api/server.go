package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/adcortex-go/internal/analytics"
	"github.com/patrickwarner/adcortex-go/internal/config"
	"github.com/patrickwarner/adcortex-go/internal/db"
	"github.com/patrickwarner/adcortex-go/internal/geoip"
	"github.com/patrickwarner/adcortex-go/internal/middleware"
	"github.com/patrickwarner/adcortex-go/internal/observability"
	"github.com/patrickwarner/adcortex-go/internal/ratelimit"
	"github.com/patrickwarner/adcortex-go/pkg/client"
	"github.com/patrickwarner/adcortex-go/pkg/models"
)

const analyticsTimeout = 2 * time.Second

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger    *zap.Logger
	Sessions  db.SessionRepository
	Analytics analytics.AnalyticsService
	GeoIP     geoip.Locator
	Metrics   observability.MetricsRegistry
	Config    config.Config

	// Cadence gates which messages trigger a fetch. A nil CadenceStore sends
	// every message to ADCortex.
	CadenceStore client.CadenceStore
	Cadence      *client.Cadence

	// Limiter throttles fetches per session across client reopen.
	Limiter *ratelimit.Limiter

	// ClientOptions are applied to every per-session client.
	ClientOptions []client.Option

	// LogSampleRate is the fraction of per-message log lines written.
	LogSampleRate float64

	mu      sync.Mutex
	clients map[string]*liveClient
	now     func() time.Time
}

type liveClient struct {
	*client.AsyncChatClient
	lastSeen time.Time
}

// NewServer constructs a Server. A nil analytics service records nothing and
// a nil locator never resolves a country.
func NewServer(logger *zap.Logger, sessions db.SessionRepository, cadence client.CadenceStore, svc analytics.AnalyticsService, geo geoip.Locator, metrics observability.MetricsRegistry, cfg config.Config, opts ...client.Option) *Server {
	if svc == nil {
		svc = &analytics.Analytics{}
	}
	if geo == nil {
		geo = &geoip.GeoIP{}
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Server{
		Logger:        logger,
		Sessions:      sessions,
		Analytics:     svc,
		GeoIP:         geo,
		Metrics:       metrics,
		Config:        cfg,
		CadenceStore:  cadence,
		Cadence:       client.NewCadence(cfg.CadenceBeforeFirst, cfg.CadenceBetween),
		Limiter: ratelimit.NewLimiter(ratelimit.Config{
			Capacity:   cfg.RateLimitCapacity,
			RefillRate: cfg.RateLimitRefillRate,
			Enabled:    cfg.RateLimitEnabled,
		}, metrics),
		ClientOptions: opts,
		LogSampleRate: observability.GetSamplingRate(),
		clients:       make(map[string]*liveClient),
		now:           time.Now,
	}
}

// Router registers every gateway route.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(s.Logger))
	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/sessions", s.CreateSessionHandler).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}", s.GetSessionHandler).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.DeleteSessionHandler).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/messages", s.PostMessageHandler).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/ad", s.GetAdHandler).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/context", s.GetContextHandler).Methods(http.MethodGet)
	return r
}

// openClient builds the async client for a session and registers it.
func (s *Server) openClient(session models.SessionInfo) (*client.AsyncChatClient, error) {
	opts := append([]client.Option{}, s.ClientOptions...)
	opts = append(opts,
		client.WithMetrics(s.Metrics),
		client.WithLogger(s.Logger),
		client.WithFetchHook(func(res client.FetchResult) {
			s.recordFetch(session, res)
		}),
	)
	c, err := client.NewAsyncChatClient(session, opts...)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.clients[session.SessionID]; ok {
		// Lost a race with another request for the same session.
		go c.Close(context.Background())
		existing.lastSeen = s.now()
		return existing.AsyncChatClient, nil
	}
	s.clients[session.SessionID] = &liveClient{AsyncChatClient: c, lastSeen: s.now()}
	s.Metrics.SetActiveSessions(len(s.clients))
	return c, nil
}

// clientFor returns the live client for id, reopening it from the session
// repository when this process has none (after a restart or idle eviction).
func (s *Server) clientFor(ctx context.Context, id string) (*client.AsyncChatClient, models.SessionInfo, error) {
	s.mu.Lock()
	if lc, ok := s.clients[id]; ok {
		lc.lastSeen = s.now()
		s.mu.Unlock()
		return lc.AsyncChatClient, lc.Session(), nil
	}
	s.mu.Unlock()

	session, err := s.Sessions.Get(ctx, id)
	if err != nil {
		return nil, models.SessionInfo{}, err
	}
	c, err := s.openClient(session)
	if err != nil {
		return nil, models.SessionInfo{}, err
	}
	return c, session, nil
}

// dropClient unregisters the client for id and returns it, or nil.
func (s *Server) dropClient(id string) *client.AsyncChatClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	lc, ok := s.clients[id]
	if !ok {
		return nil
	}
	delete(s.clients, id)
	s.Metrics.SetActiveSessions(len(s.clients))
	return lc.AsyncChatClient
}

// ActiveSessions returns how many sessions have a live client.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// EvictIdle closes clients that have not been used within the configured
// idle timeout. The sessions stay in the repository and are reopened on the
// next request.
func (s *Server) EvictIdle(ctx context.Context) int {
	if s.Config.SessionIdleTimeout <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.Config.SessionIdleTimeout)

	var idle []*client.AsyncChatClient
	s.mu.Lock()
	for id, lc := range s.clients {
		// Clients holding an unread ad stay until it is delivered.
		if lc.lastSeen.Before(cutoff) && lc.Pending() == 0 && !lc.HasUnseen() {
			idle = append(idle, lc.AsyncChatClient)
			delete(s.clients, id)
			s.Limiter.Forget(id)
		}
	}
	s.Metrics.SetActiveSessions(len(s.clients))
	s.mu.Unlock()

	for _, c := range idle {
		if err := c.Close(ctx); err != nil {
			s.Logger.Warn("failed to close idle client",
				zap.String("session_id", c.Session().SessionID), zap.Error(err))
		}
	}
	if len(idle) > 0 {
		s.Logger.Info("evicted idle sessions", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// RunJanitor calls EvictIdle every interval until ctx is done.
func (s *Server) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvictIdle(ctx)
		}
	}
}

// Shutdown closes every live client, waiting for in-flight fetches until ctx
// is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	live := make([]*client.AsyncChatClient, 0, len(s.clients))
	for id, lc := range s.clients {
		live = append(live, lc.AsyncChatClient)
		delete(s.clients, id)
	}
	s.Metrics.SetActiveSessions(0)
	s.mu.Unlock()

	var errs []error
	for _, c := range live {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) recordFetch(session models.SessionInfo, res client.FetchResult) {
	ctx, cancel := context.WithTimeout(context.Background(), analyticsTimeout)
	defer cancel()
	s.logAnalyticsErr(s.Analytics.RecordFetch(ctx, session, res), "fetch")
}

func (s *Server) logAnalyticsErr(err error, event string) {
	if err == nil || errors.Is(err, analytics.ErrUnavailable) {
		return
	}
	s.Logger.Warn("failed to record analytics event", zap.String("event", event), zap.Error(err))
}
