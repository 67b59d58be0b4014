package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/patrickwarner/adcortex-go/internal/db"
	"github.com/patrickwarner/adcortex-go/internal/enrich"
	"github.com/patrickwarner/adcortex-go/internal/middleware"
	"github.com/patrickwarner/adcortex-go/internal/observability"
	"github.com/patrickwarner/adcortex-go/pkg/client"
	"github.com/patrickwarner/adcortex-go/pkg/models"
)

var tracer = otel.Tracer("adcortex-gateway")

const maxBodyBytes = 1 << 20

type messageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Queued  bool `json:"queued"`
	Pending int  `json:"pending"`
}

type adResponse struct {
	Ad  *models.Ad `json:"ad"`
	New bool       `json:"new"`
}

type contextResponse struct {
	Context string `json:"context"`
}

func (s *Server) observe(endpoint, method string, start time.Time, status int) {
	s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(status))
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// CreateSessionHandler registers a new chat session and opens its client.
func (s *Server) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "sessions"
	const method = "POST"
	status := http.StatusCreated
	defer func() { s.observe(endpoint, method, start, status) }()

	ctx, span := tracer.Start(r.Context(), "CreateSessionHandler")
	defer span.End()
	logger := middleware.LoggerFromRequest(r, s.Logger)

	var session models.SessionInfo
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&session); err != nil {
		status = http.StatusBadRequest
		http.Error(w, "invalid request body", status)
		return
	}
	if session.SessionID == "" {
		session.SessionID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("session.id", session.SessionID))

	info := enrich.FromRequest(r, s.GeoIP)
	if filled := info.Apply(&session); len(filled) > 0 {
		logger.Debug("filled session defaults from request",
			zap.String("session_id", session.SessionID), zap.Strings("fields", filled))
	}
	if info.IsBot {
		logger.Info("session opened by bot user agent", zap.String("session_id", session.SessionID))
	}

	if err := session.Validate(); err != nil {
		status = http.StatusBadRequest
		http.Error(w, err.Error(), status)
		return
	}

	if err := s.Sessions.Create(ctx, session); err != nil {
		if errors.Is(err, db.ErrSessionExists) {
			status = http.StatusConflict
			http.Error(w, "session already exists", status)
			return
		}
		logger.Error("failed to store session", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "store session")
		status = http.StatusInternalServerError
		http.Error(w, "failed to store session", status)
		return
	}

	if _, err := s.openClient(session); err != nil {
		logger.Error("failed to open client", zap.String("session_id", session.SessionID), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "open client")
		// Leave no orphaned session behind.
		_ = s.Sessions.Delete(ctx, session.SessionID)
		status = http.StatusInternalServerError
		http.Error(w, "failed to open client", status)
		return
	}

	logger.Info("session opened", zap.String("session_id", session.SessionID))
	if err := writeJSON(w, status, session); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

// GetSessionHandler returns the stored session.
func (s *Server) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "session"
	const method = "GET"
	status := http.StatusOK
	defer func() { s.observe(endpoint, method, start, status) }()

	ctx, span := tracer.Start(r.Context(), "GetSessionHandler")
	defer span.End()

	id := mux.Vars(r)["id"]
	session, err := s.Sessions.Get(ctx, id)
	if err != nil {
		status = s.lookupError(w, r, err)
		return
	}
	if err := writeJSON(w, status, session); err != nil {
		middleware.LoggerFromRequest(r, s.Logger).Error("failed to encode response", zap.Error(err))
	}
}

// PostMessageHandler records a conversation message and, when the cadence
// allows, queues it for an ad fetch.
func (s *Server) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "messages"
	const method = "POST"
	status := http.StatusAccepted
	defer func() { s.observe(endpoint, method, start, status) }()

	ctx, span := tracer.Start(r.Context(), "PostMessageHandler")
	defer span.End()
	logger := middleware.LoggerFromRequest(r, s.Logger)

	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		status = http.StatusBadRequest
		http.Error(w, "invalid request body", status)
		return
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		status = http.StatusBadRequest
		http.Error(w, err.Error(), status)
		return
	}

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("session.id", id))
	c, session, err := s.clientFor(ctx, id)
	if err != nil {
		status = s.lookupError(w, r, err)
		return
	}

	due, err := s.cadenceDue(ctx, id)
	if err != nil {
		// Fall back to fetching on every message.
		logger.Warn("cadence store unavailable", zap.String("session_id", id), zap.Error(err))
		due = true
	}
	throttled := due && !s.Limiter.Allow(id)
	if observability.ShouldSample(s.LogSampleRate) {
		logger.Info("message received",
			zap.String("session_id", id),
			zap.String("role", string(role)),
			zap.Bool("due", due),
			zap.Bool("throttled", throttled))
	}
	if !due || throttled {
		if !due {
			s.Metrics.IncrementCadenceSkips()
		}
		if err := writeJSON(w, status, messageResponse{Queued: false, Pending: c.Pending()}); err != nil {
			logger.Error("failed to encode response", zap.Error(err))
		}
		return
	}

	err = c.Add(role, req.Content)
	if errors.Is(err, client.ErrClosed) {
		// Evicted between lookup and Add; reopen once.
		s.dropClient(id)
		if c, session, err = s.clientFor(ctx, id); err == nil {
			err = c.Add(role, req.Content)
		}
	}
	switch {
	case err == nil:
	case errors.Is(err, client.ErrQueueFull):
		actx, cancel := context.WithTimeout(context.Background(), analyticsTimeout)
		s.logAnalyticsErr(s.Analytics.RecordDropped(actx, session), "dropped")
		cancel()
		status = http.StatusTooManyRequests
		http.Error(w, "request queue full", status)
		return
	case client.IsKind(err, client.KindInvalidInput):
		status = http.StatusBadRequest
		http.Error(w, err.Error(), status)
		return
	default:
		logger.Error("failed to queue message", zap.String("session_id", id), zap.Error(err))
		span.RecordError(err)
		status = http.StatusInternalServerError
		http.Error(w, "failed to queue message", status)
		return
	}

	if s.CadenceStore != nil {
		if err := s.CadenceStore.MarkFetched(ctx, id); err != nil {
			logger.Warn("failed to reset cadence", zap.String("session_id", id), zap.Error(err))
		}
	}
	if err := writeJSON(w, status, messageResponse{Queued: true, Pending: c.Pending()}); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

// cadenceDue counts a message against the session's cadence and reports
// whether it should trigger a fetch.
func (s *Server) cadenceDue(ctx context.Context, id string) (bool, error) {
	if s.CadenceStore == nil {
		return true, nil
	}
	state, err := s.CadenceStore.Observe(ctx, id)
	if err != nil {
		return false, err
	}
	return s.Cadence.Due(state), nil
}

// GetAdHandler returns the latest ad fetched for the session.
func (s *Server) GetAdHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "ad"
	const method = "GET"
	status := http.StatusOK
	defer func() { s.observe(endpoint, method, start, status) }()

	ctx, span := tracer.Start(r.Context(), "GetAdHandler")
	defer span.End()
	logger := middleware.LoggerFromRequest(r, s.Logger)

	id := mux.Vars(r)["id"]
	c, session, err := s.clientFor(ctx, id)
	if err != nil {
		status = s.lookupError(w, r, err)
		return
	}

	ad, isNew := c.LatestAd()
	if ad == nil {
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}
	span.SetAttributes(attribute.Bool("ad.new", isNew), attribute.String("ad.title", ad.AdTitle))
	if isNew {
		s.logAnalyticsErr(s.Analytics.RecordShown(ctx, session, ad), "shown")
	}
	if err := writeJSON(w, status, adResponse{Ad: ad, New: isNew}); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

// GetContextHandler renders the latest ad through the context template.
func (s *Server) GetContextHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "context"
	const method = "GET"
	status := http.StatusOK
	defer func() { s.observe(endpoint, method, start, status) }()

	ctx, span := tracer.Start(r.Context(), "GetContextHandler")
	defer span.End()
	logger := middleware.LoggerFromRequest(r, s.Logger)

	id := mux.Vars(r)["id"]
	c, _, err := s.clientFor(ctx, id)
	if err != nil {
		status = s.lookupError(w, r, err)
		return
	}
	text, err := c.CreateContext()
	if err != nil {
		logger.Warn("failed to render context", zap.String("session_id", id), zap.Error(err))
		status = http.StatusUnprocessableEntity
		http.Error(w, err.Error(), status)
		return
	}
	if err := writeJSON(w, status, contextResponse{Context: text}); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

// DeleteSessionHandler closes the session's client and removes the session.
func (s *Server) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "session"
	const method = "DELETE"
	status := http.StatusNoContent
	defer func() { s.observe(endpoint, method, start, status) }()

	ctx, span := tracer.Start(r.Context(), "DeleteSessionHandler")
	defer span.End()
	logger := middleware.LoggerFromRequest(r, s.Logger)

	id := mux.Vars(r)["id"]
	s.Limiter.Forget(id)
	if c := s.dropClient(id); c != nil {
		if err := c.Close(ctx); err != nil {
			logger.Warn("client did not close cleanly", zap.String("session_id", id), zap.Error(err))
		}
	}
	if s.CadenceStore != nil {
		if err := s.CadenceStore.Reset(ctx, id); err != nil {
			logger.Warn("failed to reset cadence", zap.String("session_id", id), zap.Error(err))
		}
	}
	if err := s.Sessions.Delete(ctx, id); err != nil {
		status = s.lookupError(w, r, err)
		return
	}
	logger.Info("session closed", zap.String("session_id", id))
	w.WriteHeader(status)
}

// lookupError maps a session lookup failure to a response and returns the
// status written.
func (s *Server) lookupError(w http.ResponseWriter, r *http.Request, err error) int {
	if errors.Is(err, db.ErrSessionNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return http.StatusNotFound
	}
	middleware.LoggerFromRequest(r, s.Logger).Error("session lookup failed", zap.Error(err))
	http.Error(w, "session lookup failed", http.StatusInternalServerError)
	return http.StatusInternalServerError
}
