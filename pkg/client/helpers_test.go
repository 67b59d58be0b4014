package client

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/patrickwarner/adcortex-go/internal/observability"
	"github.com/patrickwarner/adcortex-go/pkg/models"
)

func testSession() models.SessionInfo {
	return models.SessionInfo{
		SessionID:     "session-123",
		CharacterName: "Alex",
		UserInfo: models.UserInfo{
			UserID:    "user-1",
			Age:       25,
			Gender:    models.GenderMale,
			Location:  "US",
			Language:  "en",
			Interests: []models.Interest{models.InterestGaming, models.InterestTechnology},
		},
		Platform: models.Platform{Name: "ChatBotX", Version: "1.0.0"},
	}
}

var testAd = models.Ad{
	Idx:               1,
	AdTitle:           "Gaming Laptop",
	AdDescription:     "A fast laptop",
	PlacementTemplate: "You might enjoy this laptop",
	Link:              "https://example.com/laptop",
}

// fakeAPI is an httptest server standing in for the match endpoint.
type fakeAPI struct {
	*httptest.Server

	mu       sync.Mutex
	requests []capturedRequest
	respond  func(w http.ResponseWriter, r *http.Request)
}

type capturedRequest struct {
	Path    string
	Header  http.Header
	Payload map[string]any
}

func newFakeAPI(t *testing.T, respond func(w http.ResponseWriter, r *http.Request)) *fakeAPI {
	t.Helper()
	f := &fakeAPI{respond: respond}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(body, &payload)
		f.mu.Lock()
		f.requests = append(f.requests, capturedRequest{Path: r.URL.Path, Header: r.Header.Clone(), Payload: payload})
		respond := f.respond
		f.mu.Unlock()
		respond(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeAPI) Requests() []capturedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]capturedRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *fakeAPI) SetResponder(respond func(w http.ResponseWriter, r *http.Request)) {
	f.mu.Lock()
	f.respond = respond
	f.mu.Unlock()
}

func respondAds(ads ...models.Ad) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ads == nil {
			ads = []models.Ad{}
		}
		_ = json.NewEncoder(w).Encode(models.AdResponse{Ads: ads})
	}
}

func respondStatus(code int) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream says no", code)
	}
}

func testOptions(f *fakeAPI, metrics *observability.MockMetricsRegistry, extra ...Option) []Option {
	opts := []Option{
		WithAPIKey("test-key"),
		WithBaseURL(f.URL),
		WithLoggingDisabled(),
		WithMetrics(metrics),
	}
	return append(opts, extra...)
}
