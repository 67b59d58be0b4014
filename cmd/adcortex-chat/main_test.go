package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adcortex-go/pkg/client"
	"github.com/patrickwarner/adcortex-go/pkg/models"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		role    models.Role
		content string
		ok      bool
	}{
		{"user: hello there", models.RoleUser, "hello there", true},
		{"AI:  sure thing", models.RoleAI, "sure thing", true},
		{"just talking", models.RoleUser, "just talking", true},
		{"note: not a role", models.RoleUser, "note: not a role", true},
		{"   ", "", "", false},
	}
	for _, tt := range tests {
		role, content, ok := parseLine(tt.line)
		if role != tt.role || content != tt.content || ok != tt.ok {
			t.Errorf("parseLine(%q) = %q, %q, %v", tt.line, role, content, ok)
		}
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"gaming", "travel"}, splitList(" gaming, ,travel "))
	assert.Nil(t, splitList(""))
}

func chatSession() models.SessionInfo {
	return models.SessionInfo{
		SessionID:     "chat-1",
		CharacterName: "Assistant",
		UserInfo: models.UserInfo{
			UserID:   "u",
			Age:      20,
			Gender:   models.GenderOther,
			Location: "US",
			Language: "en",
		},
		Platform: models.Platform{Name: "adcortex-chat", Version: "test"},
	}
}

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.AdResponse{Ads: []models.Ad{{
			Idx:               1,
			AdTitle:           "Coffee Grinder",
			AdDescription:     "Burr grinder",
			PlacementTemplate: "Suggest a grinder",
			Link:              "https://example.com/grinder",
		}}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun(t *testing.T) {
	for _, mode := range []options{{sync: true}, {sync: false}, {sync: true, dump: true}} {
		api := fakeAPI(t)
		var out bytes.Buffer
		input := strings.NewReader("user: I love coffee\n\nai: Me too\n")

		err := run(context.Background(), input, &out, chatSession(), mode,
			client.WithAPIKey("k"),
			client.WithBaseURL(api.URL),
			client.WithLoggingDisabled(),
			client.WithMetrics(client.NoMetrics()),
		)
		require.NoError(t, err)
		assert.Contains(t, out.String(), "[ad] Here is a product the user might like: Coffee Grinder - Burr grinder")
		if mode.dump {
			assert.Contains(t, out.String(), `AdTitle: "Coffee Grinder"`)
		}
	}
}
