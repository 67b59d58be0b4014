// Command mcp-server exposes ADCortex ad matching to MCP hosts over stdio.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/adcortex-go/internal/config"
	"github.com/patrickwarner/adcortex-go/internal/macros"
	"github.com/patrickwarner/adcortex-go/internal/observability"
	"github.com/patrickwarner/adcortex-go/pkg/client"
	"github.com/patrickwarner/adcortex-go/pkg/models"
)

type FetchAdInput struct {
	SessionID       string   `json:"session_id"`
	CharacterName   string   `json:"character_name"`
	UserID          string   `json:"user_id"`
	Age             int      `json:"age"`
	Gender          string   `json:"gender"`
	Location        string   `json:"location"`
	Language        string   `json:"language"`
	Interests       []string `json:"interests,omitempty"`
	PlatformName    string   `json:"platform_name"`
	PlatformVersion string   `json:"platform_version"`
	Role            string   `json:"role"`
	Content         string   `json:"content"`
	Template        string   `json:"template,omitempty"`
}

type FetchAdOutput struct {
	Found   bool       `json:"found"`
	Ad      *models.Ad `json:"ad,omitempty"`
	Context string     `json:"context"`
}

type CreateContextInput struct {
	Idx               int    `json:"idx"`
	AdTitle           string `json:"ad_title"`
	AdDescription     string `json:"ad_description"`
	PlacementTemplate string `json:"placement_template"`
	Link              string `json:"link"`
	Template          string `json:"template,omitempty"`
}

type CreateContextOutput struct {
	Context string `json:"context"`
}

// adServer keeps one synchronous client per session so repeated calls share
// the latest ad.
type adServer struct {
	logger    *zap.Logger
	opts      []client.Option
	formatter *macros.Service

	mu       sync.Mutex
	sessions map[string]*client.ChatClient
}

func newAdServer(logger *zap.Logger, cfg config.Config, opts ...client.Option) *adServer {
	return &adServer{
		logger:    logger,
		opts:      opts,
		formatter: macros.NewService(logger, cfg.ContextTemplate, cfg.StrictTemplate),
		sessions:  make(map[string]*client.ChatClient),
	}
}

func (in FetchAdInput) session() (models.SessionInfo, error) {
	interests, err := models.ParseInterests(in.Interests)
	if err != nil {
		return models.SessionInfo{}, err
	}
	return models.SessionInfo{
		SessionID:     in.SessionID,
		CharacterName: in.CharacterName,
		UserInfo: models.UserInfo{
			UserID:    in.UserID,
			Age:       in.Age,
			Gender:    models.Gender(in.Gender),
			Location:  in.Location,
			Language:  in.Language,
			Interests: interests,
		},
		Platform: models.Platform{Name: in.PlatformName, Version: in.PlatformVersion},
	}, nil
}

// clientFor returns the cached client for the session, replacing it when the
// caller's user or platform details have changed since it was built.
func (s *adServer) clientFor(in FetchAdInput) (*client.ChatClient, error) {
	session, err := in.session()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.sessions[in.SessionID]
	if ok && cmp.Equal(prev.Session(), session, cmpopts.EquateEmpty()) {
		return prev, nil
	}
	c, err := client.NewChatClient(session, s.opts...)
	if err != nil {
		return nil, err
	}
	if ok {
		s.logger.Debug("Session details changed, rebuilding client", zap.String("session_id", in.SessionID))
		prev.Close()
	}
	s.sessions[in.SessionID] = c
	return c, nil
}

// FetchAd sends one message for the session and returns the matched ad.
func (s *adServer) FetchAd(ctx context.Context, req *mcp.CallToolRequest, input FetchAdInput) (*mcp.CallToolResult, FetchAdOutput, error) {
	role, err := models.ParseRole(input.Role)
	if err != nil {
		return nil, FetchAdOutput{}, err
	}
	c, err := s.clientFor(input)
	if err != nil {
		return nil, FetchAdOutput{}, err
	}

	ad, err := c.Send(ctx, role, input.Content)
	if err != nil {
		s.logger.Warn("fetch_ad failed", zap.String("session_id", input.SessionID), zap.Error(err))
		return nil, FetchAdOutput{}, err
	}
	if ad == nil {
		return nil, FetchAdOutput{Found: false}, nil
	}

	var text string
	if input.Template != "" {
		text, err = s.formatter.FormatAdWith(input.Template, ad, input.SessionID, nil)
	} else {
		text, err = c.CreateContext()
	}
	if err != nil {
		return nil, FetchAdOutput{}, err
	}
	return nil, FetchAdOutput{Found: true, Ad: ad, Context: text}, nil
}

// CreateContext renders an ad through the configured or supplied template.
func (s *adServer) CreateContext(ctx context.Context, req *mcp.CallToolRequest, input CreateContextInput) (*mcp.CallToolResult, CreateContextOutput, error) {
	ad := &models.Ad{
		Idx:               input.Idx,
		AdTitle:           input.AdTitle,
		AdDescription:     input.AdDescription,
		PlacementTemplate: input.PlacementTemplate,
		Link:              input.Link,
	}
	if ad.AdTitle == "" {
		return nil, CreateContextOutput{}, errors.New("ad_title is required")
	}
	template := input.Template
	if template == "" {
		template = s.formatter.Template()
	}
	text, err := s.formatter.FormatAdWith(template, ad, "", nil)
	if err != nil {
		return nil, CreateContextOutput{}, err
	}
	return nil, CreateContextOutput{Context: text}, nil
}

func (s *adServer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.sessions {
		c.Close()
		delete(s.sessions, id)
	}
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func newMCPServer(s *adServer) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "adcortex",
		Version: observability.Version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fetch_ad",
		Description: "Send a conversation message to ADCortex and return a contextual ad with a ready-to-use context string",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"session_id":     stringProp("Conversation identifier; calls with the same id share state"),
				"character_name": stringProp("Name of the assistant persona"),
				"user_id":        stringProp("Identifier of the end user"),
				"age": map[string]interface{}{
					"type":        "integer",
					"minimum":     0,
					"description": "User age",
				},
				"gender": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"male", "female", "other"},
					"description": "User gender",
				},
				"location": stringProp("ISO 3166-1 alpha-2 country code, e.g. US"),
				"language": stringProp("ISO 639-1 language code, e.g. en"),
				"interests": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Interest categories (optional)",
				},
				"platform_name":    stringProp("Chatbot product name"),
				"platform_version": stringProp("Chatbot product version"),
				"role": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"user", "ai"},
					"description": "Who sent the message",
				},
				"content":  stringProp("Message text"),
				"template": stringProp("Context template with {placeholders} (optional)"),
			},
			"required": []string{"session_id", "character_name", "user_id", "age", "gender", "location", "language", "platform_name", "platform_version", "role", "content"},
		},
	}, s.FetchAd)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_context",
		Description: "Render an ad into a context string for the language model",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"idx": map[string]interface{}{
					"type":        "integer",
					"description": "Ad index",
				},
				"ad_title":           stringProp("Ad title"),
				"ad_description":     stringProp("Ad description"),
				"placement_template": stringProp("Suggested way to present the ad"),
				"link":               stringProp("Ad link"),
				"template":           stringProp("Context template with {placeholders} (optional)"),
			},
			"required": []string{"ad_title"},
		},
	}, s.CreateContext)

	return server
}

func main() {
	cfg := config.Load()

	logger, err := observability.InitStderrLogger("adcortex-mcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.APIKey == "" {
		logger.Fatal("API key missing", zap.String("env", config.APIKeyEnv))
	}

	opts := []client.Option{
		client.WithAPIKey(cfg.APIKey),
		client.WithBaseURL(cfg.BaseURL),
		client.WithTimeout(cfg.Timeout),
		client.WithLogger(logger),
	}
	if cfg.ContextTemplate != "" {
		opts = append(opts, client.WithContextTemplate(cfg.ContextTemplate))
	}
	if cfg.StrictTemplate {
		opts = append(opts, client.WithStrictTemplate())
	}

	s := newAdServer(logger, cfg, opts...)
	defer s.Close()

	logger.Info("MCP server running via stdio")
	if err := newMCPServer(s).Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		logger.Error("Server error", zap.Error(err))
	}
}
