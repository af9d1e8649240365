package llmclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"google.golang.org/genai"
)

// ProviderConfig describes one named model backend. Populated by
// internal/config from the agent package's provider settings.
type ProviderConfig struct {
	Driver        string // "claude"|"anthropic", "openai", "gemini", "ollama"
	Model         string
	BaseURL       string
	APIKey        string
	Token         string // Bearer/OAuth token, takes precedence over APIKey
	MaxTokens     int
	ContextWindow int
	Timeout       time.Duration
}

const defaultMaxTokens = 4096

// createEinoModel constructs the concrete Eino chat model for cfg.Driver.
// This is the only place the core imports a provider SDK; everything above
// it talks to the narrow Client interface (spec §6).
func createEinoModel(ctx context.Context, cfg ProviderConfig) (einomodel.ToolCallingChatModel, error) {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	switch strings.ToLower(cfg.Driver) {
	case "claude", "anthropic":
		apiKey := cfg.Token
		if apiKey == "" {
			apiKey = cfg.APIKey
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    apiKey,
			Model:     cfg.Model,
			MaxTokens: maxTokens,
			BaseURL:   strPtr(cfg.BaseURL),
		})
	case "openai":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: baseURL,
			Model:   cfg.Model,
		})
	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("llmclient: create gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  cfg.Model,
		})
	default:
		return nil, fmt.Errorf("llmclient: unknown driver %q", cfg.Driver)
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
