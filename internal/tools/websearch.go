package tools

import (
	"context"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"

	"github.com/cloudwego/eino-ext/components/tool/bingsearch"
	duckduckgo "github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"

	"github.com/flowgraph-labs/agentrt/internal/config"
)

// webSearchTool adapts one of eino-ext's provider-specific search tools to
// Invokable, so the registry never has to know which provider backs it.
type webSearchTool struct {
	inner einotool.InvokableTool
}

// newWebSearchTool selects a provider by cfg.Provider ("duckduckgo", the
// default with no API key required; "google"; "bing") and wraps it.
func newWebSearchTool(ctx context.Context, cfg config.WebSearchConfig) (*webSearchTool, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = "duckduckgo"
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	var (
		inner einotool.InvokableTool
		err   error
	)
	switch provider {
	case "duckduckgo":
		inner, err = duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
			ToolName:   "web_search",
			ToolDesc:   "Search the web using DuckDuckGo. Returns titles, URLs, and snippets.",
			MaxResults: maxResults,
		})
	case "google":
		inner, err = googlesearch.NewTool(ctx, &googlesearch.Config{
			APIKey:         cfg.GoogleAPIKey,
			SearchEngineID: cfg.GoogleCX,
			Num:            maxResults,
			ToolName:       "web_search",
			ToolDesc:       "Search the web using Google. Returns titles, URLs, and snippets.",
		})
	case "bing":
		inner, err = bingsearch.NewTool(ctx, &bingsearch.Config{
			APIKey:     cfg.BingAPIKey,
			MaxResults: maxResults,
			ToolName:   "web_search",
			ToolDesc:   "Search the web using Bing. Returns titles, URLs, and descriptions.",
		})
	default:
		return nil, fmt.Errorf("web_search: unknown provider %q", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("web_search: init %s: %w", provider, err)
	}
	return &webSearchTool{inner: inner}, nil
}

func (t *webSearchTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "web_search",
		Description: "Search the web and return matching titles, URLs, and snippets.",
		Parameters: map[string]ParamSpec{
			"query": {Type: "string", Description: "search query", Required: true},
		},
	}
}

func (t *webSearchTool) Invoke(ctx context.Context, argsJSON string) (string, error) {
	return t.inner.InvokableRun(ctx, argsJSON)
}
