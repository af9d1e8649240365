package llmclient

import (
	"context"
	"testing"
)

func TestRegistry_GetUnknownProviderErrors(t *testing.T) {
	r := NewRegistry("main", map[string]ProviderConfig{
		"main": {Driver: "claude", Model: "claude-sonnet-4"},
	})
	if _, err := r.Get(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unconfigured provider")
	}
}

func TestRegistry_ContextWindow_ExplicitOverridesPrefix(t *testing.T) {
	r := NewRegistry("main", map[string]ProviderConfig{
		"main": {Driver: "claude", Model: "claude-sonnet-4", ContextWindow: 12345},
	})
	if w := r.ContextWindow("main"); w != 12345 {
		t.Fatalf("expected explicit ContextWindow to win, got %d", w)
	}
}

func TestRegistry_ContextWindow_PrefixFallback(t *testing.T) {
	r := NewRegistry("main", map[string]ProviderConfig{
		"main": {Driver: "claude", Model: "claude-opus-4"},
	})
	if w := r.ContextWindow("main"); w != 200000 {
		t.Fatalf("expected prefix-matched window 200000, got %d", w)
	}
}

func TestRegistry_ContextWindow_UnknownProviderFallsBack(t *testing.T) {
	r := NewRegistry("main", map[string]ProviderConfig{})
	if w := r.ContextWindow("nope"); w != fallbackContextWindow {
		t.Fatalf("expected fallback window, got %d", w)
	}
}

func TestToParameterMap_ObjectWithNestedAndArray(t *testing.T) {
	js := map[string]any{
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "search text"},
			"limit": map[string]any{"type": "integer"},
			"tags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []any{"query"},
	}

	params := toParameterMap(js)
	if len(params) != 3 {
		t.Fatalf("expected 3 params, got %d", len(params))
	}
	if !params["query"].Required {
		t.Fatalf("expected query to be required")
	}
	if params["limit"].Required {
		t.Fatalf("expected limit to not be required")
	}
	if params["tags"].ElemInfo == nil {
		t.Fatalf("expected tags array to carry ElemInfo")
	}
}
