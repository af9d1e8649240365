package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowgraph-labs/agentrt/internal/config"
	"github.com/flowgraph-labs/agentrt/internal/events"
)

// Config configures a CompositeRegistry's backends.
type Config struct {
	PluginsDir     string
	EnabledPlugins []string // empty = all
	MCPServers     []MCPServerConfig
	ShellTimeout   time.Duration
	SetOutput      SetOutputFunc // nil disables the set_output built-in
	WebSearch      config.WebSearchConfig
}

// CompositeRegistry implements Registry over three backends: WASM plugins
// (Extism), external MCP tool servers, and three built-ins
// (set_output, shell, web_search) — spec §4.13's tools.Registry collaborator.
type CompositeRegistry struct {
	mu    sync.RWMutex
	tools map[string]Invokable

	wasm *wasmHost
	mcp  *mcpClient
}

// NewCompositeRegistry builds a registry and loads every configured backend.
// Backend failures are logged and skipped rather than aborting construction:
// a node whose tools never loaded simply has fewer tools available, matching
// the spec's external-collaborator degrade-gracefully posture.
func NewCompositeRegistry(ctx context.Context, bus *events.Bus, cfg Config) *CompositeRegistry {
	r := &CompositeRegistry{
		tools: make(map[string]Invokable),
		wasm:  newWasmHost(bus),
		mcp:   newMCPClient(),
	}

	if cfg.SetOutput != nil {
		r.register(newSetOutputTool(cfg.SetOutput))
	}
	r.register(newShellTool(cfg.ShellTimeout))

	if cfg.PluginsDir != "" {
		if wasmTools, err := r.wasm.loadDir(ctx, cfg.PluginsDir, cfg.EnabledPlugins); err == nil {
			for _, wt := range wasmTools {
				r.register(wt)
			}
		} else {
			slog.Warn("tools: wasm plugins unavailable", "dir", cfg.PluginsDir, "error", err)
		}
	}

	for _, mt := range r.mcp.connect(ctx, cfg.MCPServers) {
		r.register(mt)
	}

	if ws, err := newWebSearchTool(ctx, cfg.WebSearch); err != nil {
		slog.Warn("web_search tool unavailable", "error", err)
	} else {
		r.register(ws)
	}

	return r
}

func (r *CompositeRegistry) register(inv Invokable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[inv.Spec().Name] = inv
}

// List returns every registered tool's spec.
func (r *CompositeRegistry) List() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, inv := range r.tools {
		specs = append(specs, inv.Spec())
	}
	return specs
}

// Call dispatches name to whichever backend owns it.
func (r *CompositeRegistry) Call(ctx context.Context, name string, argsJSON string) (string, error) {
	r.mu.RLock()
	inv, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("tools: unknown tool %q", name)
	}
	return inv.Invoke(ctx, argsJSON)
}

// snapshot returns a shallow copy of the registered tools, used by
// NewMCPServer to enumerate exposed tools without holding the lock while
// registering handlers.
func (r *CompositeRegistry) snapshot() map[string]Invokable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Invokable, len(r.tools))
	for k, v := range r.tools {
		out[k] = v
	}
	return out
}

// Close releases backend resources (WASM plugin instances, MCP connections).
func (r *CompositeRegistry) Close(ctx context.Context) {
	r.wasm.close(ctx)
	r.mcp.close()
}

var _ Registry = (*CompositeRegistry)(nil)
