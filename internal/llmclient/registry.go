package llmclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// defaultContextWindows maps known model-name prefixes to published context
// window sizes, used when a provider config omits ContextWindow.
var defaultContextWindows = map[string]int{
	"claude-opus":   200000,
	"claude-sonnet": 200000,
	"claude-haiku":  200000,
	"gpt-4o":        128000,
	"gpt-4-turbo":   128000,
	"gpt-4":         8192,
	"gemini-1.5":    1000000,
	"gemini-2":      1000000,
}

const fallbackContextWindow = 100000

type providerEntry struct {
	config ProviderConfig
	once   sync.Once
	client Client
	err    error
}

// Registry holds the named model providers configured for an agent package,
// constructing each one lazily on first use (spec §4.6: a node references a
// model by name; the executor never constructs a provider client itself).
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]*providerEntry
	defaultName string
}

// NewRegistry builds a Registry from named provider configs.
func NewRegistry(defaultName string, providers map[string]ProviderConfig) *Registry {
	r := &Registry{providers: make(map[string]*providerEntry, len(providers)), defaultName: defaultName}
	for name, cfg := range providers {
		r.providers[name] = &providerEntry{config: cfg}
	}
	return r
}

// Get returns the named Client, constructing the underlying Eino model on
// first call.
func (r *Registry) Get(ctx context.Context, name string) (Client, error) {
	r.mu.RLock()
	entry, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("llmclient: provider %q not configured", name)
	}

	entry.once.Do(func() {
		m, err := createEinoModel(ctx, entry.config)
		if err != nil {
			entry.err = err
			return
		}
		entry.client = newEinoClient(m)
	})
	return entry.client, entry.err
}

// Default returns the registry's default-named Client.
func (r *Registry) Default(ctx context.Context) (Client, error) {
	if r.defaultName == "" {
		return nil, fmt.Errorf("llmclient: no default provider configured")
	}
	return r.Get(ctx, r.defaultName)
}

// ContextWindow returns the context window (in tokens) for the named
// provider: explicit config, then known model prefix, then a fallback.
func (r *Registry) ContextWindow(name string) int {
	r.mu.RLock()
	entry, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return fallbackContextWindow
	}
	if entry.config.ContextWindow > 0 {
		return entry.config.ContextWindow
	}
	for prefix, size := range defaultContextWindows {
		if strings.HasPrefix(entry.config.Model, prefix) {
			return size
		}
	}
	return fallbackContextWindow
}
