// Package accumulator implements OutputAccumulator (spec §4.4): the
// per-node-visit staging area for output keys, durable before judge
// acceptance and flushed into SharedMemory on ACCEPT or on cancellation.
package accumulator

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowgraph-labs/agentrt/internal/conversation"
	"github.com/flowgraph-labs/agentrt/internal/memory"
)

// Accumulator stages output-key writes for one node visit. Set writes
// through to the owning conversation Store's cursor.json immediately, so an
// accumulated value survives a crash before the turn is ever judged.
type Accumulator struct {
	mu     sync.Mutex
	values map[string]any
	store  *conversation.Store
	cursor conversation.Cursor
}

// New creates an Accumulator bound to store, seeded from baseCursor (the
// node's cursor as of the start of this visit).
func New(store *conversation.Store, baseCursor conversation.Cursor) *Accumulator {
	values := make(map[string]any, len(baseCursor.Outputs))
	for k, v := range baseCursor.Outputs {
		values[k] = v
	}
	baseCursor.Outputs = values
	return &Accumulator{values: values, store: store, cursor: baseCursor}
}

// Set stages key=value and immediately persists it to cursor.json, ahead of
// judge acceptance (spec §4.4 "writes through ... immediately").
func (a *Accumulator) Set(key string, value any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.values[key] = value
	a.cursor.Outputs = a.values
	if a.store == nil {
		return nil
	}
	if err := a.store.WriteCursor(a.cursor); err != nil {
		return fmt.Errorf("accumulator: persist cursor: %w", err)
	}
	return nil
}

// Keys returns the set of output keys currently staged, for judge
// evaluation of required-output-key completeness.
func (a *Accumulator) Keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.values))
	for k := range a.values {
		keys = append(keys, k)
	}
	return keys
}

// Has reports whether key has been set this visit.
func (a *Accumulator) Has(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.values[key]
	return ok
}

// Flush writes all staged values into mem. Called on ACCEPT and on
// cancellation, before the session's state.json is persisted (spec §4.4).
func (a *Accumulator) Flush(mem *memory.SharedMemory) {
	a.mu.Lock()
	defer a.mu.Unlock()
	mem.SetAll(a.values)
}

type contextKey struct{}

// IntoContext attaches a to ctx so the tool-call boundary (internal/tools'
// shared, runtime-lifetime registry) can reach the current node visit's
// accumulator for the set_output built-in without the registry itself
// needing to be reconstructed per visit (spec §5: "Tool registry: immutable
// after runtime start").
func IntoContext(ctx context.Context, a *Accumulator) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

// FromContext retrieves the Accumulator attached by IntoContext, if any.
func FromContext(ctx context.Context) (*Accumulator, bool) {
	a, ok := ctx.Value(contextKey{}).(*Accumulator)
	return a, ok
}

// Snapshot returns a copy of the currently staged values.
func (a *Accumulator) Snapshot() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]any, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}
