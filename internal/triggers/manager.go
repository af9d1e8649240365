package triggers

import (
	"context"
	"net/http"

	"github.com/flowgraph-labs/agentrt/internal/events"
	"github.com/flowgraph-labs/agentrt/internal/graph"
)

// Manager owns one Source per EntryPointSpec for a single graph and starts
// or stops them together, the unit AgentRuntime.AddGraph/RemoveGraph wires
// per graph registration.
type Manager struct {
	graphID  string
	sources  []*Source
	webhooks *WebhookRouter
}

// NewManager builds a Source for every entry point and registers any
// webhook ones on a shared router. Returns an error if any entry point's
// trigger config is malformed (e.g. bad cron expression).
func NewManager(graphID string, eps []*graph.EntryPointSpec, fire FireFunc, bus *events.Bus) (*Manager, error) {
	m := &Manager{graphID: graphID, webhooks: NewWebhookRouter()}
	for _, ep := range eps {
		s, err := NewSource(graphID, ep, fire, bus)
		if err != nil {
			return nil, err
		}
		m.sources = append(m.sources, s)
		if ep.TriggerType == graph.TriggerWebhook {
			m.webhooks.Register(s)
		}
	}
	return m, nil
}

// Start starts every source's background loop (timer, event); manual and
// webhook sources are driven externally and have none.
func (m *Manager) Start(ctx context.Context) {
	for _, s := range m.sources {
		s.Start(ctx)
	}
}

// Stop stops every source's background loop.
func (m *Manager) Stop() {
	for _, s := range m.sources {
		s.Stop()
	}
}

// Source looks up one entry point's Source by ID.
func (m *Manager) Source(entryPointID string) (*Source, bool) {
	for _, s := range m.sources {
		if s.ep.ID == entryPointID {
			return s, true
		}
	}
	return nil, false
}

// WebhookHandler returns the combined HTTP handler for this graph's webhook
// entry points, for internal/transport to mount.
func (m *Manager) WebhookHandler() http.Handler { return m.webhooks.Handler() }
