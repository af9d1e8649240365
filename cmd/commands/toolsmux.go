package commands

import (
	"context"

	"github.com/flowgraph-labs/agentrt/internal/events"
	"github.com/flowgraph-labs/agentrt/internal/monitoring"
	"github.com/flowgraph-labs/agentrt/internal/tools"
)

// monitoredRegistry layers the Health Judge / Queen pattern's escalation
// tools (spec §6 scenario 5) on top of a CompositeRegistry, since those two
// tools need the monitoring Index the CompositeRegistry has no knowledge of.
type monitoredRegistry struct {
	base  *tools.CompositeRegistry
	extra map[string]tools.Invokable
}

func withMonitoringTools(base *tools.CompositeRegistry, bus *events.Bus, idx *monitoring.Index) *monitoredRegistry {
	emit := monitoring.NewEmitEscalationTicketTool(bus, idx)
	notify := monitoring.NewNotifyOperatorTool(bus, idx)
	return &monitoredRegistry{
		base: base,
		extra: map[string]tools.Invokable{
			emit.Spec().Name:   emit,
			notify.Spec().Name: notify,
		},
	}
}

func (r *monitoredRegistry) List() []tools.ToolSpec {
	specs := r.base.List()
	for _, inv := range r.extra {
		specs = append(specs, inv.Spec())
	}
	return specs
}

func (r *monitoredRegistry) Call(ctx context.Context, name, argsJSON string) (string, error) {
	if inv, ok := r.extra[name]; ok {
		return inv.Invoke(ctx, argsJSON)
	}
	return r.base.Call(ctx, name, argsJSON)
}
