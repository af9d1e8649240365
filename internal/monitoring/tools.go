package monitoring

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowgraph-labs/agentrt/internal/events"
	"github.com/flowgraph-labs/agentrt/internal/tools"
)

// EmitEscalationTicketTool is the built-in tool a Health Judge graph node
// calls to file an EscalationTicket against a worker graph/node it has
// observed stalling (spec §6 scenario 5). It fills in the ticket's verdict-
// history fields from Index rather than requiring the model to compute
// them, and publishes WORKER_ESCALATION_TICKET on the shared bus.
type EmitEscalationTicketTool struct {
	bus *events.Bus
	idx *Index
}

// NewEmitEscalationTicketTool builds the tool, wired to bus and idx.
func NewEmitEscalationTicketTool(bus *events.Bus, idx *Index) *EmitEscalationTicketTool {
	return &EmitEscalationTicketTool{bus: bus, idx: idx}
}

func (t *EmitEscalationTicketTool) Spec() tools.ToolSpec {
	return tools.ToolSpec{
		Name:        "emit_escalation_ticket",
		Description: "File an EscalationTicket against a stalling worker graph node, notifying subscribers (e.g. a Queen graph) via the event bus.",
		Parameters: map[string]tools.ParamSpec{
			"workerGraphId":   {Type: "string", Description: "the worker graph's ID", Required: true},
			"workerNodeId":    {Type: "string", Description: "the stalling node's ID", Required: true},
			"workerSessionId": {Type: "string", Description: "the worker's session ID", Required: false},
			"workerAgentId":   {Type: "string", Description: "the worker's agent ID", Required: false},
			"severity":        {Type: "string", Description: "low, medium, high, or critical", Required: true, Enum: []string{"low", "medium", "high", "critical"}},
			"cause":           {Type: "string", Description: "short description of what is stalling", Required: true},
			"judgeReasoning":  {Type: "string", Description: "why the health judge believes this needs escalation", Required: true},
			"suggestedAction": {Type: "string", Description: "what the operator or Queen should do next", Required: false},
			"evidenceSnippet": {Type: "string", Description: "up to 500 characters of supporting evidence", Required: false},
		},
	}
}

type emitTicketArgs struct {
	WorkerGraphID   string `json:"workerGraphId"`
	WorkerNodeID    string `json:"workerNodeId"`
	WorkerSessionID string `json:"workerSessionId"`
	WorkerAgentID   string `json:"workerAgentId"`
	Severity        string `json:"severity"`
	Cause           string `json:"cause"`
	JudgeReasoning  string `json:"judgeReasoning"`
	SuggestedAction string `json:"suggestedAction"`
	EvidenceSnippet string `json:"evidenceSnippet"`
}

func (t *EmitEscalationTicketTool) Invoke(ctx context.Context, argsJSON string) (string, error) {
	var args emitTicketArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("emit_escalation_ticket: decode args: %w", err)
	}

	history, err := t.idx.VerdictsFor(args.WorkerGraphID, args.WorkerNodeID)
	if err != nil {
		return "", fmt.Errorf("emit_escalation_ticket: %w", err)
	}

	ticket, err := NewTicket(TicketInput{
		WorkerGraphID:   args.WorkerGraphID,
		WorkerNodeID:    args.WorkerNodeID,
		WorkerSessionID: args.WorkerSessionID,
		WorkerAgentID:   args.WorkerAgentID,
		Severity:        Severity(args.Severity),
		Cause:           args.Cause,
		JudgeReasoning:  args.JudgeReasoning,
		SuggestedAction: args.SuggestedAction,
		EvidenceSnippet: args.EvidenceSnippet,
	}, history)
	if err != nil {
		return "", fmt.Errorf("emit_escalation_ticket: %w", err)
	}

	if err := t.idx.SaveTicket(ticket); err != nil {
		return "", fmt.Errorf("emit_escalation_ticket: %w", err)
	}

	t.bus.Publish(events.AgentEvent{
		Type: events.WorkerEscalationTicket, GraphID: ticket.WorkerGraphID, NodeID: ticket.WorkerNodeID,
		Payload: map[string]any{"ticket": ticket},
	})

	return fmt.Sprintf("ticket %s filed (severity=%s)", ticket.TicketID, ticket.Severity), nil
}

// NotifyOperatorTool is the built-in tool a Queen graph node calls after
// reviewing a filed ticket, to surface it to a human operator. It publishes
// QUEEN_INTERVENTION_REQUESTED; the worker graph is left running (spec §6
// scenario 5: "worker continues running").
type NotifyOperatorTool struct {
	bus *events.Bus
	idx *Index
}

// NewNotifyOperatorTool builds the tool, wired to bus and idx.
func NewNotifyOperatorTool(bus *events.Bus, idx *Index) *NotifyOperatorTool {
	return &NotifyOperatorTool{bus: bus, idx: idx}
}

func (t *NotifyOperatorTool) Spec() tools.ToolSpec {
	return tools.ToolSpec{
		Name:        "notify_operator",
		Description: "Surface a filed EscalationTicket to a human operator.",
		Parameters: map[string]tools.ParamSpec{
			"ticketId":      {Type: "string", Description: "the EscalationTicket's ID", Required: true},
			"analysis":      {Type: "string", Description: "the Queen's analysis of the ticket", Required: true},
			"severity":      {Type: "string", Description: "low, medium, high, or critical", Required: true, Enum: []string{"low", "medium", "high", "critical"}},
			"queenGraphId":  {Type: "string", Description: "this Queen graph's own ID", Required: true},
			"queenStreamId": {Type: "string", Description: "this Queen graph's own running stream ID", Required: true},
		},
	}
}

type notifyOperatorArgs struct {
	TicketID      string `json:"ticketId"`
	Analysis      string `json:"analysis"`
	Severity      string `json:"severity"`
	QueenGraphID  string `json:"queenGraphId"`
	QueenStreamID string `json:"queenStreamId"`
}

func (t *NotifyOperatorTool) Invoke(ctx context.Context, argsJSON string) (string, error) {
	var args notifyOperatorArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("notify_operator: decode args: %w", err)
	}
	if _, err := t.idx.Ticket(args.TicketID); err != nil {
		return "", fmt.Errorf("notify_operator: %w", err)
	}

	t.bus.Publish(events.AgentEvent{
		Type: events.QueenInterventionRequested, GraphID: args.QueenGraphID, StreamID: args.QueenStreamID,
		Payload: map[string]any{
			"ticketId": args.TicketID, "analysis": args.Analysis, "severity": args.Severity,
			"queenGraphId": args.QueenGraphID, "queenStreamId": args.QueenStreamID,
		},
	})

	return fmt.Sprintf("operator notified for ticket %s", args.TicketID), nil
}
