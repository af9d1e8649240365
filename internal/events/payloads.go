package events

import "encoding/json"

// Payload is implemented by every typed event payload; it names the
// EventType it serializes for (spec §6 "Event payload shapes").
type Payload interface {
	EventType() EventType
}

type LLMTextDeltaPayload struct {
	Text string `json:"text"`
}

func (LLMTextDeltaPayload) EventType() EventType { return LLMTextDelta }

type ToolCallStartedPayload struct {
	CallID string         `json:"callId"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
}

func (ToolCallStartedPayload) EventType() EventType { return ToolCallStarted }

type ToolCallCompletedPayload struct {
	CallID string `json:"callId"`
	Name   string `json:"name"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (ToolCallCompletedPayload) EventType() EventType { return ToolCallCompleted }

type ClientInputRequestedPayload struct {
	NodeID string `json:"nodeId"`
	Prompt string `json:"prompt"`
}

func (ClientInputRequestedPayload) EventType() EventType { return ClientInputRequested }

type ClientInputReceivedPayload struct {
	NodeID  string `json:"nodeId"`
	Content string `json:"content"`
}

func (ClientInputReceivedPayload) EventType() EventType { return ClientInputReceived }

type EdgeTraversedPayload struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

func (EdgeTraversedPayload) EventType() EventType { return EdgeTraversed }

type ExecutionFailedPayload struct {
	Reason string `json:"reason"`
}

func (ExecutionFailedPayload) EventType() EventType { return ExecutionFailed }

type WebhookReceivedPayload struct {
	SourceID string            `json:"sourceId"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     string            `json:"body,omitempty"`
}

func (WebhookReceivedPayload) EventType() EventType { return WebhookReceived }

type WorkerEscalationTicketPayload struct {
	Ticket json.RawMessage `json:"ticket"`
}

func (WorkerEscalationTicketPayload) EventType() EventType { return WorkerEscalationTicket }

type QueenInterventionRequestedPayload struct {
	TicketID      string `json:"ticketId"`
	Analysis      string `json:"analysis"`
	Severity      string `json:"severity"`
	QueenGraphID  string `json:"queenGraphId"`
	QueenStreamID string `json:"queenStreamId"`
}

func (QueenInterventionRequestedPayload) EventType() EventType {
	return QueenInterventionRequested
}

type SubscriberLaggedPayload struct {
	SubscriptionID string `json:"subscriptionId"`
	Dropped        int    `json:"dropped"`
}

func (SubscriberLaggedPayload) EventType() EventType { return SubscriberLagged }

// toMap round-trips a typed payload through JSON into a map[string]any so it
// can live in AgentEvent.Payload (mirrors the teacher's events.toMap helper).
func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// ToMap exports toMap for callers outside this package (e.g. internal/
// llmclient's callback bridge) that need to populate AgentEvent.Payload from
// a typed Payload value.
func ToMap(p Payload) map[string]any { return toMap(p) }

// ExtractPayload decodes an AgentEvent's payload map back into a typed T.
func ExtractPayload[T Payload](e AgentEvent) (T, bool) {
	var out T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, false
	}
	return out, true
}
