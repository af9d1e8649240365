// Package events implements the runtime's typed publish/subscribe event bus
// (spec §4.1): per-stream ordered delivery, structural filters, and a
// bounded per-subscriber buffer that drops the oldest event on overflow.
package events

import (
	"fmt"
	"sync/atomic"
	"time"
)

// EventType enumerates the minimum event set from spec §4.1.
type EventType string

const (
	ExecutionStarted   EventType = "EXECUTION_STARTED"
	ExecutionCompleted EventType = "EXECUTION_COMPLETED"
	ExecutionFailed    EventType = "EXECUTION_FAILED"
	ExecutionPaused    EventType = "EXECUTION_PAUSED"

	NodeLoopStarted   EventType = "NODE_LOOP_STARTED"
	NodeLoopCompleted EventType = "NODE_LOOP_COMPLETED"
	EdgeTraversed     EventType = "EDGE_TRAVERSED"

	LLMTextDelta EventType = "LLM_TEXT_DELTA"

	ToolCallStarted   EventType = "TOOL_CALL_STARTED"
	ToolCallCompleted EventType = "TOOL_CALL_COMPLETED"

	ClientOutputDelta   EventType = "CLIENT_OUTPUT_DELTA"
	ClientInputRequested EventType = "CLIENT_INPUT_REQUESTED"
	ClientInputReceived  EventType = "CLIENT_INPUT_RECEIVED"

	GoalProgress     EventType = "GOAL_PROGRESS"
	WebhookReceived  EventType = "WEBHOOK_RECEIVED"

	WorkerEscalationTicket     EventType = "WORKER_ESCALATION_TICKET"
	QueenInterventionRequested EventType = "QUEEN_INTERVENTION_REQUESTED"

	SubscriberLagged EventType = "SUBSCRIBER_LAGGED"
)

// AgentEvent is the envelope published on the bus (spec §3, §6).
type AgentEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"ts"`
	GraphID     string         `json:"graphId,omitempty"`
	StreamID    string         `json:"streamId,omitempty"`
	NodeID      string         `json:"nodeId,omitempty"`
	ExecutionID string         `json:"executionId,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

var eventIDCounter uint64

func nextEventID() string {
	seq := atomic.AddUint64(&eventIDCounter, 1)
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), seq)
}
