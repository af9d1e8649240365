// Package monitoring implements the Health Judge / Queen reference pattern
// (spec §6): a structured EscalationTicket, a sqlite-indexed history of
// judge verdicts a Health Judge node can query instead of re-scanning
// conversation logs, and the emit_escalation_ticket / notify_operator
// built-in tools those secondary graphs call.
package monitoring

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity is an EscalationTicket's urgency.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// EscalationTicket is the structured record a Health Judge files when a
// worker graph's node cannot progress, and what a Queen graph acts on.
type EscalationTicket struct {
	TicketID             string    `json:"ticketId"`
	CreatedAt            time.Time `json:"createdAt"`
	WorkerAgentID        string    `json:"workerAgentId"`
	WorkerSessionID      string    `json:"workerSessionId"`
	WorkerNodeID         string    `json:"workerNodeId"`
	WorkerGraphID        string    `json:"workerGraphId"`
	Severity             Severity  `json:"severity"`
	Cause                string    `json:"cause"`
	JudgeReasoning       string    `json:"judgeReasoning"`
	SuggestedAction      string    `json:"suggestedAction"`
	RecentVerdicts       []string  `json:"recentVerdicts"`
	TotalStepsChecked    int       `json:"totalStepsChecked"`
	StepsSinceLastAccept int       `json:"stepsSinceLastAccept"`
	StallMinutes         *float64  `json:"stallMinutes,omitempty"`
	EvidenceSnippet      string    `json:"evidenceSnippet"`
}

const maxEvidenceSnippet = 500

// TicketInput is the set of fields a Health Judge supplies; NewTicket fills
// the rest (TicketID, CreatedAt, and the verdict-history fields, which come
// from an Index lookup rather than the caller).
type TicketInput struct {
	WorkerAgentID   string
	WorkerSessionID string
	WorkerNodeID    string
	WorkerGraphID   string
	Severity        Severity
	Cause           string
	JudgeReasoning  string
	SuggestedAction string
	StallMinutes    *float64
	EvidenceSnippet string
}

// NewTicket builds a complete EscalationTicket from in plus history (as
// returned by Index.VerdictsFor). Truncates EvidenceSnippet to 500 bytes.
func NewTicket(in TicketInput, history VerdictHistory) (*EscalationTicket, error) {
	if in.WorkerGraphID == "" {
		return nil, fmt.Errorf("monitoring: workerGraphId is required")
	}
	if in.WorkerNodeID == "" {
		return nil, fmt.Errorf("monitoring: workerNodeId is required")
	}
	if !in.Severity.valid() {
		return nil, fmt.Errorf("monitoring: invalid severity %q", in.Severity)
	}
	snippet := in.EvidenceSnippet
	if len(snippet) > maxEvidenceSnippet {
		snippet = snippet[:maxEvidenceSnippet]
	}
	return &EscalationTicket{
		TicketID:             uuid.NewString(),
		CreatedAt:            time.Now(),
		WorkerAgentID:        in.WorkerAgentID,
		WorkerSessionID:      in.WorkerSessionID,
		WorkerNodeID:         in.WorkerNodeID,
		WorkerGraphID:        in.WorkerGraphID,
		Severity:             in.Severity,
		Cause:                in.Cause,
		JudgeReasoning:       in.JudgeReasoning,
		SuggestedAction:      in.SuggestedAction,
		RecentVerdicts:       history.RecentVerdicts,
		TotalStepsChecked:    history.TotalStepsChecked,
		StepsSinceLastAccept: history.StepsSinceLastAccept,
		StallMinutes:         in.StallMinutes,
		EvidenceSnippet:      snippet,
	}, nil
}
