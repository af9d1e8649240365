package conversation

import (
	"context"
	"fmt"
	"strings"
)

// SummarizeFunc performs the LLM call that condenses old messages into a
// summary. Supplied by the llmclient collaborator at the call site.
type SummarizeFunc func(ctx context.Context, prompt string) (string, error)

// CompactorConfig tunes when and how much history gets folded into a
// summary marker.
type CompactorConfig struct {
	ContextWindow int     // total token budget for the node's model
	Threshold     float64 // trigger ratio of ContextWindow, default 0.80
	PreserveRatio float64 // fraction of ContextWindow reserved for recent turns, default 0.25
	CharsPerToken int     // heuristic, default 4
}

// Compactor implements spec §4.2's "opportunistic compaction": triggered at
// phase boundaries (after a node's turn is accepted, before the next LLM
// call), never mid-turn.
type Compactor struct {
	contextWindow int
	threshold     float64
	preserveRatio float64
	charsPerToken int
}

// NewCompactor builds a Compactor, defaulting zero-valued fields.
func NewCompactor(cfg CompactorConfig) *Compactor {
	c := &Compactor{
		contextWindow: cfg.ContextWindow,
		threshold:     cfg.Threshold,
		preserveRatio: cfg.PreserveRatio,
		charsPerToken: cfg.CharsPerToken,
	}
	if c.threshold == 0 {
		c.threshold = 0.80
	}
	if c.preserveRatio == 0 {
		c.preserveRatio = 0.25
	}
	if c.charsPerToken == 0 {
		c.charsPerToken = 4
	}
	return c
}

func (c *Compactor) estimateTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Content)/c.charsPerToken + 4
	}
	return total
}

// NeedsCompaction reports whether msgs' estimated size exceeds the trigger
// threshold of the configured context window.
func (c *Compactor) NeedsCompaction(systemPromptTokens int, msgs []Message) bool {
	if c.contextWindow <= 0 {
		return false
	}
	limit := int(float64(c.contextWindow) * c.threshold)
	return systemPromptTokens+c.estimateTokens(msgs) > limit
}

// Compact reads the full logical history via s.ReadFrom(1), and if it
// exceeds the threshold, summarizes the oldest portion and appends a
// system_marker message recording SummaryUpTo. It is a no-op (returns
// false) when compaction is not needed. Compaction never rewrites or
// deletes existing part files (invariant 1); it only appends a marker that
// shortens subsequent ReadFrom replay.
func (c *Compactor) Compact(ctx context.Context, s *Store, systemPromptTokens int, summarize SummarizeFunc) (bool, error) {
	msgs, err := s.ReadFrom(1)
	if err != nil {
		return false, fmt.Errorf("conversation: compact: %w", err)
	}
	if !c.NeedsCompaction(systemPromptTokens, msgs) || len(msgs) < 2 {
		return false, nil
	}

	preserveBudget := int(float64(c.contextWindow) * c.preserveRatio)
	splitIdx := c.findSplitIndex(msgs, preserveBudget)
	if splitIdx <= 0 {
		return false, nil
	}
	oldMsgs := msgs[:splitIdx]

	prompt := c.buildSummarizePrompt(oldMsgs)
	summary, err := summarize(ctx, prompt)
	if err != nil {
		return false, fmt.Errorf("conversation: compact: summarize: %w", err)
	}

	upTo := oldMsgs[len(oldMsgs)-1].Ordinal
	if _, err := s.Append(Message{
		Type:        MessageSystemMarker,
		Content:     summary,
		SummaryUpTo: upTo,
	}); err != nil {
		return false, fmt.Errorf("conversation: compact: append summary marker: %w", err)
	}
	return true, nil
}

// findSplitIndex returns the index in msgs separating the portion to
// summarize from the portion to preserve verbatim, keeping the most recent
// messages within preserveBudget tokens and always preserving at least one.
func (c *Compactor) findSplitIndex(msgs []Message, preserveBudget int) int {
	if len(msgs) <= 1 {
		return 0
	}
	tokens := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		msgTokens := len(msgs[i].Content)/c.charsPerToken + 4
		if tokens+msgTokens > preserveBudget && i < len(msgs)-1 {
			return i + 1
		}
		tokens += msgTokens
	}
	return len(msgs) / 2
}

func (c *Compactor) buildSummarizePrompt(oldMsgs []Message) string {
	var sb strings.Builder
	sb.WriteString("Summarize the following conversation turns.\n\n")
	for _, m := range oldMsgs {
		role := m.Role
		if role == "" {
			role = string(m.Type)
		}
		sb.WriteString(fmt.Sprintf("[%s]: %s\n\n", role, m.Content))
	}
	sb.WriteString("Produce a structured summary preserving key decisions, tool results, and task state. Keep under 2000 words.\n")
	return sb.String()
}
