package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flowgraph-labs/agentrt/internal/llmclient"
)

// critic is the JSON shape an LLMJudge's model is asked to produce.
type critic struct {
	Verdict   string `json:"verdict"`
	Rationale string `json:"rationale"`
}

// LLMJudge is a pluggable critic judge (spec §4.5 "other judges ... may be
// plugged in by interface"). It delegates the acceptance decision to a
// model instead of ImplicitJudge's fixed rules, e.g. for success-criteria
// scoring. Adapted from the teacher's skill-verification critic.
type LLMJudge struct {
	client llmclient.Client
}

// NewLLMJudge builds an LLMJudge that calls client for each evaluation.
func NewLLMJudge(client llmclient.Client) *LLMJudge {
	return &LLMJudge{client: client}
}

func (j *LLMJudge) Evaluate(in Input) (Outcome, error) {
	ctx := context.Background()
	prompt := buildCriticPrompt(in)

	stream, err := j.client.Generate(ctx, []llmclient.Message{
		{Role: llmclient.RoleUser, Content: prompt},
	}, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("judge: generate: %w", err)
	}
	for range stream.Deltas() {
		// critic output is consumed whole; discard incremental deltas
	}
	result, err := stream.Wait()
	if err != nil {
		return Outcome{}, fmt.Errorf("judge: wait: %w", err)
	}

	return parseCriticResponse(result.Text), nil
}

func buildCriticPrompt(in Input) string {
	var sb strings.Builder
	sb.WriteString("You are a judge evaluating one turn of an AI agent's node visit.\n\n")
	sb.WriteString(fmt.Sprintf("## Node: %s\n\n", in.Node.ID))
	if in.Node.SuccessCriteria != "" {
		sb.WriteString("## Success criteria\n\n")
		sb.WriteString(in.Node.SuccessCriteria)
		sb.WriteString("\n\n")
	}
	sb.WriteString("## Required output keys\n\n")
	for _, k := range in.Node.RequiredOutputKeys() {
		present := hasKey(in.AccumulatedOutputKeys, k)
		sb.WriteString(fmt.Sprintf("- %s (set: %v)\n", k, present))
	}
	sb.WriteString("\n## Latest assistant message\n\n")
	sb.WriteString(in.AssistantText)
	sb.WriteString("\n\n## Instructions\n\n")
	sb.WriteString("Respond with a JSON object: {\"verdict\": \"ACCEPT\"|\"RETRY\"|\"ESCALATE\", \"rationale\": \"...\"}.\n")
	sb.WriteString("Only output the JSON, no other text.\n")
	return sb.String()
}

func parseCriticResponse(content string) Outcome {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		var jsonLines []string
		inBlock := false
		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inBlock = !inBlock
				continue
			}
			if inBlock {
				jsonLines = append(jsonLines, line)
			}
		}
		content = strings.Join(jsonLines, "\n")
	}

	var c critic
	if err := json.Unmarshal([]byte(content), &c); err != nil {
		slog.Warn("judge: failed to parse critic response, escalating", "error", err)
		return Outcome{Verdict: VerdictEscalate, Rationale: "critic response could not be parsed"}
	}

	switch Verdict(c.Verdict) {
	case VerdictAccept, VerdictRetry, VerdictEscalate:
		return Outcome{Verdict: Verdict(c.Verdict), Rationale: c.Rationale}
	default:
		return Outcome{Verdict: VerdictEscalate, Rationale: "critic returned unknown verdict: " + c.Verdict}
	}
}
