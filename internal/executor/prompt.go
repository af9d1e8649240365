package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowgraph-labs/agentrt/internal/conversation"
	"github.com/flowgraph-labs/agentrt/internal/graph"
	"github.com/flowgraph-labs/agentrt/internal/llmclient"
)

// promptContext holds the per-visit dynamic layers fed into composeSystemPrompt.
type promptContext struct {
	Goal                 *graph.Goal
	Node                 *graph.NodeSpec
	ToolDescriptions      map[string]string // name -> description, from the node's own tool list
	MemorySubset          map[string]any    // SharedMemory restricted to Node.InputKeys
	UserInteractionCount  int
}

// composeSystemPrompt builds the system prompt for one LLM turn from four
// sections, always in this order: goal, tools, shared state, and the current
// node's identity and focus. The fixed order gives the same node a stable
// prompt shape turn over turn; individual sections are omitted when empty.
func composeSystemPrompt(pctx promptContext) string {
	var sections []string

	if pctx.Goal != nil {
		var sb strings.Builder
		sb.WriteString("## Goal\n\n")
		if pctx.Goal.Name != "" {
			sb.WriteString(fmt.Sprintf("**%s**\n\n", pctx.Goal.Name))
		}
		if pctx.Goal.Description != "" {
			sb.WriteString(pctx.Goal.Description + "\n")
		}
		if len(pctx.Goal.Constraints) > 0 {
			sb.WriteString("\nConstraints:\n")
			for _, c := range pctx.Goal.Constraints {
				sb.WriteString(fmt.Sprintf("- %s\n", c))
			}
		}
		if len(pctx.Goal.SuccessCriteria) > 0 {
			names := make([]string, 0, len(pctx.Goal.SuccessCriteria))
			for k := range pctx.Goal.SuccessCriteria {
				names = append(names, k)
			}
			sort.Strings(names)
			sb.WriteString("\nOverall success criteria:\n")
			for _, k := range names {
				sb.WriteString(fmt.Sprintf("- %s (weight %.2f)\n", k, pctx.Goal.SuccessCriteria[k]))
			}
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}

	if len(pctx.ToolDescriptions) > 0 {
		names := make([]string, 0, len(pctx.ToolDescriptions))
		for n := range pctx.ToolDescriptions {
			names = append(names, n)
		}
		sort.Strings(names)
		var sb strings.Builder
		sb.WriteString("## Tools\n\n")
		for _, n := range names {
			if desc := pctx.ToolDescriptions[n]; desc != "" {
				sb.WriteString(fmt.Sprintf("- **%s**: %s\n", n, desc))
			} else {
				sb.WriteString(fmt.Sprintf("- **%s**\n", n))
			}
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}

	if len(pctx.MemorySubset) > 0 {
		names := make([]string, 0, len(pctx.MemorySubset))
		for k := range pctx.MemorySubset {
			names = append(names, k)
		}
		sort.Strings(names)
		var sb strings.Builder
		sb.WriteString("## Shared State\n\n")
		for _, k := range names {
			sb.WriteString(fmt.Sprintf("- %s: %v\n", k, pctx.MemorySubset[k]))
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}

	if pctx.Node != nil {
		var sb strings.Builder
		sb.WriteString("## Current Node\n\n")
		sb.WriteString(fmt.Sprintf("You are the %q node.\n", pctx.Node.ID))
		if pctx.Node.Description != "" {
			sb.WriteString(pctx.Node.Description + "\n")
		}
		if pctx.Node.SystemPrompt != "" {
			sb.WriteString("\n" + pctx.Node.SystemPrompt + "\n")
		}
		if len(pctx.Node.RequiredOutputKeys()) > 0 {
			sb.WriteString(fmt.Sprintf("\nRequired output keys before this node can finish: %s\n",
				strings.Join(pctx.Node.RequiredOutputKeys(), ", ")))
		}
		if pctx.Node.SuccessCriteria != "" {
			sb.WriteString(fmt.Sprintf("\nThis turn is judged against: %s\n", pctx.Node.SuccessCriteria))
		}
		if pctx.Node.ClientFacing {
			sb.WriteString("\nYour plain-text reply is shown directly to the user; use set_output for structured results.\n")
		}
		if pctx.UserInteractionCount > 0 {
			sb.WriteString(fmt.Sprintf("\nYou have exchanged %d message(s) with the user so far this visit.\n", pctx.UserInteractionCount))
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}

	if len(sections) == 0 {
		return ""
	}
	return strings.Join(sections, "\n\n")
}

// toLLMMessages turns system prompt plus the replayed conversation log into
// the Message slice llmclient.Client.Generate expects.
func toLLMMessages(systemPrompt string, history []conversation.Message) []llmclient.Message {
	msgs := make([]llmclient.Message, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, llmclient.Message{Role: llmclient.RoleSystem, Content: systemPrompt})
	}
	for _, m := range history {
		if lm, ok := messageToLLM(m); ok {
			msgs = append(msgs, lm)
		}
	}
	return msgs
}

// messageToLLM maps one persisted conversation.Message to the llmclient
// wire shape. tool_call entries are skipped: the assistant's intent to call
// a tool already lives in its preceding RoleAssistant message's Content, and
// only the matching tool_result becomes a RoleTool message.
func messageToLLM(m conversation.Message) (llmclient.Message, bool) {
	switch m.Type {
	case conversation.MessageUser:
		return llmclient.Message{Role: llmclient.RoleUser, Content: m.Content}, true
	case conversation.MessageAssistant:
		return llmclient.Message{Role: llmclient.RoleAssistant, Content: m.Content}, true
	case conversation.MessageToolResult:
		content := m.ToolResult
		if m.ToolError != "" {
			content = "error: " + m.ToolError
		}
		return llmclient.Message{Role: llmclient.RoleTool, Content: content, ToolCallID: m.ToolCallID, ToolName: m.ToolName}, true
	case conversation.MessageSystemMarker:
		return llmclient.Message{Role: llmclient.RoleSystem, Content: m.Content}, true
	default:
		return llmclient.Message{}, false
	}
}
