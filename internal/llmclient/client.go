// Package llmclient defines the narrow LLM collaborator interface consumed
// by internal/judge and internal/executor, plus an Eino-backed
// implementation wired to the claude/openai/gemini/ollama providers (spec
// §6: "the core never talks to a provider SDK directly").
package llmclient

import "context"

// Role mirrors the small set of chat roles the executor needs.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn handed to Generate, independent of any provider
// SDK's message type.
type Message struct {
	Role       Role
	Content    string
	ToolCallID string // set on RoleTool messages
	ToolName   string // set on RoleTool messages
}

// ToolSpec describes one callable tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID       string
	Name     string
	ArgsJSON string
}

// Usage reports token accounting for a single Generate call, when the
// provider supplies it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Result is the final, non-streamed outcome of a Generate call.
type Result struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// Stream delivers incremental text as it becomes available, then the
// assembled Result once the model finishes.
type Stream interface {
	// Deltas yields text chunks as they arrive; the channel closes when the
	// turn completes (successfully or not).
	Deltas() <-chan string
	// Wait blocks until the turn completes, returning the final Result.
	Wait() (*Result, error)
}

// Client is the external LLM collaborator (spec §6 "llm.Client.Generate").
// GraphExecutor and internal/judge depend only on this interface, never on
// a provider SDK.
type Client interface {
	Generate(ctx context.Context, messages []Message, tools []ToolSpec) (Stream, error)
}
