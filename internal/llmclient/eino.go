package llmclient

import (
	"context"
	"fmt"
	"io"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// einoClient adapts an Eino ToolCallingChatModel to the Client interface.
type einoClient struct {
	model einomodel.ToolCallingChatModel
}

func newEinoClient(m einomodel.ToolCallingChatModel) *einoClient {
	return &einoClient{model: m}
}

func toSchemaMessages(msgs []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		sm := &schema.Message{Content: m.Content}
		switch m.Role {
		case RoleSystem:
			sm.Role = schema.System
		case RoleAssistant:
			sm.Role = schema.Assistant
		case RoleTool:
			sm.Role = schema.Tool
			sm.ToolCallID = m.ToolCallID
			sm.Name = m.ToolName
		default:
			sm.Role = schema.User
		}
		out = append(out, sm)
	}
	return out
}

func toSchemaToolInfo(tools []ToolSpec) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		out = append(out, &schema.ToolInfo{
			Name:        t.Name,
			Desc:        t.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(toParameterMap(t.Parameters)),
		})
	}
	return out
}

// toParameterMap converts a JSON-Schema-shaped map (as stored on NodeSpec
// tool definitions) into Eino's ParameterInfo map. Only the subset of JSON
// Schema the tool registry actually emits is handled: object/array/string/
// number/integer/boolean, "properties", "items", "enum", "required",
// "description".
func toParameterMap(js map[string]any) map[string]*schema.ParameterInfo {
	props, _ := js["properties"].(map[string]any)
	required := map[string]bool{}
	if req, ok := js["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	out := make(map[string]*schema.ParameterInfo, len(props))
	for name, raw := range props {
		propSchema, _ := raw.(map[string]any)
		out[name] = toParameterInfo(propSchema, required[name])
	}
	return out
}

func toParameterInfo(js map[string]any, required bool) *schema.ParameterInfo {
	pi := &schema.ParameterInfo{Required: required}
	if desc, ok := js["description"].(string); ok {
		pi.Desc = desc
	}
	typ, _ := js["type"].(string)
	switch typ {
	case "object":
		pi.Type = schema.Object
		if nested, ok := js["properties"].(map[string]any); ok {
			var nestedRequired map[string]bool
			if req, ok := js["required"].([]any); ok {
				nestedRequired = map[string]bool{}
				for _, r := range req {
					if s, ok := r.(string); ok {
						nestedRequired[s] = true
					}
				}
			}
			sub := make(map[string]*schema.ParameterInfo, len(nested))
			for name, raw := range nested {
				propSchema, _ := raw.(map[string]any)
				sub[name] = toParameterInfo(propSchema, nestedRequired[name])
			}
			pi.SubParams = sub
		}
	case "array":
		pi.Type = schema.Array
		if items, ok := js["items"].(map[string]any); ok {
			pi.ElemInfo = toParameterInfo(items, false)
		}
	case "integer":
		pi.Type = schema.Integer
	case "number":
		pi.Type = schema.Number
	case "boolean":
		pi.Type = schema.Boolean
	default:
		pi.Type = schema.String
	}
	if enum, ok := js["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				pi.Enum = append(pi.Enum, s)
			}
		}
	}
	return pi
}

func fromSchemaToolCalls(calls []schema.ToolCall) []ToolCall {
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, ToolCall{
			ID:       c.ID,
			Name:     c.Function.Name,
			ArgsJSON: c.Function.Arguments,
		})
	}
	return out
}

type einoStream struct {
	deltas chan string
	mu     sync.Mutex
	result *Result
	err    error
	done   chan struct{}
}

func (s *einoStream) Deltas() <-chan string { return s.deltas }

func (s *einoStream) Wait() (*Result, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

func (c *einoClient) Generate(ctx context.Context, messages []Message, tools []ToolSpec) (Stream, error) {
	bound := c.model
	if len(tools) > 0 {
		withTools, err := c.model.WithTools(toSchemaToolInfo(tools))
		if err != nil {
			return nil, fmt.Errorf("llmclient: bind tools: %w", err)
		}
		bound = withTools
	}

	reader, err := bound.Stream(ctx, toSchemaMessages(messages))
	if err != nil {
		return nil, fmt.Errorf("llmclient: stream: %w", err)
	}

	s := &einoStream{deltas: make(chan string, 16), done: make(chan struct{})}
	go s.drain(reader)
	return s, nil
}

func (s *einoStream) drain(reader *schema.StreamReader[*schema.Message]) {
	defer close(s.deltas)
	defer close(s.done)
	defer reader.Close()

	var textParts []string
	var toolCalls []schema.ToolCall
	var usage Usage

	for {
		chunk, err := reader.Recv()
		if err != nil {
			if err != io.EOF {
				s.mu.Lock()
				s.err = fmt.Errorf("llmclient: receive chunk: %w", err)
				s.mu.Unlock()
			}
			break
		}
		if chunk.Content != "" {
			textParts = append(textParts, chunk.Content)
			s.deltas <- chunk.Content
		}
		if len(chunk.ToolCalls) > 0 {
			toolCalls = append(toolCalls, chunk.ToolCalls...)
		}
		if chunk.ResponseMeta != nil && chunk.ResponseMeta.Usage != nil {
			usage.PromptTokens = chunk.ResponseMeta.Usage.PromptTokens
			usage.CompletionTokens = chunk.ResponseMeta.Usage.CompletionTokens
		}
	}

	s.mu.Lock()
	if s.result == nil && s.err == nil {
		s.result = &Result{
			Text:      joinStrings(textParts),
			ToolCalls: fromSchemaToolCalls(toolCalls),
			Usage:     usage,
		}
	}
	s.mu.Unlock()
}

func joinStrings(parts []string) string {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return string(out)
}
