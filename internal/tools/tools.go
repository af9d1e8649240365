// Package tools implements the runtime's tool-call external collaborator
// (spec §4.6's tool-call turn, §1's narrow-interface boundary): a
// Registry that lists callable tools and dispatches a name+argsJSON call to
// whichever backend owns that name — WASM plugins, an MCP server, or a
// built-in.
package tools

import "context"

// ParamSpec describes a single tool parameter, JSON-Schema shaped so it can
// be handed straight to llmclient.ToolSpec.Parameters.
type ParamSpec struct {
	Type        string               `json:"type"`
	Description string               `json:"description"`
	Required    bool                 `json:"required"`
	Enum        []string             `json:"enum,omitempty"`
	Default     any                  `json:"default,omitempty"`
	Items       *ParamSpec           `json:"items,omitempty"`
	Properties  map[string]ParamSpec `json:"properties,omitempty"`
}

// ToolSpec describes one callable tool.
type ToolSpec struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Parameters  map[string]ParamSpec `json:"parameters"`
}

// Invokable is one backend-specific tool implementation.
type Invokable interface {
	Spec() ToolSpec
	Invoke(ctx context.Context, argsJSON string) (string, error)
}

// Registry is the narrow external-collaborator interface the executor calls
// into for a node's tool names (spec §4.6): list the tools available to a
// node, then dispatch each tool call the model emits.
type Registry interface {
	List() []ToolSpec
	Call(ctx context.Context, name string, argsJSON string) (string, error)
}

// ParametersToMap flattens a ParamSpec map into the JSON-Schema-shaped
// map[string]any that llmclient.ToolSpec.Parameters and the MCP tool
// converter both expect.
func ParametersToMap(params map[string]ParamSpec) map[string]any {
	props := make(map[string]any, len(params))
	var required []string
	for name, p := range params {
		props[name] = paramSpecToSchema(p)
		if p.Required {
			required = append(required, name)
		}
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func paramSpecToSchema(p ParamSpec) map[string]any {
	m := map[string]any{
		"type":        p.Type,
		"description": p.Description,
	}
	if len(p.Enum) > 0 {
		m["enum"] = p.Enum
	}
	if p.Default != nil {
		m["default"] = p.Default
	}
	if p.Items != nil {
		m["items"] = paramSpecToSchema(*p.Items)
	}
	if len(p.Properties) > 0 {
		sub := make(map[string]any, len(p.Properties))
		var subRequired []string
		for name, sp := range p.Properties {
			sub[name] = paramSpecToSchema(sp)
			if sp.Required {
				subRequired = append(subRequired, name)
			}
		}
		m["properties"] = sub
		if len(subRequired) > 0 {
			m["required"] = subRequired
		}
	}
	return m
}
