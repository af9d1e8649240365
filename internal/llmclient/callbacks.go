package llmclient

import (
	"context"

	"github.com/cloudwego/eino/callbacks"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	ub "github.com/cloudwego/eino/utils/callbacks"

	"github.com/flowgraph-labs/agentrt/internal/events"
)

// NewEventBusHandler bridges Eino's model/tool callbacks onto bus, stamped
// with the node/stream/graph IDs for the current step (spec §4.6: every
// LLM_TEXT_DELTA and TOOL_CALL_* event carries that context).
func NewEventBusHandler(bus *events.Bus, graphID, streamID, nodeID, executionID string) callbacks.Handler {
	publish := func(typ events.EventType, payload events.Payload) {
		bus.Publish(events.AgentEvent{
			Type:        typ,
			GraphID:     graphID,
			StreamID:    streamID,
			NodeID:      nodeID,
			ExecutionID: executionID,
			Payload:     events.ToMap(payload),
		})
	}

	modelHandler := &ub.ModelCallbackHandler{
		OnEndWithStreamOutput: func(ctx context.Context, info *callbacks.RunInfo, output *schema.StreamReader[*einomodel.CallbackOutput]) context.Context {
			go func() {
				defer output.Close()
				for {
					chunk, err := output.Recv()
					if err != nil {
						break
					}
					if chunk.Message != nil && chunk.Message.Content != "" {
						publish(events.LLMTextDelta, events.LLMTextDeltaPayload{Text: chunk.Message.Content})
					}
				}
			}()
			return ctx
		},
	}

	toolHandler := &ub.ToolCallbackHandler{
		OnStart: func(ctx context.Context, info *callbacks.RunInfo, input *tool.CallbackInput) context.Context {
			publish(events.ToolCallStarted, events.ToolCallStartedPayload{
				Name: info.Name,
				Args: map[string]any{"raw": truncate(input.ArgumentsInJSON, 1000)},
			})
			return ctx
		},
		OnEnd: func(ctx context.Context, info *callbacks.RunInfo, output *tool.CallbackOutput) context.Context {
			publish(events.ToolCallCompleted, events.ToolCallCompletedPayload{
				Name:   info.Name,
				Result: truncate(output.Response, 1000),
			})
			return ctx
		},
		OnError: func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			publish(events.ToolCallCompleted, events.ToolCallCompletedPayload{
				Name:  info.Name,
				Error: err.Error(),
			})
			return ctx
		},
	}

	return ub.NewHandlerHelper().
		ChatModel(modelHandler).
		Tool(toolHandler).
		Handler()
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... (truncated)"
}
