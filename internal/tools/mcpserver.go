package tools

import (
	"context"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewMCPServer exposes every tool in reg as an MCP server (spec §3: "the
// runtime ... exposes its own set_output/prompt tools as an MCP server"),
// adapted from the teacher's own tool-exposing MCP server.
func NewMCPServer(reg *CompositeRegistry) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "agentrt",
		Version: "0.1.0",
	}, nil)

	for name, inv := range reg.snapshot() {
		spec := inv.Spec()
		mcpTool := &mcpsdk.Tool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: ParametersToMap(spec.Parameters),
		}
		invokable := inv
		toolName := name
		server.AddTool(mcpTool, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			result, err := invokable.Invoke(ctx, string(req.Params.Arguments))
			if err != nil {
				slog.Debug("tools: mcp server tool error", "tool", toolName, "error", err)
				return &mcpsdk.CallToolResult{
					IsError: true,
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
				}, nil
			}
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: result}},
			}, nil
		})
	}

	return server
}
