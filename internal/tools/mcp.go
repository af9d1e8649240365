package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPServerConfig names one external MCP tool server this runtime can call
// out to (spec §3 "the runtime both calls out to external MCP tool servers
// and exposes its own tools as an MCP server").
type MCPServerConfig struct {
	ID      string
	Command string
	Args    []string
	Env     map[string]string
}

// mcpTool adapts one tool exposed by a connected MCP server to Invokable.
type mcpTool struct {
	spec    ToolSpec
	session *mcpsdk.ClientSession
}

func (t *mcpTool) Spec() ToolSpec { return t.spec }

func (t *mcpTool) Invoke(ctx context.Context, argsJSON string) (string, error) {
	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("mcp tool %q: decode args: %w", t.spec.Name, err)
		}
	}
	result, err := t.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.spec.Name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("mcp tool %q: %w", t.spec.Name, err)
	}
	if result.IsError {
		return "", fmt.Errorf("mcp tool %q returned an error result", t.spec.Name)
	}
	var sb []byte
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb = append(sb, []byte(tc.Text)...)
		}
	}
	return string(sb), nil
}

// mcpClient owns connections to a set of external MCP servers and the
// tools each exposes.
type mcpClient struct {
	mu       sync.RWMutex
	sessions map[string]*mcpsdk.ClientSession // serverID -> session
}

func newMCPClient() *mcpClient {
	return &mcpClient{sessions: make(map[string]*mcpsdk.ClientSession)}
}

// connect launches/connects to every configured server over stdio. A server
// that fails to connect is skipped with a warning rather than aborting
// startup, mirroring the spec's partial-degradation posture for external
// collaborators.
func (c *mcpClient) connect(ctx context.Context, servers []MCPServerConfig) []*mcpTool {
	var tools []*mcpTool
	for _, cfg := range servers {
		session, err := c.connectOne(ctx, cfg)
		if err != nil {
			slog.Warn("tools: mcp server unavailable", "server", cfg.ID, "error", err)
			continue
		}
		listed, err := session.ListTools(ctx, nil)
		if err != nil {
			slog.Warn("tools: mcp list tools", "server", cfg.ID, "error", err)
			continue
		}
		for _, mt := range listed.Tools {
			tools = append(tools, &mcpTool{
				spec:    mcpToolToSpec(mt),
				session: session,
			})
		}
	}
	return tools
}

func (c *mcpClient) connectOne(ctx context.Context, cfg MCPServerConfig) (*mcpsdk.ClientSession, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "agentrt", Version: "0.1.0"}, nil)
	session, err := client.Connect(ctx, &mcpsdk.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, fmt.Errorf("connect mcp server %q: %w", cfg.ID, err)
	}

	c.mu.Lock()
	c.sessions[cfg.ID] = session
	c.mu.Unlock()
	return session, nil
}

func (c *mcpClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		_ = s.Close()
	}
	c.sessions = nil
}

func mcpToolToSpec(t *mcpsdk.Tool) ToolSpec {
	spec := ToolSpec{Name: t.Name, Description: t.Description}
	schema, ok := t.InputSchema.(map[string]any)
	if !ok {
		return spec
	}
	props, _ := schema["properties"].(map[string]any)
	var required map[string]bool
	if reqList, ok := schema["required"].([]any); ok {
		required = make(map[string]bool, len(reqList))
		for _, r := range reqList {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}
	if len(props) > 0 {
		spec.Parameters = make(map[string]ParamSpec, len(props))
		for name, raw := range props {
			pm, _ := raw.(map[string]any)
			typ, _ := pm["type"].(string)
			desc, _ := pm["description"].(string)
			spec.Parameters[name] = ParamSpec{
				Type:        typ,
				Description: desc,
				Required:    required[name],
			}
		}
	}
	return spec
}
