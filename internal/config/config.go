// Package config loads the runtime's root JSONC configuration: the
// Environment knobs spec §6 names (maxIterations, maxToolCallsPerTurn,
// maxHistoryTokens, webhookRoutes) plus the provider/tool/credential
// settings the ambient stack needs to construct its external collaborators.
package config

import (
	"strconv"
	"time"
)

// Config is the runtime's root configuration.
type Config struct {
	// Environment knobs (spec §6).
	MaxIterations       int                     `json:"max_iterations"` // per-node-visit retry/continue cap before ESCALATE
	MaxToolCallsPerTurn int                     `json:"max_tool_calls_per_turn"`
	MaxHistoryTokens    int                     `json:"max_history_tokens"` // conversation.Compactor ContextWindow
	WebhookRoutes       map[string]WebhookRoute `json:"webhook_routes"`

	Models     ModelsConfig     `json:"models"`
	Tools      ToolsConfig      `json:"tools"`
	Creds      CredsConfig      `json:"creds"`
	Monitoring MonitoringConfig `json:"monitoring"`
	Transport  TransportConfig  `json:"transport"`
}

// WebhookRoute binds a path to the graph/entry point it should trigger
// (spec §4.8 TriggerWebhook).
type WebhookRoute struct {
	GraphID    string `json:"graph_id"`
	EntryPoint string `json:"entry_point"`
	Secret     string `json:"secret,omitempty"` // HMAC-SHA256 key; empty = unverified
}

// ModelsConfig configures the llmclient.Registry.
type ModelsConfig struct {
	Default   string                    `json:"default"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig mirrors llmclient.ProviderConfig's JSON shape.
type ProviderConfig struct {
	Driver        string     `json:"driver"` // "claude" | "openai" | "ollama" | "gemini"
	Model         string     `json:"model"`
	BaseURL       string     `json:"base_url,omitempty"`
	Auth          AuthConfig `json:"auth"`
	MaxTokens     int        `json:"max_tokens,omitempty"`
	ContextWindow int        `json:"context_window,omitempty"`
	Timeout       Duration   `json:"timeout,omitempty"`
}

// AuthConfig configures API key/token resolution for one provider.
type AuthConfig struct {
	APIKey string `json:"api_key,omitempty"` // literal or ${{ .Env.VAR }} template
	Token  string `json:"token,omitempty"`
}

// ToolsConfig configures the tools.CompositeRegistry.
type ToolsConfig struct {
	PluginsDir     string            `json:"plugins_dir"`
	EnabledPlugins []string          `json:"enabled_plugins"`
	MCPServers     []MCPServerConfig `json:"mcp_servers"`
	ShellTimeout   Duration          `json:"shell_timeout,omitempty"`
	WebSearch      WebSearchConfig   `json:"web_search"`
}

// WebSearchConfig selects and configures the built-in web_search tool's
// backing provider.
type WebSearchConfig struct {
	Provider     string `json:"provider,omitempty"` // "duckduckgo" (default, no key) | "google" | "bing"
	GoogleAPIKey string `json:"google_api_key,omitempty"`
	GoogleCX     string `json:"google_cx,omitempty"`
	BingAPIKey   string `json:"bing_api_key,omitempty"`
	MaxResults   int    `json:"max_results,omitempty"`
}

// MCPServerConfig names one external MCP tool server to connect to.
type MCPServerConfig struct {
	ID      string            `json:"id"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

// CredsConfig configures credential resolution (internal/creds).
type CredsConfig struct {
	AgeKeyPath string `json:"age_key_path,omitempty"`
	DotenvPath string `json:"dotenv_path,omitempty"`
}

// MonitoringConfig configures the Health Judge / Queen pattern's sqlite
// index (spec §6).
type MonitoringConfig struct {
	DBPath               string   `json:"db_path,omitempty"`
	StepsSinceLastAccept int      `json:"steps_since_last_accept,omitempty"` // escalation threshold
	HeartbeatInterval    Duration `json:"heartbeat_interval,omitempty"`
}

// TransportConfig configures the HTTP/WS presentation layer.
type TransportConfig struct {
	HTTPAddr string `json:"http_addr,omitempty"`
}

// Duration unmarshals from a Go duration string ("30s", "5m") in JSON.
type Duration time.Duration

// UnmarshalJSON accepts either a duration string or a raw number of
// nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		parsed, err := time.ParseDuration(s[1 : len(s)-1])
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	ns, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*d = Duration(ns)
	return nil
}

// Value returns d as a time.Duration.
func (d Duration) Value() time.Duration { return time.Duration(d) }

// ApplyDefaults fills in zero-value fields with sensible defaults. Load
// calls this already; it's exported so a caller building a Config by hand
// (e.g. when no config file is found) can apply the same defaults.
func ApplyDefaults(cfg *Config) {
	applyDefaults(cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 25
	}
	if cfg.MaxToolCallsPerTurn == 0 {
		cfg.MaxToolCallsPerTurn = 16
	}
	if cfg.MaxHistoryTokens == 0 {
		cfg.MaxHistoryTokens = 100000
	}
	if cfg.Tools.PluginsDir == "" {
		cfg.Tools.PluginsDir = PluginsDir()
	}
	if cfg.Creds.AgeKeyPath == "" {
		cfg.Creds.AgeKeyPath = AgeKeyPath()
	}
	if cfg.Creds.DotenvPath == "" {
		cfg.Creds.DotenvPath = DotenvPath()
	}
	if cfg.Monitoring.DBPath == "" {
		cfg.Monitoring.DBPath = MonitoringDBPath()
	}
	if cfg.Monitoring.StepsSinceLastAccept == 0 {
		cfg.Monitoring.StepsSinceLastAccept = 5
	}
	if cfg.Monitoring.HeartbeatInterval == 0 {
		cfg.Monitoring.HeartbeatInterval = Duration(30 * time.Second)
	}
	if cfg.Transport.HTTPAddr == "" {
		cfg.Transport.HTTPAddr = "127.0.0.1:18420"
	}
}
