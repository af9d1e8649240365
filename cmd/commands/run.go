package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/flowgraph-labs/agentrt/internal/agentpkg"
	"github.com/flowgraph-labs/agentrt/internal/config"
	"github.com/flowgraph-labs/agentrt/internal/creds"
	"github.com/flowgraph-labs/agentrt/internal/events"
	"github.com/flowgraph-labs/agentrt/internal/executor"
	"github.com/flowgraph-labs/agentrt/internal/judge"
	"github.com/flowgraph-labs/agentrt/internal/llmclient"
	"github.com/flowgraph-labs/agentrt/internal/monitoring"
	"github.com/flowgraph-labs/agentrt/internal/runtime"
	"github.com/flowgraph-labs/agentrt/internal/sessionstore"
	"github.com/flowgraph-labs/agentrt/internal/tools"
	"github.com/flowgraph-labs/agentrt/internal/transport"
)

// NewRunCommand returns the run subcommand: load an agent package, assemble
// its runtime, and serve it over HTTP/WS until interrupted.
func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Load an agent package and serve its runtime",
		ArgsUsage: "<agent-dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "session",
				Usage: "Session ID to run/resume (empty = a fresh one)",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "HTTP/WS listen address (overrides config)",
			},
		},
		Action: runRun,
	}
}

func runRun(ctx context.Context, cmd *cli.Command) error {
	agentDir := cmd.Args().First()
	if agentDir == "" {
		return fmt.Errorf("usage: agentrt run <agent-dir>")
	}

	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", configPath, "error", err)
		cfg = &config.Config{}
	}
	config.ApplyDefaults(cfg)

	logLevel := slog.LevelInfo
	if cmd.Bool("debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if cmd.IsSet("addr") {
		cfg.Transport.HTTPAddr = cmd.String("addr")
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	pkg, err := agentpkg.Load(agentDir)
	if err != nil {
		return fmt.Errorf("load agent package: %w", err)
	}
	primary, err := pkg.Primary()
	if err != nil {
		return fmt.Errorf("agent package %s: %w", pkg.ID, err)
	}

	bus := events.NewBus()

	credsStore := creds.New(cfg.Creds.AgeKeyPath, cfg.Creds.DotenvPath)

	models := make(map[string]llmclient.ProviderConfig, len(cfg.Models.Providers))
	for name, p := range cfg.Models.Providers {
		apiKey := p.Auth.APIKey
		if apiKey == "" {
			if resolved, err := credsStore.Get(p.Driver, name); err == nil {
				apiKey = resolved
			}
		}
		models[name] = llmclient.ProviderConfig{
			Driver: p.Driver, Model: p.Model, BaseURL: p.BaseURL,
			APIKey: apiKey, Token: p.Auth.Token,
			MaxTokens: p.MaxTokens, ContextWindow: p.ContextWindow, Timeout: p.Timeout.Value(),
		}
	}
	llmRegistry := llmclient.NewRegistry(cfg.Models.Default, models)

	defaultClient, err := llmRegistry.Default(runCtx)
	if err != nil {
		return fmt.Errorf("init default model: %w", err)
	}

	toolsCfg := tools.Config{
		PluginsDir:     cfg.Tools.PluginsDir,
		EnabledPlugins: cfg.Tools.EnabledPlugins,
		ShellTimeout:   cfg.Tools.ShellTimeout.Value(),
		WebSearch:      cfg.Tools.WebSearch,
	}
	for _, m := range cfg.Tools.MCPServers {
		toolsCfg.MCPServers = append(toolsCfg.MCPServers, tools.MCPServerConfig{
			ID: m.ID, Command: m.Command, Args: m.Args, Env: m.Env,
		})
	}
	toolRegistry := tools.NewCompositeRegistry(runCtx, bus, toolsCfg)
	defer toolRegistry.Close(runCtx)

	// Monitoring index + heartbeat (spec §6's Health Judge / Queen pattern).
	index, err := monitoring.OpenIndex(cfg.Monitoring.DBPath, bus)
	if err != nil {
		slog.Warn("monitoring index unavailable", "error", err)
	} else {
		defer index.Close()
	}
	hb := monitoring.NewHeartbeatWriter(pkg.ID, heartbeatPath())
	hb.Start()
	defer hb.Stop()

	var effectiveTools tools.Registry = toolRegistry
	if index != nil {
		effectiveTools = withMonitoringTools(toolRegistry, bus, index)
	}

	sessionsDir := config.SessionsDir()
	sessions := sessionstore.New(sessionsDir)

	sessionID := cmd.String("session")
	if sessionID == "" {
		sessionID = pkg.ID + "-" + time.Now().UTC().Format("20060102T150405")
	}
	if _, err := sessions.EnsureSession(sessionID); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}

	rt := runtime.New(runtime.Config{
		SessionID: sessionID,
		Sessions:  sessions,
		Bus:       bus,
		Tools:     effectiveTools,
		LLM:       defaultClient,
		Judge:     judge.NewImplicitJudge(),
		Limits: executor.Limits{
			MaxIterations:       cfg.MaxIterations,
			MaxToolCallsPerTurn: cfg.MaxToolCallsPerTurn,
		},
	})
	defer rt.Stop()

	if err := rt.AddGraph(primary.ID, primary.Graph, primary.Goal, primary.EntryPoints, primary.StorageSubpath); err != nil {
		return fmt.Errorf("register primary graph %s: %w", primary.ID, err)
	}
	for _, gf := range pkg.Graphs {
		if gf.ID == primary.ID {
			continue
		}
		if err := rt.AddGraph(gf.ID, gf.Graph, gf.Goal, gf.EntryPoints, gf.StorageSubpath); err != nil {
			return fmt.Errorf("register graph %s: %w", gf.ID, err)
		}
	}

	server := transport.NewServer(rt, cfg.Transport.HTTPAddr)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	slog.Info("agentrt running", "agent", pkg.ID, "session", sessionID, "addr", cfg.Transport.HTTPAddr)

	select {
	case <-runCtx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func heartbeatPath() string {
	return filepath.Join(config.RootPath(), "heartbeat.json")
}
