package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/flowgraph-labs/agentrt/clients/tui"
)

// NewTUICommand returns the tui subcommand.
func NewTUICommand() *cli.Command {
	return &cli.Command{
		Name:  "tui",
		Usage: "Launch the interactive terminal UI against a running agentrt server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "agentrt transport WebSocket URL",
				Value: "ws://127.0.0.1:18420/api/ws",
			},
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Session ID to watch/drive",
			},
		},
		Action: runTUI,
	}
}

func runTUI(ctx context.Context, cmd *cli.Command) error {
	sessionID := cmd.String("session")
	if sessionID == "" {
		return fmt.Errorf("usage: agentrt tui --session <id>")
	}
	return tui.Run(ctx, cmd.String("url"), sessionID)
}
