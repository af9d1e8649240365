package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/flowgraph-labs/agentrt/clients/rtws"
	"github.com/flowgraph-labs/agentrt/internal/events"
)

// NewAskCommand returns the ask subcommand.
func NewAskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Send a message to a session and print its assistant output",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "agentrt transport WebSocket URL",
				Value: "ws://127.0.0.1:18420/api/ws",
			},
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Session ID to resume",
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Response timeout in seconds",
				Value: 120,
			},
		},
		Action: runAsk,
	}
}

func runAsk(_ context.Context, cmd *cli.Command) error {
	message := cmd.Args().First()
	if message == "" {
		return fmt.Errorf("usage: agentrt ask <message> --session <id>")
	}
	sessionID := cmd.String("session")
	if sessionID == "" {
		return fmt.Errorf("usage: agentrt ask <message> --session <id>")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cmd.Int("timeout"))*time.Second)
	defer cancel()

	client, err := rtws.Dial(ctx, cmd.String("url"))
	if err != nil {
		return fmt.Errorf("connect to agentrt: %w", err)
	}
	defer client.Close()

	if err := client.Subscribe(events.Filter{Stream: sessionID}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := client.Chat(sessionID, message); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("timeout waiting for response")
			}
			return fmt.Errorf("read frame: %w", err)
		}

		if frame.Event == "" {
			continue
		}

		var e events.AgentEvent
		if err := json.Unmarshal(frame.Payload, &e); err != nil {
			continue
		}

		switch e.Type {
		case events.ClientOutputDelta:
			if delta, ok := e.Payload["delta"].(string); ok {
				fmt.Fprint(os.Stdout, delta)
			}
		case events.ExecutionCompleted:
			fmt.Fprintln(os.Stdout)
			return nil
		case events.ExecutionFailed:
			return fmt.Errorf("execution failed: %v", e.Payload["error"])
		}
	}
}
