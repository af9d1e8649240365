package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/flowgraph-labs/agentrt/clients/rtws"
	"github.com/flowgraph-labs/agentrt/internal/transport"
)

var urlFlag = &cli.StringFlag{
	Name:  "url",
	Usage: "agentrt transport WebSocket URL",
	Value: "ws://127.0.0.1:18420/api/ws",
}

// NewTriggerCommand returns the trigger subcommand: start a graph from one
// of its entry points (spec §6's Trigger RPC).
func NewTriggerCommand() *cli.Command {
	return &cli.Command{
		Name:      "trigger",
		Usage:     "Trigger a graph's entry point",
		ArgsUsage: "<graph-id> <entry-point-id>",
		Flags: []cli.Flag{
			urlFlag,
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Session ID (empty = a fresh one)"},
			&cli.StringFlag{Name: "input", Usage: "JSON-encoded input payload"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			graphID, entryPointID := cmd.Args().Get(0), cmd.Args().Get(1)
			if graphID == "" || entryPointID == "" {
				return fmt.Errorf("usage: agentrt trigger <graph-id> <entry-point-id>")
			}
			var input map[string]any
			if raw := cmd.String("input"); raw != "" {
				if err := json.Unmarshal([]byte(raw), &input); err != nil {
					return fmt.Errorf("parse --input: %w", err)
				}
			}
			return dialAndCall(ctx, cmd.String("url"), string(transport.MethodTrigger), map[string]any{
				"graphId": graphID, "entryPointId": entryPointID, "sessionId": cmd.String("session"), "input": input,
			})
		},
	}
}

// NewInjectCommand returns the inject subcommand: deliver input to a node
// blocked on RequestInput (spec §6's InjectInput RPC).
func NewInjectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inject",
		Usage:     "Inject input into a node waiting on human input",
		ArgsUsage: "<graph-id> <node-id> <content>",
		Flags:     []cli.Flag{urlFlag},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			graphID, nodeID, content := cmd.Args().Get(0), cmd.Args().Get(1), cmd.Args().Get(2)
			if graphID == "" || nodeID == "" || content == "" {
				return fmt.Errorf("usage: agentrt inject <graph-id> <node-id> <content>")
			}
			return dialAndDo(ctx, cmd.String("url"), func(client *rtws.Client) (transport.Frame, error) {
				return client.InjectInput(graphID, nodeID, content)
			})
		},
	}
}

// NewStopCommand returns the stop subcommand: cancel a running execution or
// every execution in a session (spec §6's Stop RPC).
func NewStopCommand() *cli.Command {
	return &cli.Command{
		Name:      "stop",
		Usage:     "Stop a running execution or session",
		ArgsUsage: "<graph-id>",
		Flags: []cli.Flag{
			urlFlag,
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Session ID (stops every execution in it)"},
			&cli.StringFlag{Name: "execution", Aliases: []string{"e"}, Usage: "Execution ID (stops just that run)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			graphID := cmd.Args().First()
			if graphID == "" || (cmd.String("session") == "" && cmd.String("execution") == "") {
				return fmt.Errorf("usage: agentrt stop <graph-id> --session <id> | --execution <id>")
			}
			session, execution := cmd.String("session"), cmd.String("execution")
			return dialAndDo(ctx, cmd.String("url"), func(client *rtws.Client) (transport.Frame, error) {
				return client.Stop(graphID, session, execution)
			})
		},
	}
}

// NewCheckpointCommand returns the checkpoint subcommand group: save,
// restore, and list named snapshots of a session's state (spec §6).
func NewCheckpointCommand() *cli.Command {
	return &cli.Command{
		Name:  "checkpoint",
		Usage: "Save, restore, or list session checkpoints",
		Commands: []*cli.Command{
			{
				Name:      "save",
				Usage:     "Snapshot a session's state under a name",
				ArgsUsage: "<graph-id> <session-id> <name>",
				Flags:     []cli.Flag{urlFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					graphID, sessionID, name := cmd.Args().Get(0), cmd.Args().Get(1), cmd.Args().Get(2)
					if graphID == "" || sessionID == "" || name == "" {
						return fmt.Errorf("usage: agentrt checkpoint save <graph-id> <session-id> <name>")
					}
					return dialAndDo(ctx, cmd.String("url"), func(client *rtws.Client) (transport.Frame, error) {
						return client.Checkpoint(graphID, sessionID, name)
					})
				},
			},
			{
				Name:      "restore",
				Usage:     "Roll a session back to a named checkpoint",
				ArgsUsage: "<graph-id> <session-id> <name>",
				Flags:     []cli.Flag{urlFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					graphID, sessionID, name := cmd.Args().Get(0), cmd.Args().Get(1), cmd.Args().Get(2)
					if graphID == "" || sessionID == "" || name == "" {
						return fmt.Errorf("usage: agentrt checkpoint restore <graph-id> <session-id> <name>")
					}
					return dialAndDo(ctx, cmd.String("url"), func(client *rtws.Client) (transport.Frame, error) {
						return client.RestoreCheckpoint(graphID, sessionID, name)
					})
				},
			},
			{
				Name:      "list",
				Usage:     "List checkpoint names for a session",
				ArgsUsage: "<graph-id> <session-id>",
				Flags:     []cli.Flag{urlFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					graphID, sessionID := cmd.Args().Get(0), cmd.Args().Get(1)
					if graphID == "" || sessionID == "" {
						return fmt.Errorf("usage: agentrt checkpoint list <graph-id> <session-id>")
					}
					return dialAndDo(ctx, cmd.String("url"), func(client *rtws.Client) (transport.Frame, error) {
						return client.ListCheckpoints(graphID, sessionID)
					})
				},
			},
		},
	}
}

// dialAndCall opens a short-lived connection, issues one RPC, prints its
// response payload, and closes. Every control subcommand is a one-shot.
func dialAndCall(ctx context.Context, url, method string, params any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := rtws.Dial(ctx, url)
	if err != nil {
		return fmt.Errorf("connect to agentrt: %w", err)
	}
	defer client.Close()

	frame, err := client.Call(method, params)
	if err != nil {
		return err
	}
	if len(frame.Payload) > 0 {
		fmt.Fprintln(os.Stdout, string(frame.Payload))
	}
	return nil
}

// dialAndDo opens a short-lived connection, runs a single typed RPC via fn,
// prints its response payload, and closes. Used by subcommands with a named
// rtws.Client method instead of a raw method/params pair.
func dialAndDo(ctx context.Context, url string, fn func(*rtws.Client) (transport.Frame, error)) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := rtws.Dial(ctx, url)
	if err != nil {
		return fmt.Errorf("connect to agentrt: %w", err)
	}
	defer client.Close()

	frame, err := fn(client)
	if err != nil {
		return err
	}
	if len(frame.Payload) > 0 {
		fmt.Fprintln(os.Stdout, string(frame.Payload))
	}
	return nil
}
