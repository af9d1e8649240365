package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/flowgraph-labs/agentrt/internal/monitoring"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show whether an agentrt process is running",
		Action: func(_ context.Context, _ *cli.Command) error {
			status, hb, err := monitoring.CheckLiveness(heartbeatPath(), 2*time.Minute)
			if err != nil {
				return fmt.Errorf("check heartbeat: %w", err)
			}

			switch status {
			case monitoring.LivenessAlive:
				fmt.Printf("agentrt: ALIVE (agent %s, last heartbeat %s ago)\n",
					hb.AgentID, time.Since(hb.Timestamp).Truncate(time.Second))
			case monitoring.LivenessStale:
				fmt.Printf("agentrt: STALE (agent %s, last heartbeat %s ago)\n",
					hb.AgentID, time.Since(hb.Timestamp).Truncate(time.Second))
			case monitoring.LivenessDead:
				fmt.Println("agentrt: NOT RUNNING")
			}

			return nil
		},
	}
}
