// Command agentrtui is a standalone terminal client for a running agentrt
// transport server: it subscribes to the event bus and renders a live
// transcript, accepting chat input on stdin.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/flowgraph-labs/agentrt/clients/tui"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:18420/api/ws", "agentrt transport WebSocket URL")
	session := flag.String("session", "", "session ID to watch/drive")
	flag.Parse()

	if *session == "" {
		fmt.Fprintln(os.Stderr, "usage: agentrtui -session <id> [-url ws://host:port/api/ws]")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := tui.Run(ctx, *url, *session); err != nil {
		fmt.Fprintln(os.Stderr, "agentrtui:", err)
		os.Exit(1)
	}
}
