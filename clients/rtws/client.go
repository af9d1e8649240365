// Package rtws provides a WebSocket client for the runtime's RPC surface
// (internal/transport), shared by the CLI's ask/chat command and the TUI.
package rtws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/flowgraph-labs/agentrt/internal/events"
	"github.com/flowgraph-labs/agentrt/internal/transport"
)

// Client is a WebSocket client for the runtime's /api/ws endpoint.
type Client struct {
	conn   *websocket.Conn
	reqSeq uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// Dial connects to the runtime's WebSocket endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	clientCtx, cancel := context.WithCancel(ctx)
	return &Client{conn: conn, ctx: clientCtx, cancel: cancel}, nil
}

func (c *Client) nextID() string {
	seq := atomic.AddUint64(&c.reqSeq, 1)
	return fmt.Sprintf("req-%d", seq)
}

func (c *Client) send(method string, params any) (string, error) {
	id := c.nextID()
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return "", fmt.Errorf("marshal %s params: %w", method, err)
		}
		raw = data
	}
	frame := transport.Frame{Type: transport.FrameTypeRequest, ID: id, Method: method, Params: raw}
	data, err := transport.MarshalFrame(frame)
	if err != nil {
		return "", fmt.Errorf("marshal %s frame: %w", method, err)
	}
	return id, c.conn.Write(c.ctx, websocket.MessageText, data)
}

// Subscribe sends a subscribe request for events matching filter. The
// caller should read frames afterwards and watch for FrameTypeEvent.
func (c *Client) Subscribe(filter events.Filter) error {
	_, err := c.send(string(transport.MethodSubscribe), map[string]string{
		"type": string(filter.Type), "graph": filter.Graph, "stream": filter.Stream,
		"node": filter.Node, "excludeOwnGraph": filter.ExcludeOwnGraph,
	})
	return err
}

// Chat sends a chat RPC (spec §6's autorouting entry point).
func (c *Client) Chat(sessionID, message string) error {
	_, err := c.send(string(transport.MethodChat), map[string]string{
		"sessionId": sessionID, "message": message,
	})
	return err
}

// Trigger sends a trigger RPC against a graph's entry point.
func (c *Client) Trigger(graphID, entryPointID, sessionID string, input map[string]any) error {
	_, err := c.send(string(transport.MethodTrigger), map[string]any{
		"graphId": graphID, "entryPointId": entryPointID, "sessionId": sessionID, "input": input,
	})
	return err
}

// InjectInput delivers human input to a graph node blocked on RequestInput
// and waits for the runtime's acknowledgement.
func (c *Client) InjectInput(graphID, nodeID, content string) (transport.Frame, error) {
	return c.Call(string(transport.MethodInjectInput), map[string]string{
		"graphId": graphID, "nodeId": nodeID, "content": content,
	})
}

// Stop cancels a running execution (by executionID) or every execution in a
// session (by sessionID, leaving executionID empty), waiting for the
// runtime's stopped/not-stopped response.
func (c *Client) Stop(graphID, sessionID, executionID string) (transport.Frame, error) {
	return c.Call(string(transport.MethodStop), map[string]string{
		"graphId": graphID, "sessionId": sessionID, "executionId": executionID,
	})
}

// Checkpoint snapshots a session's conversation/graph state under name and
// waits for confirmation.
func (c *Client) Checkpoint(graphID, sessionID, name string) (transport.Frame, error) {
	return c.Call(string(transport.MethodCheckpoint), map[string]string{
		"graphId": graphID, "sessionId": sessionID, "name": name,
	})
}

// RestoreCheckpoint rolls a session back to a named checkpoint and waits for
// confirmation.
func (c *Client) RestoreCheckpoint(graphID, sessionID, name string) (transport.Frame, error) {
	return c.Call(string(transport.MethodRestoreCheckpoint), map[string]string{
		"graphId": graphID, "sessionId": sessionID, "name": name,
	})
}

// ListCheckpoints requests the checkpoint names stored for a session.
func (c *Client) ListCheckpoints(graphID, sessionID string) (transport.Frame, error) {
	return c.Call(string(transport.MethodListCheckpoints), map[string]string{
		"graphId": graphID, "sessionId": sessionID,
	})
}

// ReadFrame reads the next frame from the connection.
func (c *Client) ReadFrame() (transport.Frame, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return transport.Frame{}, err
	}
	return transport.UnmarshalFrame(data)
}

// Call sends a request and blocks until the matching response frame arrives,
// skipping any event frames pushed in the meantime. It is meant for one-shot
// CLI commands that issue a single RPC and need its result, not for the
// long-lived subscribe-and-render loop the TUI and ask use.
func (c *Client) Call(method string, params any) (transport.Frame, error) {
	id, err := c.send(method, params)
	if err != nil {
		return transport.Frame{}, err
	}
	for {
		frame, err := c.ReadFrame()
		if err != nil {
			return transport.Frame{}, err
		}
		if frame.Type == transport.FrameTypeResponse && frame.ID == id {
			if frame.OK != nil && !*frame.OK {
				return frame, fmt.Errorf("%s: %s", method, frame.Error)
			}
			return frame, nil
		}
	}
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
