package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/flowgraph-labs/agentrt/internal/events"
	"github.com/flowgraph-labs/agentrt/internal/runtime"
)

// Hub serves the Subscribe RPC (spec §6) over WebSocket and dispatches the
// other request/response RPCs so a single connection can both drive an
// agent and watch it.
type Hub struct {
	rt *runtime.AgentRuntime

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

func newHub(rt *runtime.AgentRuntime) *Hub {
	return &Hub{rt: rt, clients: make(map[*wsClient]struct{})}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every WS client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
	}
}

// ServeWS upgrades the connection and runs the client's read/write pumps
// until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, 256), hub: h}
	h.register(c)

	ctx := r.Context()
	go c.writePump(ctx)
	c.readPump(ctx)
}

// wsClient is one connected WebSocket client, optionally subscribed to the
// event bus via an active Filter.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	unsubscribe func()
}

func (c *wsClient) readPump(ctx context.Context) {
	defer func() {
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Error("ws unmarshal frame", "error", err)
			continue
		}
		if frame.Type == FrameTypeRequest {
			c.handleRequest(ctx, frame)
		}
	}
}

func (c *wsClient) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *wsClient) handleRequest(ctx context.Context, frame Frame) {
	switch Method(frame.Method) {
	case MethodSubscribe:
		c.handleSubscribe(frame)
	case MethodTrigger:
		c.handleTrigger(ctx, frame)
	case MethodInjectInput:
		c.handleInjectInput(frame)
	case MethodChat:
		c.handleChat(ctx, frame)
	case MethodStop:
		c.handleStop(frame)
	case MethodCheckpoint:
		c.handleCheckpoint(frame)
	case MethodRestoreCheckpoint:
		c.handleRestoreCheckpoint(frame)
	case MethodListCheckpoints:
		c.handleListCheckpoints(frame)
	default:
		c.sendError(frame.ID, "unknown method: "+frame.Method)
	}
}

// handleSubscribe registers a bus subscription matching the request's
// Filter and forwards every matching AgentEvent as an event Frame for the
// life of the connection; a second subscribe call replaces the first.
func (c *wsClient) handleSubscribe(frame Frame) {
	var params struct {
		Type            string `json:"type"`
		Graph           string `json:"graph"`
		Stream          string `json:"stream"`
		Node            string `json:"node"`
		ExcludeOwnGraph string `json:"excludeOwnGraph"`
	}
	if frame.Params != nil {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.sendError(frame.ID, "invalid params")
			return
		}
	}

	if c.unsubscribe != nil {
		c.unsubscribe()
	}

	filter := events.Filter{
		Type:            events.EventType(params.Type),
		Graph:           params.Graph,
		Stream:          params.Stream,
		Node:            params.Node,
		ExcludeOwnGraph: params.ExcludeOwnGraph,
	}
	subID, ch := c.hub.rt.Bus().Subscribe(filter)
	c.unsubscribe = func() { c.hub.rt.Bus().Unsubscribe(subID) }

	go func() {
		for e := range ch {
			f, err := NewEventFrame(string(e.Type), e)
			if err != nil {
				continue
			}
			data, err := MarshalFrame(f)
			if err != nil {
				continue
			}
			select {
			case c.send <- data:
			default:
			}
		}
	}()

	c.sendOK(frame.ID, map[string]string{"subscriptionId": subID})
}

func (c *wsClient) handleTrigger(ctx context.Context, frame Frame) {
	var params triggerRequest
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		c.sendError(frame.ID, "invalid params")
		return
	}
	if err := c.hub.rt.Trigger(ctx, params.GraphID, params.EntryPointID, params.Input, params.SessionID); err != nil {
		c.sendError(frame.ID, err.Error())
		return
	}
	c.sendOK(frame.ID, map[string]string{"sessionId": params.SessionID})
}

func (c *wsClient) handleInjectInput(frame Frame) {
	var params injectRequest
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		c.sendError(frame.ID, "invalid params")
		return
	}
	if err := c.hub.rt.InjectInput(params.GraphID, params.NodeID, params.Content); err != nil {
		c.sendError(frame.ID, err.Error())
		return
	}
	c.sendOK(frame.ID, map[string]string{"status": "ack"})
}

func (c *wsClient) handleChat(ctx context.Context, frame Frame) {
	var params chatRequest
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		c.sendError(frame.ID, "invalid params")
		return
	}
	injected, err := c.hub.rt.Chat(ctx, params.SessionID, params.Message)
	if err != nil {
		c.sendError(frame.ID, err.Error())
		return
	}
	c.sendOK(frame.ID, map[string]bool{"injected": injected})
}

func (c *wsClient) handleStop(frame Frame) {
	var params stopRequest
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		c.sendError(frame.ID, "invalid params")
		return
	}
	var (
		stopped bool
		err     error
	)
	if params.ExecutionID != "" {
		stopped, err = c.hub.rt.StopExecution(params.GraphID, params.ExecutionID)
	} else {
		stopped, err = c.hub.rt.StopSession(params.GraphID, params.SessionID)
	}
	if err != nil {
		c.sendError(frame.ID, err.Error())
		return
	}
	c.sendOK(frame.ID, map[string]bool{"stopped": stopped})
}

func (c *wsClient) handleCheckpoint(frame Frame) {
	var params checkpointRequest
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		c.sendError(frame.ID, "invalid params")
		return
	}
	if err := c.hub.rt.Checkpoint(params.GraphID, params.SessionID, params.Name); err != nil {
		c.sendError(frame.ID, err.Error())
		return
	}
	c.sendOK(frame.ID, map[string]string{"name": params.Name})
}

func (c *wsClient) handleRestoreCheckpoint(frame Frame) {
	var params checkpointRequest
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		c.sendError(frame.ID, "invalid params")
		return
	}
	if err := c.hub.rt.RestoreCheckpoint(params.GraphID, params.SessionID, params.Name); err != nil {
		c.sendError(frame.ID, err.Error())
		return
	}
	c.sendOK(frame.ID, map[string]string{"name": params.Name, "status": "restored"})
}

func (c *wsClient) handleListCheckpoints(frame Frame) {
	var params struct {
		GraphID   string `json:"graphId"`
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		c.sendError(frame.ID, "invalid params")
		return
	}
	names, err := c.hub.rt.ListCheckpoints(params.GraphID, params.SessionID)
	if err != nil {
		c.sendError(frame.ID, err.Error())
		return
	}
	c.sendOK(frame.ID, names)
}

func (c *wsClient) sendOK(id string, payload any) {
	f, err := NewResponseFrame(id, true, payload, "")
	if err != nil {
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *wsClient) sendError(id string, errMsg string) {
	f, err := NewResponseFrame(id, false, nil, errMsg)
	if err != nil {
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
