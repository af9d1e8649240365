// Package transport exposes AgentRuntime's RPC surface (spec §6) over HTTP
// and WebSocket: plain request/response RPCs as chi routes, the Subscribe
// event stream and the autorouting Chat RPC over a WS hub, and each
// registered graph's webhook entry points mounted under their own path.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flowgraph-labs/agentrt/internal/runtime"
)

// Server is the agentrt transport: chi router plus WS hub, both backed by
// one AgentRuntime.
type Server struct {
	httpServer *http.Server
	hub        *Hub
	rt         *runtime.AgentRuntime
	addr       string
}

// NewServer builds a Server bound to rt, listening at addr ("host:port").
func NewServer(rt *runtime.AgentRuntime, addr string) *Server {
	hub := newHub(rt)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{hub: hub, rt: rt, addr: addr}

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)

	r.Post("/api/trigger", s.handleTrigger)
	r.Post("/api/inject", s.handleInjectInput)
	r.Post("/api/chat", s.handleChat)
	r.Post("/api/stop", s.handleStop)
	r.Post("/api/checkpoint", s.handleCheckpoint)
	r.Post("/api/checkpoint/restore", s.handleRestoreCheckpoint)
	r.Get("/api/checkpoint", s.handleListCheckpoints)

	for _, graphID := range rt.GraphIDs() {
		if graphID == "" {
			continue
		}
		handler, err := rt.WebhookHandler(graphID)
		if err != nil {
			continue
		}
		r.Mount(fmt.Sprintf("/webhooks/%s", graphID), handler)
	}

	s.httpServer = &http.Server{Addr: addr, Handler: r}
	return s
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("agentrt transport listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server and closes every WS client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type triggerRequest struct {
	GraphID      string         `json:"graphId"`
	EntryPointID string         `json:"entryPointId"`
	Input        map[string]any `json:"input"`
	SessionID    string         `json:"sessionId"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rt.Trigger(r.Context(), req.GraphID, req.EntryPointID, req.Input, req.SessionID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": req.SessionID})
}

type injectRequest struct {
	GraphID string `json:"graphId"`
	NodeID  string `json:"nodeId"`
	Content string `json:"content"`
}

func (s *Server) handleInjectInput(w http.ResponseWriter, r *http.Request) {
	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rt.InjectInput(req.GraphID, req.NodeID, req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ack"})
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	injected, err := s.rt.Chat(r.Context(), req.SessionID, req.Message)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"injected": injected})
}

type stopRequest struct {
	GraphID     string `json:"graphId"`
	SessionID   string `json:"sessionId"`
	ExecutionID string `json:"executionId"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var (
		stopped bool
		err     error
	)
	if req.ExecutionID != "" {
		stopped, err = s.rt.StopExecution(req.GraphID, req.ExecutionID)
	} else {
		stopped, err = s.rt.StopSession(req.GraphID, req.SessionID)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

type checkpointRequest struct {
	GraphID   string `json:"graphId"`
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req checkpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rt.Checkpoint(req.GraphID, req.SessionID, req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": req.Name})
}

func (s *Server) handleRestoreCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req checkpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rt.RestoreCheckpoint(req.GraphID, req.SessionID, req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": req.Name, "status": "restored"})
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	graphID := r.URL.Query().Get("graphId")
	sessionID := r.URL.Query().Get("sessionId")
	names, err := s.rt.ListCheckpoints(graphID, sessionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
