package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// LivenessStatus is whether an AgentRuntime process is still writing
// heartbeats, or has gone stale/missing.
type LivenessStatus string

const (
	LivenessAlive LivenessStatus = "alive"
	LivenessStale LivenessStatus = "stale"
	LivenessDead  LivenessStatus = "dead"
)

// Heartbeat is the data a HeartbeatWriter writes to disk for one agent
// process. A Health Judge reads it before filing a ticket, so a process
// that has simply been killed isn't mistaken for a node stuck in a retry
// loop (the two need different responses: restart vs. escalate).
type Heartbeat struct {
	AgentID   string    `json:"agentId"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// HeartbeatWriter periodically writes a heartbeat file to disk for one
// AgentRuntime process.
type HeartbeatWriter struct {
	agentID  string
	path     string
	interval time.Duration
	started  time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeatWriter creates a writer for agentID that writes to path every
// 30s until Stop is called.
func NewHeartbeatWriter(agentID, path string) *HeartbeatWriter {
	return &HeartbeatWriter{
		agentID:  agentID,
		path:     path,
		interval: 30 * time.Second,
	}
}

// Start begins writing heartbeat files in a background goroutine. A second
// call while already running is a no-op.
func (w *HeartbeatWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return
	}

	w.started = time.Now()
	w.done = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.write()

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.write()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops writing and removes the heartbeat file.
func (w *HeartbeatWriter) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return
	}

	w.cancel()
	<-w.done
	w.cancel = nil

	os.Remove(w.path)
}

func (w *HeartbeatWriter) write() {
	hb := Heartbeat{
		AgentID:   w.agentID,
		PID:       os.Getpid(),
		StartedAt: w.started,
		Timestamp: time.Now(),
		Uptime:    time.Since(w.started).Truncate(time.Second).String(),
	}

	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		return
	}

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	os.Rename(tmp, w.path)
}

// CheckLiveness reads the heartbeat file at path and classifies it as
// alive, stale, or dead (missing). maxAge bounds how old a heartbeat can be
// before it's considered stale rather than alive.
func CheckLiveness(path string, maxAge time.Duration) (LivenessStatus, *Heartbeat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return LivenessDead, nil, nil
		}
		return LivenessDead, nil, fmt.Errorf("monitoring: read heartbeat: %w", err)
	}

	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return LivenessDead, nil, fmt.Errorf("monitoring: unmarshal heartbeat: %w", err)
	}

	if time.Since(hb.Timestamp) > maxAge {
		return LivenessStale, &hb, nil
	}

	return LivenessAlive, &hb, nil
}
