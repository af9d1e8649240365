// Package runtime implements AgentRuntime (spec §4.9): the process-level
// registry that owns every graph currently loaded for one agent session,
// routes manual triggers and client input to the right one, and bridges a
// secondary graph's fire to the primary session's SharedMemory.
package runtime

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/flowgraph-labs/agentrt/internal/checkpoint"
	"github.com/flowgraph-labs/agentrt/internal/events"
	"github.com/flowgraph-labs/agentrt/internal/executor"
	"github.com/flowgraph-labs/agentrt/internal/graph"
	"github.com/flowgraph-labs/agentrt/internal/judge"
	"github.com/flowgraph-labs/agentrt/internal/llmclient"
	"github.com/flowgraph-labs/agentrt/internal/memory"
	"github.com/flowgraph-labs/agentrt/internal/rterr"
	"github.com/flowgraph-labs/agentrt/internal/sessionstore"
	"github.com/flowgraph-labs/agentrt/internal/stream"
	"github.com/flowgraph-labs/agentrt/internal/tools"
	"github.com/flowgraph-labs/agentrt/internal/triggers"
)

// Registration is one graph's live state within a Runtime: its compiled
// executor, its trigger sources, its own session store (the root store for
// the primary graph, or a child store scoped under the primary session for
// an isolated secondary graph), and the ExecutionStreams currently running.
type Registration struct {
	GraphID     string
	Graph       *graph.GraphSpec
	Goal        *graph.Goal
	EntryPoints []*graph.EntryPointSpec
	Sessions    *sessionstore.Store
	Executor    stream.NodeExecutor
	Triggers    *triggers.Manager

	mu   sync.Mutex
	live map[string]*stream.ExecutionStream
}

// Config configures a Runtime.
type Config struct {
	// SessionID is the persistent primary session this runtime instance
	// serves; every fire on the primary graph runs against it unless a
	// fire explicitly resumes a different one.
	SessionID string
	Sessions  *sessionstore.Store
	Bus       *events.Bus
	Tools     tools.Registry
	LLM       llmclient.Client
	Judge     judge.Judge
	Limits    executor.Limits
}

// AgentRuntime owns every graph registered for one running agent, routes
// manual triggers and client input to the right one, and tracks which graph
// is currently "active" for client-facing output (spec §4.9).
type AgentRuntime struct {
	sessionID string
	sessions  *sessionstore.Store
	bus       *events.Bus
	toolsReg  tools.Registry
	llm       llmclient.Client
	judge     judge.Judge
	limits    executor.Limits

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.RWMutex
	primaryGraphID string
	activeGraphID  string
	graphs         map[string]*Registration
	userLastInput  time.Time
	execSeq        uint64
}

// New creates an AgentRuntime. The returned runtime has no graphs
// registered; call AddGraph to load the primary graph and any secondary
// ones.
func New(cfg Config) *AgentRuntime {
	ctx, cancel := context.WithCancel(context.Background())
	return &AgentRuntime{
		sessionID: cfg.SessionID,
		sessions:  cfg.Sessions,
		bus:       cfg.Bus,
		toolsReg:  cfg.Tools,
		llm:       cfg.LLM,
		judge:     cfg.Judge,
		limits:    cfg.Limits,
		ctx:       ctx,
		cancel:    cancel,
		graphs:    make(map[string]*Registration),
	}
}

// Stop halts every registered graph's trigger sources and cancels any
// background loops started by AddGraph.
func (rt *AgentRuntime) Stop() {
	rt.cancel()
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for _, reg := range rt.graphs {
		reg.Triggers.Stop()
	}
}

// AddGraph registers a new graph under the runtime. storageSubpath, when
// non-empty, scopes the graph's session store under the primary session as
// graphs/{storageSubpath} (spec §4.9's isolation for secondary graphs);
// empty means the graph shares the root session store directly — the shape
// the primary graph always uses. The first graph added becomes the
// primary and the initially active one.
func (rt *AgentRuntime) AddGraph(graphID string, g *graph.GraphSpec, goal *graph.Goal, entryPoints []*graph.EntryPointSpec, storageSubpath string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, exists := rt.graphs[graphID]; exists {
		return fmt.Errorf("runtime: graph %s already registered", graphID)
	}

	ge, err := executor.NewGraphExecutor(g, goal, rt.llm, rt.judge, rt.bus, rt.limits)
	if err != nil {
		return fmt.Errorf("runtime: add graph %s: %w", graphID, err)
	}

	sessions := rt.sessions
	if storageSubpath != "" {
		sessions = rt.sessions.ChildStoreFor(rt.sessionID, storageSubpath)
	}

	reg := &Registration{
		GraphID:     graphID,
		Graph:       g,
		Goal:        goal,
		EntryPoints: entryPoints,
		Sessions:    sessions,
		Executor:    ge,
		live:        make(map[string]*stream.ExecutionStream),
	}

	mgr, err := triggers.NewManager(graphID, entryPoints, rt.fireFunc(reg), rt.bus)
	if err != nil {
		return fmt.Errorf("runtime: add graph %s: %w", graphID, err)
	}
	reg.Triggers = mgr
	rt.graphs[graphID] = reg

	if rt.primaryGraphID == "" {
		rt.primaryGraphID = graphID
	}
	if rt.activeGraphID == "" {
		rt.activeGraphID = graphID
	}

	mgr.Start(rt.ctx)
	return nil
}

// RemoveGraph stops and unregisters a secondary graph. The primary graph
// cannot be removed.
func (rt *AgentRuntime) RemoveGraph(graphID string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if graphID == rt.primaryGraphID {
		return fmt.Errorf("runtime: cannot remove the primary graph %s", graphID)
	}
	reg, ok := rt.graphs[graphID]
	if !ok {
		return fmt.Errorf("runtime: graph %s not registered", graphID)
	}

	reg.Triggers.Stop()
	reg.mu.Lock()
	for _, st := range reg.live {
		st.Cancel()
	}
	reg.mu.Unlock()

	delete(rt.graphs, graphID)
	if rt.activeGraphID == graphID {
		rt.activeGraphID = rt.primaryGraphID
	}
	return nil
}

// PrimaryGraphID returns the ID of the first graph registered.
func (rt *AgentRuntime) PrimaryGraphID() string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.primaryGraphID
}

// ActiveGraphID returns the graph currently receiving client-facing focus.
func (rt *AgentRuntime) ActiveGraphID() string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.activeGraphID
}

// SetActiveGraphID changes which registered graph is active.
func (rt *AgentRuntime) SetActiveGraphID(graphID string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, ok := rt.graphs[graphID]; !ok {
		return fmt.Errorf("runtime: graph %s not registered", graphID)
	}
	rt.activeGraphID = graphID
	return nil
}

// UserIdleSeconds reports how long it has been since the last user-driven
// Trigger or InjectInput call; +Inf before the first one.
func (rt *AgentRuntime) UserIdleSeconds() float64 {
	rt.mu.RLock()
	last := rt.userLastInput
	rt.mu.RUnlock()
	if last.IsZero() {
		return math.Inf(1)
	}
	return time.Since(last).Seconds()
}

func (rt *AgentRuntime) touchUserInput() {
	rt.mu.Lock()
	rt.userLastInput = time.Now()
	rt.mu.Unlock()
}

// Trigger fires entryPointID on graphID (empty graphID means the active
// graph) with input, optionally resuming resumeSessionID. This is the
// manual-trigger path; it marks the user as active.
func (rt *AgentRuntime) Trigger(ctx context.Context, graphID, entryPointID string, input map[string]any, resumeSessionID string) error {
	reg, err := rt.resolveGraph(graphID)
	if err != nil {
		return err
	}
	src, ok := reg.Triggers.Source(entryPointID)
	if !ok {
		return fmt.Errorf("runtime: entry point %s not found on graph %s", entryPointID, reg.GraphID)
	}
	rt.touchUserInput()
	return src.Trigger(ctx, input, resumeSessionID)
}

func (rt *AgentRuntime) resolveGraph(graphID string) (*Registration, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if graphID == "" {
		graphID = rt.activeGraphID
	}
	reg, ok := rt.graphs[graphID]
	if !ok {
		return nil, fmt.Errorf("runtime: graph %s not registered", graphID)
	}
	return reg, nil
}

// InjectInput delivers content to nodeID's pending AwaitInput call. When
// graphID is empty, the active graph's running executions are tried first,
// then every other registered graph's, so a client that doesn't track which
// graph owns a paused node still reaches it.
func (rt *AgentRuntime) InjectInput(graphID, nodeID, content string) error {
	rt.touchUserInput()

	rt.mu.RLock()
	var candidates []*Registration
	if graphID != "" {
		if reg, ok := rt.graphs[graphID]; ok {
			candidates = append(candidates, reg)
		}
	} else {
		if reg, ok := rt.graphs[rt.activeGraphID]; ok {
			candidates = append(candidates, reg)
		}
		for id, reg := range rt.graphs {
			if id != rt.activeGraphID {
				candidates = append(candidates, reg)
			}
		}
	}
	rt.mu.RUnlock()

	if len(candidates) == 0 {
		return fmt.Errorf("runtime: graph %s not registered", graphID)
	}

	var lastErr error
	for _, reg := range candidates {
		if err := injectInto(reg, nodeID, content); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}

// Chat autoroutes a free-text message for sessionID (spec §6's
// `Chat(sessionId, message)`): if some live execution on the primary graph
// has a node paused awaiting input, the message is injected there;
// otherwise it triggers the primary graph's first manual entry point as a
// fresh turn resuming sessionID. Returns true when the message was
// injected into a paused node, false when it started a new trigger.
func (rt *AgentRuntime) Chat(ctx context.Context, sessionID, message string) (injected bool, err error) {
	rt.mu.RLock()
	reg, ok := rt.graphs[rt.primaryGraphID]
	rt.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("runtime: no primary graph registered")
	}

	if st, lookupErr := liveStreamForSession(reg, sessionID); lookupErr == nil {
		if nodes := st.AwaitingNodes(); len(nodes) > 0 {
			if err := st.InjectInput(nodes[0], message); err == nil {
				rt.touchUserInput()
				return true, nil
			}
		}
	}

	var manual *graph.EntryPointSpec
	for _, ep := range reg.EntryPoints {
		if ep.TriggerType == graph.TriggerManual {
			manual = ep
			break
		}
	}
	if manual == nil {
		return false, fmt.Errorf("runtime: primary graph %s has no manual entry point for chat", reg.GraphID)
	}

	input := map[string]any{"message": message}
	return false, rt.Trigger(ctx, reg.GraphID, manual.ID, input, sessionID)
}

// StopExecution cancels a running execution by its ID (spec §6's
// `Stop(sessionId, executionId)`); graphID empty means the active graph.
// Returns whether a live execution was found and cancelled.
func (rt *AgentRuntime) StopExecution(graphID, executionID string) (bool, error) {
	reg, err := rt.resolveGraph(graphID)
	if err != nil {
		return false, err
	}
	reg.mu.Lock()
	st, ok := reg.live[executionID]
	reg.mu.Unlock()
	if !ok {
		return false, nil
	}
	st.Cancel()
	return true, nil
}

// StopSession cancels every execution currently live on graphID (the active
// graph if empty) running against sessionID — the fallback for a caller
// that only tracked the session handle Trigger handed back, not the
// internally generated execution ID.
func (rt *AgentRuntime) StopSession(graphID, sessionID string) (bool, error) {
	reg, err := rt.resolveGraph(graphID)
	if err != nil {
		return false, err
	}
	matches := liveStreamsForSession(reg, sessionID)
	for _, st := range matches {
		st.Cancel()
	}
	return len(matches) > 0, nil
}

// Checkpoint snapshots the named live execution's SharedMemory and cursors
// under name — a checkpoint captures in-memory state, so this requires a
// currently running or paused execution for sessionID on graphID.
func (rt *AgentRuntime) Checkpoint(graphID, sessionID, name string) error {
	reg, err := rt.resolveGraph(graphID)
	if err != nil {
		return err
	}
	st, err := liveStreamForSession(reg, sessionID)
	if err != nil {
		return err
	}
	return st.Checkpoint(name)
}

// RestoreCheckpoint replaces the named live execution's SharedMemory and
// cursors with a previously saved Checkpoint.
func (rt *AgentRuntime) RestoreCheckpoint(graphID, sessionID, name string) error {
	reg, err := rt.resolveGraph(graphID)
	if err != nil {
		return err
	}
	st, err := liveStreamForSession(reg, sessionID)
	if err != nil {
		return err
	}
	return st.RestoreCheckpoint(name)
}

// ListCheckpoints returns the names of every checkpoint saved for sessionID
// on graphID, live execution or not (checkpoints persist to disk).
func (rt *AgentRuntime) ListCheckpoints(graphID, sessionID string) ([]string, error) {
	reg, err := rt.resolveGraph(graphID)
	if err != nil {
		return nil, err
	}
	return checkpointStoreFor(reg, sessionID).List()
}

// WebhookHandler returns the http.Handler serving graphID's webhook entry
// points (spec §4.8), for a transport layer to mount at its own path.
func (rt *AgentRuntime) WebhookHandler(graphID string) (http.Handler, error) {
	reg, err := rt.resolveGraph(graphID)
	if err != nil {
		return nil, err
	}
	return reg.Triggers.WebhookHandler(), nil
}

// Bus returns the runtime's event bus, for a transport layer to serve the
// Subscribe RPC (spec §6) directly against.
func (rt *AgentRuntime) Bus() *events.Bus { return rt.bus }

// GraphIDs returns every registered graph's ID, primary first.
func (rt *AgentRuntime) GraphIDs() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	ids := make([]string, 0, len(rt.graphs))
	ids = append(ids, rt.primaryGraphID)
	for id := range rt.graphs {
		if id != rt.primaryGraphID {
			ids = append(ids, id)
		}
	}
	return ids
}

func liveStreamsForSession(reg *Registration, sessionID string) []*stream.ExecutionStream {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var matches []*stream.ExecutionStream
	for _, st := range reg.live {
		if st.SessionID() == sessionID {
			matches = append(matches, st)
		}
	}
	return matches
}

func liveStreamForSession(reg *Registration, sessionID string) (*stream.ExecutionStream, error) {
	matches := liveStreamsForSession(reg, sessionID)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no live execution for session %s on graph %s", rterr.ErrSessionNotFound, sessionID, reg.GraphID)
	}
	return matches[0], nil
}

func injectInto(reg *Registration, nodeID, content string) error {
	reg.mu.Lock()
	streams := make([]*stream.ExecutionStream, 0, len(reg.live))
	for _, st := range reg.live {
		streams = append(streams, st)
	}
	reg.mu.Unlock()

	for _, st := range streams {
		if err := st.InjectInput(nodeID, content); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: no running execution on graph %s is awaiting node %s", rterr.ErrStreamBusy, reg.GraphID, nodeID)
}

// fireFunc builds the triggers.FireFunc the runtime wires into reg's
// Manager: it resolves session identity, seeds SharedMemory (bridging from
// the primary session for an isolated secondary graph), runs the stream,
// and persists the resulting memory back to reg.Sessions.
func (rt *AgentRuntime) fireFunc(reg *Registration) triggers.FireFunc {
	return func(ctx context.Context, ep *graph.EntryPointSpec, input map[string]any, resumeSessionID string) error {
		sessionID := resumeSessionID
		if sessionID == "" {
			if ep.TriggerType == graph.TriggerTimer {
				// A fixed, reused session so a continuous-mode node's thread
				// survives across ticks (spec §4.8).
				sessionID = reg.GraphID + "-" + ep.ID
			} else {
				sessionID = uuid.NewString()
			}
		}
		if _, err := reg.Sessions.EnsureSession(sessionID); err != nil {
			return fmt.Errorf("runtime: ensure session %s: %w", sessionID, err)
		}

		mem := memory.New()
		if prior, err := reg.Sessions.ReadState(sessionID); err == nil && prior != nil {
			mem.SetAll(prior.Memory)
		}
		if reg.GraphID != rt.primaryGraphID && ep.IsolationLevel == graph.IsolationIsolated {
			if bridge, err := rt.sessions.ReadState(rt.sessionID); err == nil && bridge != nil {
				node, ok := reg.Graph.Node(ep.EntryNode)
				if ok {
					bridged := memory.FromSnapshot(bridge.Memory).Subset(node.InputKeys)
					mem.SetAll(bridged)
				}
			}
		}
		mem.SetAll(input)

		executionID := fmt.Sprintf("%s-%d", sessionID, atomic.AddUint64(&rt.execSeq, 1))
		cps := checkpointStoreFor(reg, sessionID)

		st := stream.New(stream.Config{
			StreamID:    reg.GraphID + ":" + ep.ID,
			GraphID:     reg.GraphID,
			ExecutionID: executionID,
			SessionID:   sessionID,
			Graph:       reg.Graph,
			Node:        reg.Executor,
			Sessions:    reg.Sessions,
			Memory:      mem,
			Tools:       rt.toolsReg,
			Bus:         rt.bus,
			Checkpoints: cps,
		})

		reg.mu.Lock()
		reg.live[executionID] = st
		reg.mu.Unlock()
		defer func() {
			reg.mu.Lock()
			delete(reg.live, executionID)
			reg.mu.Unlock()
		}()

		runErr := st.Execute(ctx, ep.EntryNode)

		if err := reg.Sessions.WriteState(sessionID, &sessionstore.State{
			SessionID: sessionID,
			Memory:    mem.Snapshot(),
		}); err != nil {
			if runErr == nil {
				return fmt.Errorf("runtime: persist session %s: %w", sessionID, err)
			}
		}
		return runErr
	}
}

// checkpointStoreFor returns the checkpoint.Store for one session under
// reg's session store.
func checkpointStoreFor(reg *Registration, sessionID string) *checkpoint.Store {
	return checkpoint.New(filepath.Join(reg.Sessions.Root(sessionID), "checkpoints"))
}
