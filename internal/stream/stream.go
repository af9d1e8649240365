// Package stream implements ExecutionStream (spec §4.7): the orchestrator
// that drives one graph execution across repeated GraphExecutor.Visit calls
// — spawning goroutines for fan-out targets, joining at nodes with more than
// one forward predecessor, counting per-node visits for the feedback-loop
// cap, and routing client input injection to whichever node is paused
// waiting for it.
package stream

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/flowgraph-labs/agentrt/internal/accumulator"
	"github.com/flowgraph-labs/agentrt/internal/checkpoint"
	"github.com/flowgraph-labs/agentrt/internal/conversation"
	"github.com/flowgraph-labs/agentrt/internal/events"
	"github.com/flowgraph-labs/agentrt/internal/executor"
	"github.com/flowgraph-labs/agentrt/internal/graph"
	"github.com/flowgraph-labs/agentrt/internal/memory"
	"github.com/flowgraph-labs/agentrt/internal/rterr"
	"github.com/flowgraph-labs/agentrt/internal/sessionstore"
	"github.com/flowgraph-labs/agentrt/internal/tools"
)

// NodeExecutor is the narrow collaborator ExecutionStream drives per node
// visit; *executor.GraphExecutor satisfies it.
type NodeExecutor interface {
	Visit(ctx context.Context, in executor.VisitInput) (executor.VisitResult, error)
}

// Config configures one ExecutionStream.
type Config struct {
	StreamID    string
	GraphID     string
	ExecutionID string
	SessionID   string

	Graph       *graph.GraphSpec
	Node        NodeExecutor
	Sessions    *sessionstore.Store
	Memory      *memory.SharedMemory
	Tools       tools.Registry
	Bus         *events.Bus
	Checkpoints *checkpoint.Store
}

// ExecutionStream drives one end-to-end run of a GraphSpec from an entry
// node. One instance handles exactly one execution; a new stream must be
// created for each new run.
type ExecutionStream struct {
	id          string
	graphID     string
	executionID string
	sessionID   string

	g           *graph.GraphSpec
	node        NodeExecutor
	sessions    *sessionstore.Store
	mem         *memory.SharedMemory
	toolsReg    tools.Registry
	bus         *events.Bus
	checkpoints *checkpoint.Store

	// requiredSources[nodeID] is the set of distinct source node IDs of
	// every forward edge targeting nodeID; a join node only fires once every
	// one of its predecessors has arrived this execution.
	requiredSources map[string]map[string]bool

	mu          sync.Mutex
	visitCounts map[string]int
	arrivals    map[string]map[string]bool
	failed      bool
	failErr     error

	waitersMu sync.Mutex
	waiters   map[string]chan string

	cancel context.CancelFunc
}

// New builds an ExecutionStream ready to Execute.
func New(cfg Config) *ExecutionStream {
	return &ExecutionStream{
		id:              cfg.StreamID,
		graphID:         cfg.GraphID,
		executionID:     cfg.ExecutionID,
		sessionID:       cfg.SessionID,
		g:               cfg.Graph,
		node:            cfg.Node,
		sessions:        cfg.Sessions,
		mem:             cfg.Memory,
		toolsReg:        cfg.Tools,
		bus:             cfg.Bus,
		checkpoints:     cfg.Checkpoints,
		requiredSources: computeRequiredSources(cfg.Graph),
		visitCounts:     make(map[string]int),
		arrivals:        make(map[string]map[string]bool),
		waiters:         make(map[string]chan string),
	}
}

func computeRequiredSources(g *graph.GraphSpec) map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.Priority < 0 {
			continue // feedback edges never gate a join; a loop-back target fires on its own
		}
		if out[e.Target] == nil {
			out[e.Target] = make(map[string]bool)
		}
		out[e.Target][e.Source] = true
	}
	return out
}

// Execute runs the graph to completion (every live branch terminates, is
// cancelled, or escalates) starting from entryNode. It blocks until the
// whole execution settles.
func (s *ExecutionStream) Execute(ctx context.Context, entryNode string) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	s.bus.Publish(events.AgentEvent{
		Type: events.ExecutionStarted, GraphID: s.graphID, StreamID: s.id, ExecutionID: s.executionID,
		NodeID: entryNode,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go s.visitNode(ctx, entryNode, &wg)
	wg.Wait()

	s.mu.Lock()
	failed, failErr := s.failed, s.failErr
	s.mu.Unlock()

	if failed {
		s.bus.Publish(events.AgentEvent{
			Type: events.ExecutionFailed, GraphID: s.graphID, StreamID: s.id, ExecutionID: s.executionID,
			Payload: map[string]any{"error": failErr.Error()},
		})
		return failErr
	}

	s.bus.Publish(events.AgentEvent{
		Type: events.ExecutionCompleted, GraphID: s.graphID, StreamID: s.id, ExecutionID: s.executionID,
	})
	return nil
}

// Cancel stops the running execution; every in-flight Visit observes ctx
// cancellation at its next check point and runs its cleanup path.
func (s *ExecutionStream) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// ExecutionID returns this stream's execution ID, used by AgentRuntime to
// key its live-execution map and by transport callers to address Stop.
func (s *ExecutionStream) ExecutionID() string { return s.executionID }

// SessionID returns the session this stream is running against.
func (s *ExecutionStream) SessionID() string { return s.sessionID }

func (s *ExecutionStream) visitNode(ctx context.Context, nodeID string, wg *sync.WaitGroup) {
	defer wg.Done()

	node, ok := s.g.Node(nodeID)
	if !ok {
		s.markFailed(fmt.Errorf("stream: node %q not found", nodeID))
		return
	}

	visitN, ok := s.trackVisit(nodeID, node.MaxNodeVisits)
	if !ok {
		s.bus.Publish(events.AgentEvent{
			Type: events.WorkerEscalationTicket, GraphID: s.graphID, StreamID: s.id, ExecutionID: s.executionID,
			NodeID: nodeID, Payload: map[string]any{"rationale": "max node visits exceeded"},
		})
		return
	}

	convStore, startCursor, err := s.conversationFor(nodeID, node, visitN)
	if err != nil {
		s.markFailed(err)
		return
	}
	acc := accumulator.New(convStore, startCursor)

	result, err := s.node.Visit(ctx, executor.VisitInput{
		GraphID: s.graphID, StreamID: s.id, ExecutionID: s.executionID,
		Node: node, Memory: s.mem, Conversation: convStore, Tools: s.toolsReg,
		Accumulator: acc, InputWaiter: s, StartCursor: startCursor,
		EmitEnterMarker: node.ConversationMode == graph.ConversationContinuous && visitN > 1,
	})
	if err != nil {
		if ctx.Err() != nil {
			s.bus.Publish(events.AgentEvent{
				Type: events.ExecutionPaused, GraphID: s.graphID, StreamID: s.id, ExecutionID: s.executionID,
				NodeID: nodeID,
			})
			return
		}
		s.markFailed(err)
		return
	}

	if result.Outcome == executor.OutcomeCancelled {
		s.bus.Publish(events.AgentEvent{
			Type: events.ExecutionPaused, GraphID: s.graphID, StreamID: s.id, ExecutionID: s.executionID,
			NodeID: nodeID,
		})
		return
	}

	if result.Outcome == executor.OutcomeAccepted && len(result.Edges) == 0 && !s.g.IsTerminal(nodeID) {
		s.markFailed(fmt.Errorf("stream: dead end at node %q: no matching edges and not a terminal node", nodeID))
		return
	}

	for _, e := range result.Edges {
		s.bus.Publish(events.AgentEvent{
			Type: events.EdgeTraversed, GraphID: s.graphID, StreamID: s.id, ExecutionID: s.executionID,
			NodeID: nodeID, Payload: map[string]any{"edgeId": e.ID, "target": e.Target},
		})
		if e.IsFeedback() || s.recordArrival(e.Target, nodeID) {
			wg.Add(1)
			go s.visitNode(ctx, e.Target, wg)
		}
	}
}

func (s *ExecutionStream) markFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.failed {
		s.failed = true
		s.failErr = err
	}
}

// trackVisit increments nodeID's visit count for this execution and reports
// whether it is still within max (0 = unbounded), along with the new count.
func (s *ExecutionStream) trackVisit(nodeID string, max int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visitCounts[nodeID]++
	n := s.visitCounts[nodeID]
	if max > 0 && n > max {
		return n, false
	}
	return n, true
}

// recordArrival notes that source has reached target via a forward edge and
// reports whether target's join barrier is now satisfied — every one of
// target's distinct forward predecessors has arrived exactly once. A node
// with a single predecessor (the common case) fires on its first arrival.
func (s *ExecutionStream) recordArrival(target, source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.arrivals[target] == nil {
		s.arrivals[target] = make(map[string]bool)
	}
	if s.arrivals[target][source] {
		return false
	}
	s.arrivals[target][source] = true
	for src := range s.requiredSources[target] {
		if !s.arrivals[target][src] {
			return false
		}
	}
	return true
}

// conversationFor opens the conversation store for one visit of nodeID.
// ConversationContinuous nodes share one store across every visit within
// this execution (the running thread); ConversationIsolated nodes get a
// fresh sub-directory per visit, so a new thread starts from scratch.
func (s *ExecutionStream) conversationFor(nodeID string, node *graph.NodeSpec, visitN int) (*conversation.Store, conversation.Cursor, error) {
	dir := s.sessions.ConversationDir(s.sessionID, nodeID)
	if node.ConversationMode != graph.ConversationContinuous {
		dir = filepath.Join(dir, fmt.Sprintf("visit-%d", visitN))
	}
	store, err := conversation.Open(dir)
	if err != nil {
		return nil, conversation.Cursor{}, fmt.Errorf("stream: open conversation for %s: %w", nodeID, err)
	}
	cursor, err := store.ReadCursor()
	if err != nil {
		return nil, conversation.Cursor{}, fmt.Errorf("stream: read cursor for %s: %w", nodeID, err)
	}
	if cursor == nil {
		cursor = &conversation.Cursor{}
	}
	return store, *cursor, nil
}

// AwaitInput implements executor.InputWaiter: it blocks until InjectInput
// delivers a reply for nodeID or ctx is cancelled.
func (s *ExecutionStream) AwaitInput(ctx context.Context, nodeID string) (string, error) {
	ch := make(chan string, 1)
	s.waitersMu.Lock()
	s.waiters[nodeID] = ch
	s.waitersMu.Unlock()
	defer func() {
		s.waitersMu.Lock()
		delete(s.waiters, nodeID)
		s.waitersMu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case v := <-ch:
		return v, nil
	}
}

// AwaitingNodes returns the IDs of every node currently blocked in
// AwaitInput, for a caller (like Chat's autorouting) that needs to find a
// paused node without already knowing its ID.
func (s *ExecutionStream) AwaitingNodes() []string {
	s.waitersMu.Lock()
	defer s.waitersMu.Unlock()
	nodes := make([]string, 0, len(s.waiters))
	for nodeID := range s.waiters {
		nodes = append(nodes, nodeID)
	}
	return nodes
}

// InjectInput delivers content to nodeID's pending AwaitInput call (spec
// §4.7 InjectInput). Returns ErrStreamBusy if nodeID is not currently
// paused awaiting input, or already has an undelivered reply queued.
func (s *ExecutionStream) InjectInput(nodeID, content string) error {
	s.waitersMu.Lock()
	ch, ok := s.waiters[nodeID]
	s.waitersMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: node %s is not awaiting input", rterr.ErrStreamBusy, nodeID)
	}
	select {
	case ch <- content:
		return nil
	default:
		return fmt.Errorf("%w: node %s already has a pending reply", rterr.ErrStreamBusy, nodeID)
	}
}

// Checkpoint snapshots SharedMemory and every visited node's current cursor
// under name (spec §4.7, §8).
func (s *ExecutionStream) Checkpoint(name string) error {
	s.mu.Lock()
	visited := make([]string, 0, len(s.visitCounts))
	counts := make(map[string]int, len(s.visitCounts))
	for nodeID, n := range s.visitCounts {
		visited = append(visited, nodeID)
		counts[nodeID] = n
	}
	s.mu.Unlock()

	cursors := make(map[string]conversation.Cursor, len(visited))
	for _, nodeID := range visited {
		node, ok := s.g.Node(nodeID)
		if !ok {
			continue
		}
		_, cursor, err := s.conversationFor(nodeID, node, counts[nodeID])
		if err != nil {
			return err
		}
		cursors[nodeID] = cursor
	}
	return s.checkpoints.Save(name, s.mem, cursors)
}

// RestoreCheckpoint replaces SharedMemory and every named node's cursor with
// the contents of a prior Checkpoint.
func (s *ExecutionStream) RestoreCheckpoint(name string) error {
	cp, err := s.checkpoints.Load(name)
	if err != nil {
		return err
	}
	cursors := checkpoint.Restore(cp, s.mem)

	s.mu.Lock()
	counts := make(map[string]int, len(s.visitCounts))
	for nodeID, n := range s.visitCounts {
		counts[nodeID] = n
	}
	s.mu.Unlock()

	for nodeID, cur := range cursors {
		node, ok := s.g.Node(nodeID)
		if !ok {
			continue
		}
		store, _, err := s.conversationFor(nodeID, node, counts[nodeID])
		if err != nil {
			return err
		}
		if err := store.WriteCursor(cur); err != nil {
			return fmt.Errorf("stream: restore cursor for %s: %w", nodeID, err)
		}
	}
	return nil
}

var _ executor.InputWaiter = (*ExecutionStream)(nil)
