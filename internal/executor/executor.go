// Package executor implements GraphExecutor (spec §4.6): the single-node
// step loop that drives one node visit from its first LLM turn through
// judge acceptance or escalation, plus the edge-selection logic that decides
// which outgoing edges a completed visit traverses.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/flowgraph-labs/agentrt/internal/accumulator"
	"github.com/flowgraph-labs/agentrt/internal/conversation"
	"github.com/flowgraph-labs/agentrt/internal/events"
	"github.com/flowgraph-labs/agentrt/internal/exprlang"
	"github.com/flowgraph-labs/agentrt/internal/graph"
	"github.com/flowgraph-labs/agentrt/internal/judge"
	"github.com/flowgraph-labs/agentrt/internal/llmclient"
	"github.com/flowgraph-labs/agentrt/internal/memory"
	"github.com/flowgraph-labs/agentrt/internal/rterr"
	"github.com/flowgraph-labs/agentrt/internal/tools"
)

// Limits bounds one node visit's step loop. Zero fields fall back to the
// package defaults in NewGraphExecutor.
type Limits struct {
	MaxIterations       int
	MaxToolCallsPerTurn int
	MaxLLMRetries       int
	RetryBackoffBase    time.Duration
}

const (
	defaultMaxIterations       = 50
	defaultMaxToolCallsPerTurn = 8
	defaultMaxLLMRetries       = 3
	defaultRetryBackoffBase    = 200 * time.Millisecond
)

func (l Limits) withDefaults() Limits {
	if l.MaxIterations <= 0 {
		l.MaxIterations = defaultMaxIterations
	}
	if l.MaxToolCallsPerTurn <= 0 {
		l.MaxToolCallsPerTurn = defaultMaxToolCallsPerTurn
	}
	if l.MaxLLMRetries <= 0 {
		l.MaxLLMRetries = defaultMaxLLMRetries
	}
	if l.RetryBackoffBase <= 0 {
		l.RetryBackoffBase = defaultRetryBackoffBase
	}
	return l
}

// InputWaiter lets the step loop pause a client-facing node until a reply
// arrives, without the executor knowing anything about transport or session
// bookkeeping — ExecutionStream supplies the concrete implementation.
type InputWaiter interface {
	AwaitInput(ctx context.Context, nodeID string) (string, error)
}

// GraphExecutor drives node visits for one GraphSpec. It holds no per-visit
// state itself; every Visit call is independent and safe to run concurrently
// for different nodes (or the same node under IsolationShared/Synchronized,
// whose exclusion is enforced by the caller, not here).
type GraphExecutor struct {
	g      *graph.GraphSpec
	goal   *graph.Goal
	llm    llmclient.Client
	bus    *events.Bus
	judge  judge.Judge
	limits Limits

	// conditions holds one pre-compiled exprlang.Expr per CONDITIONAL edge,
	// keyed by edge ID. Compiled eagerly in NewGraphExecutor so a malformed
	// condition fails at graph load, never mid-execution.
	conditions map[string]exprlang.Expr
}

// NewGraphExecutor compiles g's CONDITIONAL edges and returns a ready
// GraphExecutor. An error here means g must not be loaded.
func NewGraphExecutor(g *graph.GraphSpec, goal *graph.Goal, llm llmclient.Client, j judge.Judge, bus *events.Bus, limits Limits) (*GraphExecutor, error) {
	conditions := make(map[string]exprlang.Expr)
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.Condition != graph.Conditional {
			continue
		}
		expr, err := exprlang.Parse(e.ConditionExpr)
		if err != nil {
			return nil, fmt.Errorf("executor: graph %s: edge %s: %w", g.ID, e.ID, err)
		}
		conditions[e.ID] = expr
	}
	return &GraphExecutor{
		g:          g,
		goal:       goal,
		llm:        llm,
		bus:        bus,
		judge:      j,
		limits:     limits.withDefaults(),
		conditions: conditions,
	}, nil
}

// VisitInput is everything one call to Visit needs.
type VisitInput struct {
	GraphID     string
	StreamID    string
	ExecutionID string

	Node         *graph.NodeSpec
	Memory       *memory.SharedMemory
	Conversation *conversation.Store
	Tools        tools.Registry
	Accumulator  *accumulator.Accumulator
	InputWaiter  InputWaiter

	// StartCursor is the node's cursor as of the start of this visit (zero
	// value for a fresh visit).
	StartCursor conversation.Cursor

	// EmitEnterMarker controls whether a system_marker is appended announcing
	// entry into this node, for ConversationContinuous nodes being visited
	// again within the same running thread.
	EmitEnterMarker bool
}

// VisitOutcome is the terminal state a Visit call reaches.
type VisitOutcome string

const (
	OutcomeAccepted  VisitOutcome = "accepted"
	OutcomeEscalated VisitOutcome = "escalated"
	OutcomeCancelled VisitOutcome = "cancelled"
)

// VisitResult is Visit's return value: the verdict the visit ended on, the
// final cursor, and (on OutcomeAccepted) the set of outgoing edges selected.
type VisitResult struct {
	Outcome     VisitOutcome
	Rationale   string
	FinalCursor conversation.Cursor
	Edges       []*graph.EdgeSpec // populated only on OutcomeAccepted
}

// Visit runs the step loop for one node visit to completion: repeated LLM
// turns, tool dispatch, and judge evaluation, until the judge ACCEPTs or
// ESCALATEs, the iteration cap is hit, or ctx is cancelled. On ACCEPT it also
// performs edge selection (spec §4.6 steps 1-4) before returning.
func (ge *GraphExecutor) Visit(ctx context.Context, in VisitInput) (VisitResult, error) {
	node := in.Node
	iteration := in.StartCursor.Iteration
	uic := in.StartCursor.UserInteractionCount
	stall := in.StartCursor.StallCount
	firstTurn := true

	ge.bus.Publish(events.AgentEvent{
		Type: events.NodeLoopStarted, GraphID: in.GraphID, StreamID: in.StreamID,
		NodeID: node.ID, ExecutionID: in.ExecutionID,
	})

	for {
		if err := ctx.Err(); err != nil {
			return ge.cancelCleanup(in, iteration, uic, stall), err
		}

		if iteration >= ge.limits.MaxIterations {
			return ge.escalate(in, iteration, uic, stall, "max iterations exceeded"), nil
		}

		if firstTurn && in.EmitEnterMarker && node.ConversationMode == graph.ConversationContinuous {
			in.Conversation.Append(conversation.Message{
				Type: conversation.MessageSystemMarker,
				Content: fmt.Sprintf("entering node %s", node.ID),
			})
		}
		firstTurn = false

		history, err := in.Conversation.ReadFrom(1)
		if err != nil {
			return VisitResult{}, fmt.Errorf("executor: read conversation: %w", err)
		}
		sysPrompt := composeSystemPrompt(promptContext{
			Goal:                 ge.goal,
			Node:                 node,
			ToolDescriptions:     ge.toolDescriptions(in.Tools, node),
			MemorySubset:         in.Memory.Subset(node.InputKeys),
			UserInteractionCount: uic,
		})
		msgs := toLLMMessages(sysPrompt, history)
		toolSpecs := ge.toolSpecsFor(in.Tools, node)

		result, err := ge.generate(ctx, in, msgs, toolSpecs)
		if err != nil {
			return VisitResult{}, fmt.Errorf("%w: %v", rterr.ErrLLMTransient, err)
		}

		hadToolCalls := len(result.ToolCalls) > 0
		if _, err := in.Conversation.Append(conversation.Message{
			Type: conversation.MessageAssistant, Role: "assistant", Content: result.Text,
		}); err != nil {
			return VisitResult{}, fmt.Errorf("executor: append assistant message: %w", err)
		}

		if hadToolCalls {
			if err := ge.dispatchToolCalls(ctx, in, result.ToolCalls); err != nil {
				return ge.cancelCleanup(in, iteration, uic, stall), err
			}
		}

		iteration++
		outcome, err := ge.judge.Evaluate(judge.Input{
			Node:                  node,
			AssistantText:         result.Text,
			HadToolCalls:          hadToolCalls,
			AccumulatedOutputKeys: in.Accumulator.Keys(),
			UserInteractionCount:  uic,
		})
		if err != nil {
			return VisitResult{}, fmt.Errorf("executor: judge: %w", err)
		}

		cursor := conversation.Cursor{
			Iteration:            iteration,
			Outputs:              in.Accumulator.Snapshot(),
			UserInteractionCount: uic,
			LastMessageOrdinal:   in.Conversation.LastOrdinal(),
			StallCount:           stall,
		}
		if err := in.Conversation.WriteCursor(cursor); err != nil {
			return VisitResult{}, fmt.Errorf("executor: persist cursor: %w", err)
		}

		ge.bus.Publish(events.AgentEvent{
			Type: events.GoalProgress, GraphID: in.GraphID, StreamID: in.StreamID,
			NodeID: node.ID, ExecutionID: in.ExecutionID,
			Payload: map[string]any{"verdict": string(outcome.Verdict), "iteration": iteration},
		})

		// A clientFacing node that just produced a user-visible reply with no
		// tool calls is awaiting a human turn whenever the judge returned
		// CONTINUE or RETRY (with ImplicitJudge, typically RETRY because a
		// required output key is not set yet) — both land here because neither
		// is a real failure, just "not yet answered."
		if node.ClientFacing && !hadToolCalls && result.Text != "" &&
			outcome.Verdict != judge.VerdictAccept && outcome.Verdict != judge.VerdictEscalate {
			reply, err := ge.awaitClientInput(ctx, in, node.ID)
			if err != nil {
				return ge.cancelCleanup(in, iteration, uic, stall), err
			}
			uic++
			if _, err := in.Conversation.Append(conversation.Message{
				Type: conversation.MessageUser, Role: "user", Content: reply,
			}); err != nil {
				return VisitResult{}, fmt.Errorf("executor: append user message: %w", err)
			}
			continue
		}

		switch outcome.Verdict {
		case judge.VerdictAccept:
			in.Accumulator.Flush(in.Memory)
			edges := ge.selectEdges(node.ID, in.Memory, true)
			ge.bus.Publish(events.AgentEvent{
				Type: events.NodeLoopCompleted, GraphID: in.GraphID, StreamID: in.StreamID,
				NodeID: node.ID, ExecutionID: in.ExecutionID,
			})
			return VisitResult{Outcome: OutcomeAccepted, Rationale: outcome.Rationale, FinalCursor: cursor, Edges: edges}, nil
		case judge.VerdictEscalate:
			return ge.escalate(in, iteration, uic, stall, outcome.Rationale), nil
		case judge.VerdictRetry:
			stall++
			if node.MaxRetries > 0 && stall >= node.MaxRetries {
				return ge.escalate(in, iteration, uic, stall, "retry budget exceeded: "+outcome.Rationale), nil
			}
		case judge.VerdictContinue:
			// loop again without a pause: the model still has work queued
			// (e.g. more tool calls) for this turn chain.
		}
	}
}

// escalate ends a visit that the judge could not bring to ACCEPT. If the
// node has its own ON_FAILURE or feedback edge, that is the graph's declared
// recovery path and takes priority: Stream traverses it like any other
// selected edge. Only a node with no failure path left raises a
// WORKER_ESCALATION_TICKET for a human or the health judge to pick up.
func (ge *GraphExecutor) escalate(in VisitInput, iteration, uic, stall int, rationale string) VisitResult {
	cursor := conversation.Cursor{
		Iteration: iteration, Outputs: in.Accumulator.Snapshot(),
		UserInteractionCount: uic, LastMessageOrdinal: in.Conversation.LastOrdinal(), StallCount: stall,
	}
	in.Conversation.WriteCursor(cursor)

	edges := ge.selectEdges(in.Node.ID, in.Memory, false)
	if len(edges) == 0 {
		ge.bus.Publish(events.AgentEvent{
			Type: events.WorkerEscalationTicket, GraphID: in.GraphID, StreamID: in.StreamID,
			NodeID: in.Node.ID, ExecutionID: in.ExecutionID,
			Payload: map[string]any{"rationale": rationale},
		})
	}
	return VisitResult{Outcome: OutcomeEscalated, Rationale: rationale, FinalCursor: cursor, Edges: edges}
}

// cancelCleanup flushes whatever output keys this visit had staged and
// persists the cursor so a resumed visit picks up from here, then returns a
// cancelled VisitResult. Session-wide cleanup (state.json, EXECUTION_PAUSED)
// is ExecutionStream's responsibility, not the executor's.
func (ge *GraphExecutor) cancelCleanup(in VisitInput, iteration, uic, stall int) VisitResult {
	in.Accumulator.Flush(in.Memory)
	cursor := conversation.Cursor{
		Iteration: iteration, Outputs: in.Accumulator.Snapshot(),
		UserInteractionCount: uic, LastMessageOrdinal: in.Conversation.LastOrdinal(), StallCount: stall,
	}
	in.Conversation.WriteCursor(cursor)
	return VisitResult{Outcome: OutcomeCancelled, FinalCursor: cursor}
}

func (ge *GraphExecutor) awaitClientInput(ctx context.Context, in VisitInput, nodeID string) (string, error) {
	ge.bus.Publish(events.AgentEvent{
		Type: events.ClientInputRequested, GraphID: in.GraphID, StreamID: in.StreamID,
		NodeID: nodeID, ExecutionID: in.ExecutionID,
	})
	reply, err := in.InputWaiter.AwaitInput(ctx, nodeID)
	if err != nil {
		return "", err
	}
	ge.bus.Publish(events.AgentEvent{
		Type: events.ClientInputReceived, GraphID: in.GraphID, StreamID: in.StreamID,
		NodeID: nodeID, ExecutionID: in.ExecutionID,
	})
	return reply, nil
}

// generate calls llm.Generate, retrying a bounded number of times with
// exponential backoff on any error (an unreachable provider, a rate limit,
// a dropped connection) before giving up. Deltas stream out as transient
// LLM_TEXT_DELTA (and CLIENT_OUTPUT_DELTA for clientFacing nodes) events as
// they arrive; only the assembled final text is ever persisted.
func (ge *GraphExecutor) generate(ctx context.Context, in VisitInput, msgs []llmclient.Message, toolSpecs []llmclient.ToolSpec) (*llmclient.Result, error) {
	var lastErr error
	for attempt := 0; attempt < ge.limits.MaxLLMRetries; attempt++ {
		if attempt > 0 {
			backoff := ge.limits.RetryBackoffBase * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		stream, err := ge.llm.Generate(ctx, msgs, toolSpecs)
		if err != nil {
			lastErr = err
			continue
		}

		for delta := range stream.Deltas() {
			ge.bus.Publish(events.AgentEvent{
				Type: events.LLMTextDelta, GraphID: in.GraphID, StreamID: in.StreamID,
				NodeID: in.Node.ID, ExecutionID: in.ExecutionID,
				Payload: map[string]any{"delta": delta},
			})
			if in.Node.ClientFacing {
				ge.bus.Publish(events.AgentEvent{
					Type: events.ClientOutputDelta, GraphID: in.GraphID, StreamID: in.StreamID,
					NodeID: in.Node.ID, ExecutionID: in.ExecutionID,
					Payload: map[string]any{"delta": delta},
				})
			}
		}

		result, err := stream.Wait()
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}
	return nil, fmt.Errorf("exhausted %d attempts: %w", ge.limits.MaxLLMRetries, lastErr)
}

// dispatchToolCalls runs calls in order, capped at MaxToolCallsPerTurn; any
// calls beyond the cap get a synthetic error result instead of running.
// ctx is checked before each call so a cancelled stream stops mid-turn
// rather than running every queued tool call first.
func (ge *GraphExecutor) dispatchToolCalls(ctx context.Context, in VisitInput, calls []llmclient.ToolCall) error {
	ctxWithAcc := accumulator.IntoContext(ctx, in.Accumulator)
	for i, tc := range calls {
		if err := ctx.Err(); err != nil {
			return err
		}

		var argMap map[string]any
		_ = json.Unmarshal([]byte(tc.ArgsJSON), &argMap) // best-effort; malformed args still reach the tool and fail there

		if _, err := in.Conversation.Append(conversation.Message{
			Type: conversation.MessageToolCall, ToolCallID: tc.ID, ToolName: tc.Name, ToolArgs: argMap,
		}); err != nil {
			return fmt.Errorf("executor: append tool_call message: %w", err)
		}

		ge.bus.Publish(events.AgentEvent{
			Type: events.ToolCallStarted, GraphID: in.GraphID, StreamID: in.StreamID,
			NodeID: in.Node.ID, ExecutionID: in.ExecutionID,
			Payload: map[string]any{"toolCallId": tc.ID, "toolName": tc.Name},
		})

		var resultMsg conversation.Message
		if i >= ge.limits.MaxToolCallsPerTurn {
			resultMsg = conversation.Message{
				Type: conversation.MessageToolResult, ToolCallID: tc.ID, ToolName: tc.Name,
				ToolError: "tool-call budget exceeded for this turn",
			}
		} else {
			out, callErr := in.Tools.Call(ctxWithAcc, tc.Name, tc.ArgsJSON)
			if callErr != nil {
				resultMsg = conversation.Message{
					Type: conversation.MessageToolResult, ToolCallID: tc.ID, ToolName: tc.Name,
					ToolError: callErr.Error(),
				}
			} else {
				resultMsg = conversation.Message{
					Type: conversation.MessageToolResult, ToolCallID: tc.ID, ToolName: tc.Name,
					ToolResult: out,
				}
			}
		}

		if _, err := in.Conversation.Append(resultMsg); err != nil {
			return fmt.Errorf("executor: append tool_result message: %w", err)
		}
		ge.bus.Publish(events.AgentEvent{
			Type: events.ToolCallCompleted, GraphID: in.GraphID, StreamID: in.StreamID,
			NodeID: in.Node.ID, ExecutionID: in.ExecutionID,
			Payload: map[string]any{"toolCallId": tc.ID, "toolName": tc.Name, "error": resultMsg.ToolError != ""},
		})
	}
	return nil
}

func (ge *GraphExecutor) toolSpecsFor(reg tools.Registry, node *graph.NodeSpec) []llmclient.ToolSpec {
	if reg == nil || len(node.Tools) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(node.Tools))
	for _, n := range node.Tools {
		allowed[n] = true
	}
	var out []llmclient.ToolSpec
	for _, spec := range reg.List() {
		if !allowed[spec.Name] {
			continue
		}
		out = append(out, llmclient.ToolSpec{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  tools.ParametersToMap(spec.Parameters),
		})
	}
	return out
}

func (ge *GraphExecutor) toolDescriptions(reg tools.Registry, node *graph.NodeSpec) map[string]string {
	if reg == nil || len(node.Tools) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(node.Tools))
	for _, n := range node.Tools {
		allowed[n] = true
	}
	out := make(map[string]string)
	for _, spec := range reg.List() {
		if allowed[spec.Name] {
			out[spec.Name] = spec.Description
		}
	}
	return out
}

// selectEdges implements the edge-selection half of the step loop (spec
// §4.6 steps 1-5): partition a node's outgoing edges into forward and
// feedback groups, evaluate each group's condition, and return the set to
// traverse. accepted is true on ACCEPT: forward edges are tried first, and
// only when none match does the highest-priority feedback edge (the
// iterative-refine loop-back) get a chance to fire. On RETRY/ESCALATE,
// feedback edges are tried first, falling back to forward (ON_FAILURE).
func (ge *GraphExecutor) selectEdges(nodeID string, mem *memory.SharedMemory, accepted bool) []*graph.EdgeSpec {
	all := ge.g.OutgoingEdges(nodeID)
	var forward, feedback []*graph.EdgeSpec
	for _, e := range all {
		if e.IsFeedback() {
			feedback = append(feedback, e)
		} else {
			forward = append(forward, e)
		}
	}

	snapshot := mem.Snapshot()

	if accepted {
		if selected := ge.selectFrom(forward, snapshot, accepted); len(selected) > 0 {
			return selected
		}
		return ge.selectFrom(feedback, snapshot, accepted)
	}

	if selected := ge.selectFrom(feedback, snapshot, accepted); len(selected) > 0 {
		return selected
	}
	return ge.selectFrom(forward, snapshot, accepted)
}

// selectFrom sorts group by descending priority and returns every eligible
// edge, except that a feedback edge (negative priority) stops the scan as
// soon as one fires: only a single loop-back edge follows per visit.
func (ge *GraphExecutor) selectFrom(group []*graph.EdgeSpec, snapshot map[string]any, accepted bool) []*graph.EdgeSpec {
	sort.SliceStable(group, func(i, j int) bool { return group[i].Priority > group[j].Priority })
	var selected []*graph.EdgeSpec
	for _, e := range group {
		if ge.edgeEligible(e, snapshot, accepted) {
			selected = append(selected, e)
			if e.Priority < 0 {
				break // a single feedback edge fires per visit
			}
		}
	}
	return selected
}

func (ge *GraphExecutor) edgeEligible(e *graph.EdgeSpec, mem map[string]any, accepted bool) bool {
	switch e.Condition {
	case graph.Always:
		return true
	case graph.OnSuccess:
		return accepted
	case graph.OnFailure:
		return !accepted
	case graph.Conditional:
		expr, ok := ge.conditions[e.ID]
		if !ok {
			return false
		}
		return expr.Eval(mem)
	default:
		return false
	}
}
