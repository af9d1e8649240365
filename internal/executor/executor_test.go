package executor

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/flowgraph-labs/agentrt/internal/accumulator"
	"github.com/flowgraph-labs/agentrt/internal/conversation"
	"github.com/flowgraph-labs/agentrt/internal/events"
	"github.com/flowgraph-labs/agentrt/internal/graph"
	"github.com/flowgraph-labs/agentrt/internal/judge"
	"github.com/flowgraph-labs/agentrt/internal/llmclient"
	"github.com/flowgraph-labs/agentrt/internal/memory"
	"github.com/flowgraph-labs/agentrt/internal/tools"
)

// fakeStream is a pre-baked llmclient.Stream: all deltas ready up front, no
// real streaming.
type fakeStream struct {
	deltas chan string
	result *llmclient.Result
	err    error
}

func newFakeStream(text string, toolCalls []llmclient.ToolCall, err error) *fakeStream {
	ch := make(chan string, 1)
	if text != "" {
		ch <- text
	}
	close(ch)
	return &fakeStream{deltas: ch, result: &llmclient.Result{Text: text, ToolCalls: toolCalls}, err: err}
}

func (s *fakeStream) Deltas() <-chan string       { return s.deltas }
func (s *fakeStream) Wait() (*llmclient.Result, error) { return s.result, s.err }

// fakeClient replays a scripted sequence of turns, one per Generate call.
type fakeClient struct {
	turns []*fakeStream
	calls int
}

func (c *fakeClient) Generate(ctx context.Context, msgs []llmclient.Message, toolSpecs []llmclient.ToolSpec) (llmclient.Stream, error) {
	if c.calls >= len(c.turns) {
		return newFakeStream("", nil, nil), nil
	}
	s := c.turns[c.calls]
	c.calls++
	return s, nil
}

// fakeRegistry stands in for tools.Registry. Its set_output handling mirrors
// the real built-in: it resolves the current visit's accumulator from ctx
// rather than closing over one fixed instance, exercising the same
// context-threading contract internal/tools.SetOutputFunc relies on.
type fakeRegistry struct{}

func (fakeRegistry) List() []tools.ToolSpec { return nil }
func (fakeRegistry) Call(ctx context.Context, name, argsJSON string) (string, error) {
	if name != "set_output" {
		return "ok", nil
	}
	var args struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", err
	}
	acc, ok := accumulator.FromContext(ctx)
	if !ok {
		return "", errors.New("no accumulator in context")
	}
	if err := acc.Set(args.Key, args.Value); err != nil {
		return "", err
	}
	return "ok", nil
}

type fakeWaiter struct {
	replies []string
	idx     int
}

func (w *fakeWaiter) AwaitInput(ctx context.Context, nodeID string) (string, error) {
	if w.idx >= len(w.replies) {
		return "", context.Canceled
	}
	r := w.replies[w.idx]
	w.idx++
	return r, nil
}

func newTestStore(t *testing.T) *conversation.Store {
	t.Helper()
	s, err := conversation.Open(filepath.Join(t.TempDir(), "intake"))
	if err != nil {
		t.Fatalf("conversation.Open: %v", err)
	}
	return s
}

func TestGraphExecutor_Visit_LinearTwoNodeAccept(t *testing.T) {
	g := &graph.GraphSpec{
		ID: "g1",
		Nodes: []graph.NodeSpec{
			{ID: "intake", OutputKeys: []string{"summary"}},
			{ID: "process"},
		},
		Edges: []graph.EdgeSpec{
			{ID: "e1", Source: "intake", Target: "process", Condition: graph.OnSuccess, Priority: 1},
		},
		TerminalNodes: []string{"process"},
	}
	if err := graph.Build(g); err != nil {
		t.Fatalf("graph.Build: %v", err)
	}

	client := &fakeClient{turns: []*fakeStream{
		newFakeStream("", []llmclient.ToolCall{{ID: "tc1", Name: "set_output", ArgsJSON: `{"key":"summary","value":"done"}`}}, nil),
	}}
	store := newTestStore(t)
	mem := memory.New()
	acc := accumulator.New(store, conversation.Cursor{})
	bus := events.NewBus()

	ge, err := NewGraphExecutor(g, &graph.Goal{Name: "test goal"}, client, judge.NewImplicitJudge(), bus, Limits{})
	if err != nil {
		t.Fatalf("NewGraphExecutor: %v", err)
	}

	node, _ := g.Node("intake")
	result, err := ge.Visit(context.Background(), VisitInput{
		GraphID: "g1", StreamID: "s1", ExecutionID: "e1",
		Node: node, Memory: mem, Conversation: store, Tools: fakeRegistry{}, Accumulator: acc,
	})
	if err != nil {
		t.Fatalf("Visit: %v", err)
	}
	if result.Outcome != OutcomeAccepted {
		t.Fatalf("Outcome = %v, want accepted", result.Outcome)
	}
	if len(result.Edges) != 1 || result.Edges[0].ID != "e1" {
		t.Fatalf("Edges = %+v, want [e1]", result.Edges)
	}
	if got, ok := mem.Get("summary"); !ok || got != "done" {
		t.Fatalf("memory[summary] = %v, %v; want done, true", got, ok)
	}
}

func TestGraphExecutor_Visit_ClientFacingPausesForInput(t *testing.T) {
	g := &graph.GraphSpec{
		ID: "g1",
		Nodes: []graph.NodeSpec{
			{ID: "chat", ClientFacing: true, OutputKeys: []string{"name"}},
		},
		TerminalNodes: []string{"chat"},
	}
	if err := graph.Build(g); err != nil {
		t.Fatalf("graph.Build: %v", err)
	}

	client := &fakeClient{turns: []*fakeStream{
		newFakeStream("What's your name?", nil, nil),
		newFakeStream("", []llmclient.ToolCall{{ID: "tc1", Name: "set_output", ArgsJSON: `{"key":"name","value":"Ada"}`}}, nil),
	}}
	store := newTestStore(t)
	mem := memory.New()
	acc := accumulator.New(store, conversation.Cursor{})
	bus := events.NewBus()
	waiter := &fakeWaiter{replies: []string{"Ada"}}

	ge, err := NewGraphExecutor(g, &graph.Goal{}, client, judge.NewImplicitJudge(), bus, Limits{})
	if err != nil {
		t.Fatalf("NewGraphExecutor: %v", err)
	}

	node, _ := g.Node("chat")
	result, err := ge.Visit(context.Background(), VisitInput{
		GraphID: "g1", StreamID: "s1", ExecutionID: "e1",
		Node: node, Memory: mem, Conversation: store, Tools: fakeRegistry{}, Accumulator: acc, InputWaiter: waiter,
	})
	if err != nil {
		t.Fatalf("Visit: %v", err)
	}
	if result.Outcome != OutcomeAccepted {
		t.Fatalf("Outcome = %v, want accepted", result.Outcome)
	}
	if result.FinalCursor.UserInteractionCount != 1 {
		t.Fatalf("UserInteractionCount = %d, want 1", result.FinalCursor.UserInteractionCount)
	}
	msgs, err := store.ReadFrom(1)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	var sawUserMsg bool
	for _, m := range msgs {
		if m.Type == conversation.MessageUser && m.Content == "Ada" {
			sawUserMsg = true
		}
	}
	if !sawUserMsg {
		t.Fatalf("expected a persisted user message with the injected reply, got %+v", msgs)
	}
}

func TestGraphExecutor_Visit_MaxIterationsEscalates(t *testing.T) {
	g := &graph.GraphSpec{
		ID:            "g1",
		Nodes:         []graph.NodeSpec{{ID: "stuck", OutputKeys: []string{"x"}}},
		TerminalNodes: []string{"stuck"},
	}
	if err := graph.Build(g); err != nil {
		t.Fatalf("graph.Build: %v", err)
	}

	// Every turn comes back with no tool calls and no text: RETRY forever
	// (missing required output key), never reaching ACCEPT.
	client := &fakeClient{}
	store := newTestStore(t)
	mem := memory.New()
	acc := accumulator.New(store, conversation.Cursor{})
	bus := events.NewBus()

	ge, err := NewGraphExecutor(g, &graph.Goal{}, client, judge.NewImplicitJudge(), bus, Limits{MaxIterations: 2})
	if err != nil {
		t.Fatalf("NewGraphExecutor: %v", err)
	}

	node, _ := g.Node("stuck")
	result, err := ge.Visit(context.Background(), VisitInput{
		GraphID: "g1", StreamID: "s1", ExecutionID: "e1",
		Node: node, Memory: mem, Conversation: store, Tools: fakeRegistry{}, Accumulator: acc,
	})
	if err != nil {
		t.Fatalf("Visit: %v", err)
	}
	if result.Outcome != OutcomeEscalated {
		t.Fatalf("Outcome = %v, want escalated", result.Outcome)
	}
}

func TestGraphExecutor_Visit_AcceptFallsThroughToFeedbackEdge(t *testing.T) {
	g := &graph.GraphSpec{
		ID: "g1",
		Nodes: []graph.NodeSpec{
			{ID: "refine"}, {ID: "done"},
		},
		Edges: []graph.EdgeSpec{
			{ID: "forward", Source: "refine", Target: "done", Condition: graph.Conditional, ConditionExpr: "false", Priority: 1},
			{ID: "loopback", Source: "refine", Target: "refine", Condition: graph.Always, Priority: -1},
		},
		TerminalNodes: []string{"done"},
	}
	if err := graph.Build(g); err != nil {
		t.Fatalf("graph.Build: %v", err)
	}

	client := &fakeClient{turns: []*fakeStream{newFakeStream("looks fine", nil, nil)}}
	store := newTestStore(t)
	mem := memory.New()
	acc := accumulator.New(store, conversation.Cursor{})
	bus := events.NewBus()

	ge, err := NewGraphExecutor(g, &graph.Goal{}, client, judge.NewImplicitJudge(), bus, Limits{})
	if err != nil {
		t.Fatalf("NewGraphExecutor: %v", err)
	}

	node, _ := g.Node("refine")
	result, err := ge.Visit(context.Background(), VisitInput{
		GraphID: "g1", StreamID: "s1", ExecutionID: "e1",
		Node: node, Memory: mem, Conversation: store, Tools: fakeRegistry{}, Accumulator: acc,
	})
	if err != nil {
		t.Fatalf("Visit: %v", err)
	}
	if result.Outcome != OutcomeAccepted {
		t.Fatalf("Outcome = %v, want accepted", result.Outcome)
	}
	if len(result.Edges) != 1 || result.Edges[0].ID != "loopback" {
		t.Fatalf("Edges = %+v, want [loopback]: an accepted node with no matching forward edge must fall through to its highest-priority feedback edge", result.Edges)
	}
}

func TestGraphExecutor_NewGraphExecutor_RejectsBadCondition(t *testing.T) {
	g := &graph.GraphSpec{
		ID:    "g1",
		Nodes: []graph.NodeSpec{{ID: "a"}, {ID: "b"}},
		Edges: []graph.EdgeSpec{
			{ID: "e1", Source: "a", Target: "b", Condition: graph.Conditional, ConditionExpr: "((", Priority: 1},
		},
		TerminalNodes: []string{"b"},
	}
	if err := graph.Build(g); err != nil {
		t.Fatalf("graph.Build: %v", err)
	}
	_, err := NewGraphExecutor(g, &graph.Goal{}, &fakeClient{}, judge.NewImplicitJudge(), events.NewBus(), Limits{})
	if err == nil {
		t.Fatalf("expected NewGraphExecutor to reject a malformed CONDITIONAL edge at load time")
	}
}
