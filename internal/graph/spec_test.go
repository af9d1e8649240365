package graph

import "testing"

func linearGraph() *GraphSpec {
	return &GraphSpec{
		ID: "g1",
		Nodes: []NodeSpec{
			{ID: "intake", OutputKeys: []string{"q"}},
			{ID: "process", OutputKeys: nil},
		},
		Edges: []EdgeSpec{
			{ID: "e1", Source: "intake", Target: "process", Condition: OnSuccess, Priority: 1},
		},
		EntryNode:     "intake",
		TerminalNodes: []string{"process"},
	}
}

func TestBuild_Linear(t *testing.T) {
	g := linearGraph()
	if err := Build(g); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, ok := g.Node("intake"); !ok || n.ID != "intake" {
		t.Fatalf("expected to find intake node")
	}
	edges := g.OutgoingEdges("intake")
	if len(edges) != 1 || edges[0].Target != "process" {
		t.Fatalf("unexpected outgoing edges: %+v", edges)
	}
	if !g.IsTerminal("process") {
		t.Fatalf("expected process to be terminal")
	}
}

func TestBuild_UnknownEdgeTarget(t *testing.T) {
	g := &GraphSpec{
		ID:    "g2",
		Nodes: []NodeSpec{{ID: "a"}},
		Edges: []EdgeSpec{{ID: "e1", Source: "a", Target: "missing", Condition: Always}},
	}
	if err := Build(g); err == nil {
		t.Fatalf("expected error for edge referencing unknown target")
	}
}

func TestBuild_NullableOutputKeysSubsetInvariant(t *testing.T) {
	g := &GraphSpec{
		ID: "g3",
		Nodes: []NodeSpec{
			{ID: "a", OutputKeys: []string{"x"}, NullableOutputKeys: []string{"y"}},
		},
		TerminalNodes: []string{"a"},
	}
	if err := Build(g); err == nil {
		t.Fatalf("expected error: nullableOutputKeys not subset of outputKeys")
	}
}

func TestBuild_ForeverAliveRequiresOutgoingEdges(t *testing.T) {
	g := &GraphSpec{
		ID:    "g4",
		Nodes: []NodeSpec{{ID: "a"}},
		// No terminal nodes => forever-alive => every node needs >=1 outgoing edge.
	}
	if err := Build(g); err == nil {
		t.Fatalf("expected error for forever-alive graph with dead-end node")
	}
}

func TestBuild_FanOutOverlappingOutputKeysEscalatesAtLoad(t *testing.T) {
	g := &GraphSpec{
		ID: "g5",
		Nodes: []NodeSpec{
			{ID: "start"},
			{ID: "a", OutputKeys: []string{"x"}},
			{ID: "b", OutputKeys: []string{"x"}}, // overlaps with a
			{ID: "join"},
		},
		Edges: []EdgeSpec{
			{ID: "e1", Source: "start", Target: "a", Condition: Always, Priority: 1},
			{ID: "e2", Source: "start", Target: "b", Condition: Always, Priority: 1},
			{ID: "e3", Source: "a", Target: "join", Condition: OnSuccess, Priority: 1},
			{ID: "e4", Source: "b", Target: "join", Condition: OnSuccess, Priority: 1},
		},
		TerminalNodes: []string{"join"},
	}
	if err := Build(g); err == nil {
		t.Fatalf("expected fan-out overlapping outputKeys to escalate at load")
	}
}

func TestBuild_DisjointFanOutOK(t *testing.T) {
	g := &GraphSpec{
		ID: "g6",
		Nodes: []NodeSpec{
			{ID: "start"},
			{ID: "a", OutputKeys: []string{"x"}},
			{ID: "b", OutputKeys: []string{"y"}},
			{ID: "join"},
		},
		Edges: []EdgeSpec{
			{ID: "e1", Source: "start", Target: "a", Condition: Always, Priority: 1},
			{ID: "e2", Source: "start", Target: "b", Condition: Always, Priority: 1},
			{ID: "e3", Source: "a", Target: "join", Condition: OnSuccess, Priority: 1},
			{ID: "e4", Source: "b", Target: "join", Condition: OnSuccess, Priority: 1},
		},
		TerminalNodes: []string{"join"},
	}
	if err := Build(g); err != nil {
		t.Fatalf("unexpected error for disjoint fan-out: %v", err)
	}
}

func TestRequiredOutputKeys(t *testing.T) {
	n := NodeSpec{OutputKeys: []string{"a", "b"}, NullableOutputKeys: []string{"b"}}
	req := n.RequiredOutputKeys()
	if len(req) != 1 || req[0] != "a" {
		t.Fatalf("expected required keys [a], got %v", req)
	}
}
