// Package graph holds the static data model for agent graphs: nodes, edges,
// goals and entry points, plus load-time validation of the spec invariants.
package graph

import "fmt"

// IsolationLevel controls how a node (or entry point) shares state with
// concurrent visits.
type IsolationLevel string

const (
	IsolationIsolated     IsolationLevel = "isolated"
	IsolationShared       IsolationLevel = "shared"
	IsolationSynchronized IsolationLevel = "synchronized"
)

// ConversationMode controls whether a node's conversation is a fresh thread
// per visit or a continuation of the session's running thread.
type ConversationMode string

const (
	ConversationIsolated   ConversationMode = "isolated"
	ConversationContinuous ConversationMode = "continuous"
)

// EdgeCondition selects when an edge is eligible to be traversed.
type EdgeCondition string

const (
	OnSuccess   EdgeCondition = "ON_SUCCESS"
	OnFailure   EdgeCondition = "ON_FAILURE"
	Always      EdgeCondition = "ALWAYS"
	Conditional EdgeCondition = "CONDITIONAL"
)

// TriggerType names the kind of stimulus that fires an entry point.
type TriggerType string

const (
	TriggerManual  TriggerType = "manual"
	TriggerTimer   TriggerType = "timer"
	TriggerEvent   TriggerType = "event"
	TriggerWebhook TriggerType = "webhook"
)

// NodeSpec describes one node of a GraphSpec.
type NodeSpec struct {
	ID                 string
	Description        string
	SystemPrompt       string
	InputKeys          []string
	OutputKeys         []string
	NullableOutputKeys []string
	Tools              []string
	ClientFacing       bool
	IsolationLevel     IsolationLevel
	ConversationMode   ConversationMode
	MaxNodeVisits      int // 0 = unbounded
	MaxRetries         int
	SuccessCriteria    string
}

// RequiredOutputKeys returns OutputKeys minus NullableOutputKeys.
func (n *NodeSpec) RequiredOutputKeys() []string {
	nullable := make(map[string]bool, len(n.NullableOutputKeys))
	for _, k := range n.NullableOutputKeys {
		nullable[k] = true
	}
	var required []string
	for _, k := range n.OutputKeys {
		if !nullable[k] {
			required = append(required, k)
		}
	}
	return required
}

// EdgeSpec describes one directed transition between two nodes.
type EdgeSpec struct {
	ID            string
	Source        string
	Target        string
	Condition     EdgeCondition
	ConditionExpr string // only meaningful when Condition == Conditional
	Priority      int    // zero or positive = forward, negative = feedback loop
}

// IsFeedback reports whether this edge is a feedback (loop-back) edge.
func (e *EdgeSpec) IsFeedback() bool { return e.Priority < 0 }

// Goal is informational context carried into prompts.
type Goal struct {
	ID          string
	Name        string
	Description string
	// SuccessCriteria maps a criterion description to its weight; weights
	// should sum to 1.0 but this is not enforced at load time (informational).
	SuccessCriteria map[string]float64
	Constraints     []string
}

// TriggerConfig configures an EntryPointSpec's trigger.
type TriggerConfig struct {
	CronSpec         string   // for TriggerTimer
	IntervalMinutes  int      // for TriggerTimer, alternative to CronSpec
	EventTypes       []string // for TriggerEvent
	StreamFilter     string   // for TriggerEvent, optional
	NodeFilter       string   // for TriggerEvent, optional
	ExcludeOwnGraph  bool     // for TriggerEvent
	WebhookPath      string   // for TriggerWebhook
	WebhookSecret    string   // for TriggerWebhook, HMAC-SHA256 key; empty = unverified
}

// EntryPointSpec binds a trigger to an entry node of a graph.
type EntryPointSpec struct {
	ID             string
	EntryNode      string
	TriggerType    TriggerType
	TriggerConfig  TriggerConfig
	IsolationLevel IsolationLevel
	MaxConcurrent  int // 0 treated as 1
}

// EffectiveMaxConcurrent returns MaxConcurrent, defaulting to 1.
func (e *EntryPointSpec) EffectiveMaxConcurrent() int {
	if e.MaxConcurrent <= 0 {
		return 1
	}
	return e.MaxConcurrent
}

// GraphSpec is the static, validated definition of one agent graph.
type GraphSpec struct {
	ID            string
	Nodes         []NodeSpec
	Edges         []EdgeSpec
	EntryNode     string
	TerminalNodes []string
	PauseNodes    []string

	nodeIndex map[string]*NodeSpec
	outEdges  map[string][]*EdgeSpec
}

// ForeverAlive reports whether this graph has no terminal nodes.
func (g *GraphSpec) ForeverAlive() bool { return len(g.TerminalNodes) == 0 }

// Node looks up a node by ID.
func (g *GraphSpec) Node(id string) (*NodeSpec, bool) {
	n, ok := g.nodeIndex[id]
	return n, ok
}

// IsTerminal reports whether id is one of the graph's terminal nodes.
func (g *GraphSpec) IsTerminal(id string) bool {
	for _, t := range g.TerminalNodes {
		if t == id {
			return true
		}
	}
	return false
}

// OutgoingEdges returns the edges whose Source == nodeID.
func (g *GraphSpec) OutgoingEdges(nodeID string) []*EdgeSpec {
	return g.outEdges[nodeID]
}

// Build finalizes indices and validates the graph per spec invariants 1-3
// and the static fan-out disjoint-output-keys check.
func Build(g *GraphSpec) error {
	g.nodeIndex = make(map[string]*NodeSpec, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.ID == "" {
			return fmt.Errorf("graph %s: node at index %d has empty id", g.ID, i)
		}
		if _, dup := g.nodeIndex[n.ID]; dup {
			return fmt.Errorf("graph %s: duplicate node id %q", g.ID, n.ID)
		}
		g.nodeIndex[n.ID] = n
		for _, nk := range n.NullableOutputKeys {
			found := false
			for _, ok := range n.OutputKeys {
				if ok == nk {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("graph %s: node %q nullableOutputKeys %q not in outputKeys", g.ID, n.ID, nk)
			}
		}
	}

	if g.EntryNode != "" {
		if _, ok := g.nodeIndex[g.EntryNode]; !ok {
			return fmt.Errorf("graph %s: entryNode %q not found", g.ID, g.EntryNode)
		}
	}
	for _, t := range g.TerminalNodes {
		if _, ok := g.nodeIndex[t]; !ok {
			return fmt.Errorf("graph %s: terminalNode %q not found", g.ID, t)
		}
	}

	g.outEdges = make(map[string][]*EdgeSpec, len(g.Nodes))
	for i := range g.Edges {
		e := &g.Edges[i]
		if _, ok := g.nodeIndex[e.Source]; !ok {
			return fmt.Errorf("graph %s: edge %q source %q not found (invariant 1)", g.ID, e.ID, e.Source)
		}
		if _, ok := g.nodeIndex[e.Target]; !ok {
			return fmt.Errorf("graph %s: edge %q target %q not found (invariant 1)", g.ID, e.ID, e.Target)
		}
		g.outEdges[e.Source] = append(g.outEdges[e.Source], e)
	}

	if g.ForeverAlive() {
		for id := range g.nodeIndex {
			if len(g.outEdges[id]) == 0 {
				return fmt.Errorf("graph %s: forever-alive graph requires every node to have >=1 outgoing edge; %q has none (invariant 3)", g.ID, id)
			}
		}
	}

	return validateStaticFanOut(g)
}

// validateStaticFanOut escalates at load time when a source node has
// multiple unconditionally-co-traversable forward edges (ALWAYS, or more
// than one ON_SUCCESS) whose targets have overlapping output keys — the
// load-time half of spec §4.6 step 4 / §8's "Fan-out with overlapping
// outputKeys escalates at graph load" boundary behavior. Edges guarded by
// CONDITIONAL are not statically co-traversable and are excluded.
func validateStaticFanOut(g *GraphSpec) error {
	for source, edges := range g.outEdges {
		var coTraversable []*EdgeSpec
		for _, e := range edges {
			if e.Priority < 0 {
				continue // feedback edges never fan out
			}
			switch e.Condition {
			case Always, OnSuccess:
				coTraversable = append(coTraversable, e)
			}
		}
		if len(coTraversable) < 2 {
			continue
		}
		seen := make(map[string]string) // outputKey -> owning target
		for _, e := range coTraversable {
			target, ok := g.nodeIndex[e.Target]
			if !ok {
				continue
			}
			for _, k := range target.OutputKeys {
				if owner, dup := seen[k]; dup {
					return fmt.Errorf("graph %s: fan-out from %q has overlapping outputKey %q between targets %q and %q",
						g.ID, source, k, owner, e.Target)
				}
				seen[k] = e.Target
			}
		}
	}
	return nil
}
