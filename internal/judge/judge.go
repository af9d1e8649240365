// Package judge implements Judge (spec §4.5): the per-iteration evaluator
// invoked after each LLM turn that decides whether a node visit accepts,
// retries, continues, or escalates.
package judge

import "github.com/flowgraph-labs/agentrt/internal/graph"

// Verdict is one of the four outcomes a Judge may return.
type Verdict string

const (
	VerdictAccept   Verdict = "ACCEPT"
	VerdictRetry    Verdict = "RETRY"
	VerdictContinue Verdict = "CONTINUE"
	VerdictEscalate Verdict = "ESCALATE"
)

// Outcome is a Judge's decision plus its rationale.
type Outcome struct {
	Verdict   Verdict
	Rationale string
}

// Input is everything a Judge needs to evaluate one turn (spec §4.5).
type Input struct {
	Node                 *graph.NodeSpec
	AssistantText         string
	HadToolCalls          bool
	AccumulatedOutputKeys []string
	UserInteractionCount  int
}

// Judge evaluates one LLM turn within a node visit. Implementations must be
// deterministic given the same Input (spec §8 invariant 4: once a visit
// ACCEPTs, no further turns of that visit execute).
type Judge interface {
	Evaluate(in Input) (Outcome, error)
}

func hasKey(keys []string, target string) bool {
	for _, k := range keys {
		if k == target {
			return true
		}
	}
	return false
}
