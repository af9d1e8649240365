package judge

import (
	"context"
	"testing"

	"github.com/flowgraph-labs/agentrt/internal/graph"
	"github.com/flowgraph-labs/agentrt/internal/llmclient"
)

func TestImplicitJudge_ToolCallsContinue(t *testing.T) {
	j := NewImplicitJudge()
	out, err := j.Evaluate(Input{Node: &graph.NodeSpec{}, HadToolCalls: true})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.Verdict != VerdictContinue {
		t.Fatalf("expected CONTINUE, got %v", out.Verdict)
	}
}

func TestImplicitJudge_ClientFacingFirstTurnRetriesWithoutText(t *testing.T) {
	j := NewImplicitJudge()
	node := &graph.NodeSpec{ClientFacing: true}
	out, err := j.Evaluate(Input{Node: node, UserInteractionCount: 0, AssistantText: ""})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.Verdict != VerdictRetry {
		t.Fatalf("expected RETRY, got %v", out.Verdict)
	}
}

func TestImplicitJudge_MissingRequiredOutputRetries(t *testing.T) {
	j := NewImplicitJudge()
	node := &graph.NodeSpec{OutputKeys: []string{"summary"}}
	out, err := j.Evaluate(Input{Node: node, AssistantText: "here you go"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.Verdict != VerdictRetry {
		t.Fatalf("expected RETRY for missing output key, got %v", out.Verdict)
	}
}

func TestImplicitJudge_NullableOutputDoesNotBlockAccept(t *testing.T) {
	j := NewImplicitJudge()
	node := &graph.NodeSpec{
		OutputKeys:         []string{"summary", "optional_note"},
		NullableOutputKeys: []string{"optional_note"},
	}
	out, err := j.Evaluate(Input{
		Node:                  node,
		AssistantText:         "done",
		AccumulatedOutputKeys: []string{"summary"},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.Verdict != VerdictAccept {
		t.Fatalf("expected ACCEPT when only nullable key is missing, got %v", out.Verdict)
	}
}

func TestImplicitJudge_AllRequiredPresentAccepts(t *testing.T) {
	j := NewImplicitJudge()
	node := &graph.NodeSpec{OutputKeys: []string{"summary"}}
	out, err := j.Evaluate(Input{
		Node:                  node,
		AssistantText:         "done",
		AccumulatedOutputKeys: []string{"summary"},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.Verdict != VerdictAccept {
		t.Fatalf("expected ACCEPT, got %v", out.Verdict)
	}
}

// fakeStream is a deterministic llmclient.Stream for tests.
type fakeStream struct {
	text string
}

func (f *fakeStream) Deltas() <-chan string {
	ch := make(chan string)
	close(ch)
	return ch
}

func (f *fakeStream) Wait() (*llmclient.Result, error) {
	return &llmclient.Result{Text: f.text}, nil
}

type fakeClient struct{ response string }

func (f *fakeClient) Generate(ctx context.Context, messages []llmclient.Message, tools []llmclient.ToolSpec) (llmclient.Stream, error) {
	return &fakeStream{text: f.response}, nil
}

func TestLLMJudge_ParsesAcceptVerdict(t *testing.T) {
	j := NewLLMJudge(&fakeClient{response: `{"verdict": "ACCEPT", "rationale": "looks good"}`})
	out, err := j.Evaluate(Input{Node: &graph.NodeSpec{ID: "n1"}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.Verdict != VerdictAccept || out.Rationale != "looks good" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestLLMJudge_UnparsableResponseEscalates(t *testing.T) {
	j := NewLLMJudge(&fakeClient{response: "not json at all"})
	out, err := j.Evaluate(Input{Node: &graph.NodeSpec{ID: "n1"}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.Verdict != VerdictEscalate {
		t.Fatalf("expected ESCALATE for unparsable response, got %v", out.Verdict)
	}
}

func TestLLMJudge_StripsMarkdownFence(t *testing.T) {
	j := NewLLMJudge(&fakeClient{response: "```json\n{\"verdict\": \"RETRY\", \"rationale\": \"try again\"}\n```"})
	out, err := j.Evaluate(Input{Node: &graph.NodeSpec{ID: "n1"}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.Verdict != VerdictRetry {
		t.Fatalf("expected RETRY, got %v", out.Verdict)
	}
}
