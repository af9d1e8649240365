package judge

// ImplicitJudge is the default Judge (spec §4.5), applying four ordered
// rules with no LLM call of its own.
type ImplicitJudge struct{}

// NewImplicitJudge returns the default rule-based Judge.
func NewImplicitJudge() *ImplicitJudge { return &ImplicitJudge{} }

func (ImplicitJudge) Evaluate(in Input) (Outcome, error) {
	if in.HadToolCalls {
		return Outcome{Verdict: VerdictContinue, Rationale: "tool calls pending"}, nil
	}

	if in.Node.ClientFacing && in.UserInteractionCount == 0 && in.AssistantText == "" {
		return Outcome{Verdict: VerdictRetry, Rationale: "must present to user first"}, nil
	}

	for _, required := range in.Node.RequiredOutputKeys() {
		if !hasKey(in.AccumulatedOutputKeys, required) {
			return Outcome{Verdict: VerdictRetry, Rationale: "missing required output key: " + required}, nil
		}
	}

	return Outcome{Verdict: VerdictAccept, Rationale: "all required outputs present"}, nil
}
