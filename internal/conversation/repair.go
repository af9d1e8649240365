package conversation

import "fmt"

// Repair scans the tail of the conversation for tool_call messages with no
// matching tool_result and appends a synthetic tool_result for each,
// satisfying spec §4.2's resume invariant: "if any tool_call lacks a
// matching tool_result ... a synthetic tool_result noting the interruption
// is appended before normal processing resumes." It returns the ordinals of
// the synthetic messages appended, if any.
func Repair(s *Store) ([]int, error) {
	msgs, err := s.ReadFrom(1)
	if err != nil {
		return nil, fmt.Errorf("conversation: repair: %w", err)
	}

	answered := make(map[string]bool)
	var pending []Message
	for _, m := range msgs {
		switch m.Type {
		case MessageToolCall:
			pending = append(pending, m)
		case MessageToolResult:
			answered[m.ToolCallID] = true
		}
	}

	var appended []int
	for _, call := range pending {
		if answered[call.ToolCallID] {
			continue
		}
		ordinal, err := s.Append(Message{
			Type:       MessageToolResult,
			ToolCallID: call.ToolCallID,
			ToolName:   call.ToolName,
			ToolError:  "interrupted before completion; execution was resumed",
		})
		if err != nil {
			return appended, fmt.Errorf("conversation: repair: append synthetic result: %w", err)
		}
		appended = append(appended, ordinal)
	}
	return appended, nil
}
