package conversation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestAppend_OrdinalsIncreaseAndPersist(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	o1, err := s.Append(Message{Type: MessageUser, Content: "hi"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	o2, err := s.Append(Message{Type: MessageAssistant, Content: "hello"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if o1 != 1 || o2 != 2 {
		t.Fatalf("expected ordinals 1,2 got %d,%d", o1, o2)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.LastOrdinal() != 2 {
		t.Fatalf("expected LastOrdinal=2 after reopen, got %d", reopened.LastOrdinal())
	}

	msgs, err := reopened.ReadFrom(1)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "hi" || msgs[1].Content != "hello" {
		t.Fatalf("unexpected replay: %+v", msgs)
	}
}

func TestCursor_WriteAndRead(t *testing.T) {
	s := openTemp(t)
	c := Cursor{Iteration: 3, LastMessageOrdinal: 5, Outputs: map[string]any{"k": "v"}}
	if err := s.WriteCursor(c); err != nil {
		t.Fatalf("WriteCursor: %v", err)
	}
	got, err := s.ReadCursor()
	if err != nil {
		t.Fatalf("ReadCursor: %v", err)
	}
	if got == nil || got.Iteration != 3 || got.LastMessageOrdinal != 5 {
		t.Fatalf("unexpected cursor: %+v", got)
	}
}

func TestReadCursor_MissingReturnsNilNoError(t *testing.T) {
	s := openTemp(t)
	c, err := s.ReadCursor()
	if err != nil || c != nil {
		t.Fatalf("expected (nil, nil) for missing cursor, got %+v, %v", c, err)
	}
}

func TestRepair_AppendsSyntheticResultForOrphanedToolCall(t *testing.T) {
	s := openTemp(t)
	if _, err := s.Append(Message{Type: MessageToolCall, ToolCallID: "c1", ToolName: "search"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append(Message{Type: MessageToolCall, ToolCallID: "c2", ToolName: "fetch"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append(Message{Type: MessageToolResult, ToolCallID: "c1"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	appended, err := Repair(s)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if len(appended) != 1 {
		t.Fatalf("expected exactly one synthetic result for c2, got %v", appended)
	}

	msgs, err := s.ReadFrom(1)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	last := msgs[len(msgs)-1]
	if last.Type != MessageToolResult || last.ToolCallID != "c2" || last.ToolError == "" {
		t.Fatalf("expected synthetic tool_result for c2, got %+v", last)
	}
}

func TestRepair_NoOpWhenAllCallsAnswered(t *testing.T) {
	s := openTemp(t)
	s.Append(Message{Type: MessageToolCall, ToolCallID: "c1"})
	s.Append(Message{Type: MessageToolResult, ToolCallID: "c1"})

	appended, err := Repair(s)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if len(appended) != 0 {
		t.Fatalf("expected no synthetic messages, got %v", appended)
	}
}

func TestCompactor_NoOpBelowThreshold(t *testing.T) {
	s := openTemp(t)
	s.Append(Message{Type: MessageUser, Content: "short"})

	c := NewCompactor(CompactorConfig{ContextWindow: 100000})
	compacted, err := c.Compact(context.Background(), s, 0, func(ctx context.Context, prompt string) (string, error) {
		t.Fatalf("summarize should not be called below threshold")
		return "", nil
	})
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if compacted {
		t.Fatalf("expected no compaction below threshold")
	}
}

func TestCompactor_SummarizesAndMarkerShortensReplay(t *testing.T) {
	s := openTemp(t)
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	for i := 0; i < 20; i++ {
		s.Append(Message{Type: MessageAssistant, Content: string(long)})
	}

	c := NewCompactor(CompactorConfig{ContextWindow: 1000, CharsPerToken: 4})
	called := false
	compacted, err := c.Compact(context.Background(), s, 0, func(ctx context.Context, prompt string) (string, error) {
		called = true
		return "summary of old turns", nil
	})
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if !compacted || !called {
		t.Fatalf("expected compaction to trigger and call summarize")
	}

	msgs, err := s.ReadFrom(1)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if msgs[0].Type != MessageSystemMarker {
		t.Fatalf("expected replay to start at the summary marker, got %+v", msgs[0])
	}

	// the underlying part files for superseded turns must still exist on disk
	if _, err := os.Stat(partPath(s.dir, 1)); err != nil {
		t.Fatalf("superseded part file missing after compaction: %v", err)
	}
}

func TestPartPath_FixedWidthOrdinals(t *testing.T) {
	dir := t.TempDir()
	got := partPath(dir, 7)
	want := filepath.Join(dir, "parts", "0000000007.json")
	if got != want {
		t.Fatalf("partPath = %q, want %q", got, want)
	}
}
