package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowgraph-labs/agentrt/internal/events"
)

func TestSetOutputTool_InvokeCallsSetFunc(t *testing.T) {
	var gotKey string
	var gotValue any
	tool := newSetOutputTool(func(_ context.Context, key string, value any) error {
		gotKey, gotValue = key, value
		return nil
	})

	args, _ := json.Marshal(map[string]any{"key": "summary", "value": "done"})
	out, err := tool.Invoke(context.Background(), string(args))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if gotKey != "summary" || gotValue != "done" {
		t.Fatalf("expected key=summary value=done, got key=%q value=%v", gotKey, gotValue)
	}
	if out == "" {
		t.Fatalf("expected a non-empty confirmation string")
	}
}

func TestSetOutputTool_MissingKeyErrors(t *testing.T) {
	tool := newSetOutputTool(func(context.Context, string, any) error { return nil })
	args, _ := json.Marshal(map[string]any{"value": "x"})
	if _, err := tool.Invoke(context.Background(), string(args)); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func TestShellTool_RunsScriptAndCapturesOutput(t *testing.T) {
	tool := newShellTool(5 * time.Second)
	args, _ := json.Marshal(map[string]any{"script": "echo hello"})
	out, err := tool.Invoke(context.Background(), string(args))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "hello\n" {
		t.Fatalf("expected %q, got %q", "hello\n", out)
	}
}

func TestShellTool_NonzeroExitReturnsError(t *testing.T) {
	tool := newShellTool(5 * time.Second)
	args, _ := json.Marshal(map[string]any{"script": "exit 3"})
	if _, err := tool.Invoke(context.Background(), string(args)); err == nil {
		t.Fatalf("expected error for nonzero exit")
	}
}

func TestCompositeRegistry_ListAndCallBuiltins(t *testing.T) {
	bus := events.NewBus()
	reg := NewCompositeRegistry(context.Background(), bus, Config{
		SetOutput: func(context.Context, string, any) error { return nil },
	})
	defer reg.Close(context.Background())

	names := map[string]bool{}
	for _, spec := range reg.List() {
		names[spec.Name] = true
	}
	if !names["set_output"] || !names["shell"] {
		t.Fatalf("expected set_output and shell in list, got %+v", names)
	}

	args, _ := json.Marshal(map[string]any{"script": "echo hi"})
	out, err := reg.Call(context.Background(), "shell", string(args))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out != "hi\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCompositeRegistry_UnknownToolErrors(t *testing.T) {
	reg := NewCompositeRegistry(context.Background(), events.NewBus(), Config{})
	defer reg.Close(context.Background())
	if _, err := reg.Call(context.Background(), "does_not_exist", "{}"); err == nil {
		t.Fatalf("expected error for unknown tool")
	}
}

func TestLoadManifest_ParsesJSONCWithComments(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "manifest.jsonc")
	content := `{
  // a test plugin
  "name": "greeter",
  "description": "says hello",
  "wasm_path": "greeter.wasm",
  "tools": [
    {
      "name": "greet",
      "description": "greets someone",
      "parameters": {
        "name": {"type": "string", "description": "who to greet", "required": true}
      }
    }
  ]
}`
	if err := os.WriteFile(manifestPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	m, err := loadManifest(manifestPath)
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}
	if m.Name != "greeter" || len(m.Tools) != 1 {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	if m.Tools[0].Func != "handle" {
		t.Fatalf("expected default func 'handle', got %q", m.Tools[0].Func)
	}
	if !m.Tools[0].Parameters["name"].Required {
		t.Fatalf("expected name parameter to be required")
	}
}

func TestParametersToMap_MarksRequiredFields(t *testing.T) {
	m := ParametersToMap(map[string]ParamSpec{
		"a": {Type: "string", Required: true},
		"b": {Type: "number"},
	})
	req, ok := m["required"].([]string)
	if !ok || len(req) != 1 || req[0] != "a" {
		t.Fatalf("expected required=[a], got %+v", m["required"])
	}
}
