package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// SetOutputFunc stages one accumulator output key during a node visit
// (spec §4.4): the built-in set_output tool is the model-facing way an
// assistant turn writes an output key without a custom plugin. The registry
// is immutable and shared for the runtime's lifetime (spec §5), so the
// current visit's accumulator is resolved per call from ctx (see
// internal/accumulator.FromContext) rather than bound once at construction.
type SetOutputFunc func(ctx context.Context, key string, value any) error

type setOutputTool struct {
	set SetOutputFunc
}

func newSetOutputTool(set SetOutputFunc) *setOutputTool {
	return &setOutputTool{set: set}
}

func (t *setOutputTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "set_output",
		Description: "Record a named output value for this node visit.",
		Parameters: map[string]ParamSpec{
			"key":   {Type: "string", Description: "output key name", Required: true},
			"value": {Type: "string", Description: "output value (JSON-encoded if structured)", Required: true},
		},
	}
}

type setOutputArgs struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (t *setOutputTool) Invoke(ctx context.Context, argsJSON string) (string, error) {
	var args setOutputArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("set_output: decode args: %w", err)
	}
	if args.Key == "" {
		return "", fmt.Errorf("set_output: key is required")
	}
	if err := t.set(ctx, args.Key, args.Value); err != nil {
		return "", fmt.Errorf("set_output: %w", err)
	}
	return fmt.Sprintf("output %q recorded", args.Key), nil
}

// shellTool runs a short shell script through mvdan.cc/sh/v3's pure-Go POSIX
// interpreter and returns its combined stdout+stderr. It never shells out to
// the host /bin/sh, so it runs the same way on any OS and under any sandbox.
type shellTool struct {
	timeout time.Duration
}

func newShellTool(timeout time.Duration) *shellTool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &shellTool{timeout: timeout}
}

func (t *shellTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "shell",
		Description: "Run a POSIX shell script and return its combined output.",
		Parameters: map[string]ParamSpec{
			"script": {Type: "string", Description: "the script to run", Required: true},
		},
	}
}

type shellArgs struct {
	Script string `json:"script"`
}

func (t *shellTool) Invoke(ctx context.Context, argsJSON string) (string, error) {
	var args shellArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("shell: decode args: %w", err)
	}

	parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))
	prog, err := parser.Parse(bytes.NewReader([]byte(args.Script)), "")
	if err != nil {
		return "", fmt.Errorf("shell: parse: %w", err)
	}

	var out bytes.Buffer
	runner, err := interp.New(interp.StdIO(nil, &out, &out))
	if err != nil {
		return "", fmt.Errorf("shell: new interpreter: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := runner.Run(runCtx, prog); err != nil {
		return out.String(), fmt.Errorf("shell: %w", err)
	}
	return out.String(), nil
}
