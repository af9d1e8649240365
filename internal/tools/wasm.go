package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	extism "github.com/extism/go-sdk"

	"github.com/flowgraph-labs/agentrt/internal/events"
)

// wasmTool adapts one exported function of a loaded Extism plugin to
// Invokable. Several wasmTools may share the same *extism.Plugin when a
// plugin exports multiple tools.
type wasmTool struct {
	spec   ToolSpec
	fn     string
	plugin *extism.Plugin
}

func (t *wasmTool) Spec() ToolSpec { return t.spec }

func (t *wasmTool) Invoke(_ context.Context, argsJSON string) (string, error) {
	_, output, err := t.plugin.Call(t.fn, []byte(argsJSON))
	if err != nil {
		return "", fmt.Errorf("wasm tool %q: %w", t.spec.Name, err)
	}
	return string(output), nil
}

// wasmHost loads and owns WASM plugins for the lifetime of a Registry.
type wasmHost struct {
	bus     *events.Bus
	plugins map[string]*extism.Plugin // manifest name -> plugin
}

func newWasmHost(bus *events.Bus) *wasmHost {
	return &wasmHost{bus: bus, plugins: make(map[string]*extism.Plugin)}
}

// loadManifestFile loads one plugin manifest and returns one wasmTool per
// tool it declares.
func (h *wasmHost) loadManifestFile(ctx context.Context, manifestPath string) ([]*wasmTool, error) {
	m, err := loadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	if m.WasmPath != "" && !filepath.IsAbs(m.WasmPath) {
		m.WasmPath = filepath.Join(filepath.Dir(manifestPath), m.WasmPath)
	}
	if m.WasmPath == "" {
		return nil, fmt.Errorf("plugin %q: wasm_path is required", m.Name)
	}

	em := buildExtismManifest(m)
	kv := newKVStore()
	hostFns := newHostFunctions(h.bus, m.Name, kv, m.Config)

	plugin, err := extism.NewPlugin(ctx, em, extism.PluginConfig{EnableWasi: true}, hostFns)
	if err != nil {
		return nil, fmt.Errorf("load plugin %q: %w", m.Name, err)
	}

	for _, td := range m.Tools {
		if !plugin.FunctionExists(td.Func) {
			plugin.Close(ctx)
			return nil, fmt.Errorf("plugin %q: missing export %q", m.Name, td.Func)
		}
	}

	h.plugins[m.Name] = plugin
	slog.Info("tools: wasm plugin loaded", "plugin", m.Name, "wasm", m.WasmPath, "tools", len(m.Tools))

	tools := make([]*wasmTool, len(m.Tools))
	for i, td := range m.Tools {
		tools[i] = &wasmTool{spec: td.ToolSpec, fn: td.Func, plugin: plugin}
	}
	return tools, nil
}

// loadDir scans dir for one-manifest-per-subdirectory WASM plugins
// (manifest.jsonc), respecting an optional enabled allowlist by directory
// name. Missing dir is not an error (plugins are optional).
func (h *wasmHost) loadDir(ctx context.Context, dir string, enabled []string) ([]*wasmTool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plugins dir: %w", err)
	}

	enabledSet := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		enabledSet[name] = true
	}

	var out []*wasmTool
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifestPath := filepath.Join(dir, entry.Name(), "manifest.jsonc")
		if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
			continue
		}
		if len(enabledSet) > 0 && !enabledSet[entry.Name()] {
			continue
		}
		loaded, err := h.loadManifestFile(ctx, manifestPath)
		if err != nil {
			slog.Warn("tools: failed to load plugin", "dir", entry.Name(), "error", err)
			continue
		}
		out = append(out, loaded...)
	}
	return out, nil
}

func (h *wasmHost) close(ctx context.Context) {
	for name, p := range h.plugins {
		if err := p.Close(ctx); err != nil {
			slog.Warn("tools: close plugin", "plugin", name, "error", err)
		}
	}
	h.plugins = nil
}
