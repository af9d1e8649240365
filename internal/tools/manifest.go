package tools

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// PluginManifest describes a WASM plugin's metadata, capabilities, and the
// tools it exports (adapted from the teacher's plugin manifest, reparsed as
// JSONC via hujson instead of the teacher's undeclared go-jsonc dependency).
type PluginManifest struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	WasmPath     string            `json:"wasm_path"`
	Capabilities CapabilitySet     `json:"capabilities"`
	Tools        []ToolDef         `json:"tools"`
	Config       map[string]string `json:"config"`
}

// ToolDef is a single tool entry inside a plugin manifest: a ToolSpec plus
// the WASM export name that implements it.
type ToolDef struct {
	ToolSpec
	Func string `json:"func,omitempty"` // WASM export name, default "handle"
}

// loadManifest reads and parses a JSONC plugin manifest file.
func loadManifest(path string) (*PluginManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	var m PluginManifest
	if err := json.Unmarshal(std, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("manifest %s: name is required", path)
	}
	if len(m.Tools) == 0 {
		return nil, fmt.Errorf("manifest %s: at least one tool is required", path)
	}

	for i := range m.Tools {
		if m.Tools[i].Func == "" {
			m.Tools[i].Func = "handle"
		}
		if m.Tools[i].Name == "" {
			if len(m.Tools) == 1 {
				m.Tools[i].Name = m.Name
			} else {
				return nil, fmt.Errorf("manifest %s: tool at index %d must have a name", path, i)
			}
		}
	}
	return &m, nil
}
