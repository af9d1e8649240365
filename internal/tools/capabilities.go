package tools

import (
	extism "github.com/extism/go-sdk"
)

// CapabilitySet lists what a WASM plugin may use (adapted from the teacher's
// plugin capability model, unchanged in shape). HTTP, Filesystem, Memory and
// Timeout are applied deny-by-default by buildExtismManifest; KV, Log and
// Exec are not consulted: every plugin gets the agentrt log, kv_get, kv_set,
// emit_event and get_config host functions.
type CapabilitySet struct {
	HTTP       *HTTPCapability `json:"http,omitempty"`
	KV         bool            `json:"kv"`
	Log        bool            `json:"log"`
	Filesystem *FSCapability   `json:"filesystem,omitempty"`
	Exec       bool            `json:"exec"`
	Memory     *MemoryLimit    `json:"memory,omitempty"`
	Timeout    int             `json:"timeout,omitempty"` // milliseconds
}

// HTTPCapability allows network access to specific hosts.
type HTTPCapability struct {
	AllowedHosts []string `json:"allowed_hosts"`
}

// FSCapability allows filesystem access to specific paths.
type FSCapability struct {
	AllowedPaths map[string]string `json:"allowed_paths"` // host path -> guest path
	ReadOnly     bool              `json:"read_only"`
}

// MemoryLimit constrains WASM memory usage.
type MemoryLimit struct {
	MaxPages uint32 `json:"max_pages"` // 1 page = 64 KiB
}

// buildExtismManifest converts a PluginManifest into an extism.Manifest with
// deny-by-default capabilities: nothing is granted unless the manifest
// explicitly lists it.
func buildExtismManifest(m *PluginManifest) extism.Manifest {
	em := extism.Manifest{
		Wasm:   []extism.Wasm{extism.WasmFile{Path: m.WasmPath}},
		Config: m.Config,
	}

	caps := m.Capabilities
	if caps.HTTP != nil && len(caps.HTTP.AllowedHosts) > 0 {
		em.AllowedHosts = caps.HTTP.AllowedHosts
	}
	if caps.Filesystem != nil && len(caps.Filesystem.AllowedPaths) > 0 {
		em.AllowedPaths = caps.Filesystem.AllowedPaths
	}
	if caps.Memory != nil && caps.Memory.MaxPages > 0 {
		em.Memory = &extism.ManifestMemory{MaxPages: caps.Memory.MaxPages}
	}
	if caps.Timeout > 0 {
		em.Timeout = uint64(caps.Timeout)
	}
	return em
}
