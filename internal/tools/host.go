package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	extism "github.com/extism/go-sdk"

	"github.com/flowgraph-labs/agentrt/internal/events"
)

// kvStore is a per-plugin in-memory key-value store, scoped to one loaded
// plugin instance's lifetime.
type kvStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newKVStore() *kvStore { return &kvStore{data: make(map[string][]byte)} }

func (s *kvStore) get(key string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[key]
}

func (s *kvStore) set(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

type hostLogMessage struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type hostKVRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type hostEmitEvent struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// newHostFunctions builds the standard "agentrt" host functions every WASM
// plugin gets: logging, a per-plugin KV store, event emission, and static
// config lookup. All functions live in the "agentrt" namespace.
func newHostFunctions(bus *events.Bus, pluginID string, kv *kvStore, pluginConfig map[string]string) []extism.HostFunction {
	var fns []extism.HostFunction

	logFn := extism.NewHostFunctionWithStack(
		"log",
		func(_ context.Context, p *extism.CurrentPlugin, stack []uint64) {
			input, err := p.ReadBytes(stack[0])
			if err != nil {
				slog.Error("tools: host log read", "error", err)
				return
			}
			var msg hostLogMessage
			if err := json.Unmarshal(input, &msg); err != nil {
				slog.Warn("tools: host log invalid payload", "raw", string(input))
				return
			}
			switch msg.Level {
			case "debug":
				slog.Debug("plugin", "plugin", pluginID, "msg", msg.Message)
			case "warn":
				slog.Warn("plugin", "plugin", pluginID, "msg", msg.Message)
			case "error":
				slog.Error("plugin", "plugin", pluginID, "msg", msg.Message)
			default:
				slog.Info("plugin", "plugin", pluginID, "msg", msg.Message)
			}
		},
		[]extism.ValueType{extism.ValueTypePTR}, nil,
	)
	logFn.SetNamespace("agentrt")
	fns = append(fns, logFn)

	kvGetFn := extism.NewHostFunctionWithStack(
		"kv_get",
		func(_ context.Context, p *extism.CurrentPlugin, stack []uint64) {
			key, err := p.ReadString(stack[0])
			if err != nil {
				stack[0] = 0
				return
			}
			value := kv.get(key)
			if value == nil {
				value = []byte("{}")
			}
			offset, err := p.WriteBytes(value)
			if err != nil {
				stack[0] = 0
				return
			}
			stack[0] = offset
		},
		[]extism.ValueType{extism.ValueTypePTR}, []extism.ValueType{extism.ValueTypePTR},
	)
	kvGetFn.SetNamespace("agentrt")
	fns = append(fns, kvGetFn)

	kvSetFn := extism.NewHostFunctionWithStack(
		"kv_set",
		func(_ context.Context, p *extism.CurrentPlugin, stack []uint64) {
			input, err := p.ReadBytes(stack[0])
			if err != nil {
				return
			}
			var req hostKVRequest
			if err := json.Unmarshal(input, &req); err != nil {
				return
			}
			kv.set(req.Key, []byte(req.Value))
		},
		[]extism.ValueType{extism.ValueTypePTR}, nil,
	)
	kvSetFn.SetNamespace("agentrt")
	fns = append(fns, kvSetFn)

	emitFn := extism.NewHostFunctionWithStack(
		"emit_event",
		func(_ context.Context, p *extism.CurrentPlugin, stack []uint64) {
			input, err := p.ReadBytes(stack[0])
			if err != nil {
				return
			}
			var ev hostEmitEvent
			if err := json.Unmarshal(input, &ev); err != nil {
				return
			}
			payload := ev.Payload
			if payload == nil {
				payload = map[string]any{}
			}
			payload["pluginId"] = pluginID
			bus.Publish(events.AgentEvent{Type: events.EventType(ev.Type), Payload: payload})
		},
		[]extism.ValueType{extism.ValueTypePTR}, nil,
	)
	emitFn.SetNamespace("agentrt")
	fns = append(fns, emitFn)

	getConfigFn := extism.NewHostFunctionWithStack(
		"get_config",
		func(_ context.Context, p *extism.CurrentPlugin, stack []uint64) {
			key, err := p.ReadString(stack[0])
			if err != nil {
				stack[0] = 0
				return
			}
			offset, err := p.WriteString(pluginConfig[key])
			if err != nil {
				stack[0] = 0
				return
			}
			stack[0] = offset
		},
		[]extism.ValueType{extism.ValueTypePTR}, []extism.ValueType{extism.ValueTypePTR},
	)
	getConfigFn.SetNamespace("agentrt")
	fns = append(fns, getConfigFn)

	return fns
}
