package transport

import "encoding/json"

// FrameType distinguishes a WS request from its response or a pushed event.
type FrameType string

const (
	FrameTypeRequest  FrameType = "req"
	FrameTypeResponse FrameType = "res"
	FrameTypeEvent    FrameType = "event"
)

// Method is a WS request method, one per runtime RPC (spec §6).
type Method string

const (
	MethodTrigger           Method = "trigger"
	MethodInjectInput       Method = "inject_input"
	MethodChat              Method = "chat"
	MethodStop              Method = "stop"
	MethodSubscribe         Method = "subscribe"
	MethodCheckpoint        Method = "checkpoint"
	MethodRestoreCheckpoint Method = "restore_checkpoint"
	MethodListCheckpoints   Method = "list_checkpoints"
)

// Frame is the WebSocket protocol envelope for the RPC surface (spec §6).
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
}

// MarshalFrame serializes a Frame to JSON bytes.
func MarshalFrame(f Frame) ([]byte, error) { return json.Marshal(f) }

// UnmarshalFrame deserializes JSON bytes into a Frame.
func UnmarshalFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

// NewResponseFrame builds a response Frame carrying either a payload or an
// error, echoing the request's ID so a client can match replies out of order.
func NewResponseFrame(id string, ok bool, payload any, errMsg string) (Frame, error) {
	f := Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Error: errMsg}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, err
		}
		f.Payload = data
	}
	return f, nil
}

// NewEventFrame wraps an AgentEvent for delivery over a subscribed WS
// connection.
func NewEventFrame(eventType string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeEvent, Event: eventType, Payload: data}, nil
}
