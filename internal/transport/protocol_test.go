package transport

import (
	"encoding/json"
	"testing"
)

func TestMarshalUnmarshal_RequestFrame(t *testing.T) {
	params, _ := json.Marshal(map[string]string{"message": "hello"})
	orig := Frame{Type: FrameTypeRequest, ID: "req-1", Method: string(MethodChat), Params: params}

	data, err := MarshalFrame(orig)
	if err != nil {
		t.Fatalf("MarshalFrame: %v", err)
	}
	got, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}
	if got.Type != FrameTypeRequest || got.ID != "req-1" || got.Method != string(MethodChat) {
		t.Fatalf("got = %+v, want req-1/chat", got)
	}

	var p map[string]string
	if err := json.Unmarshal(got.Params, &p); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if p["message"] != "hello" {
		t.Fatalf("params.message = %q, want hello", p["message"])
	}
}

func TestNewResponseFrame_CarriesPayloadOnSuccess(t *testing.T) {
	f, err := NewResponseFrame("req-1", true, map[string]bool{"injected": true}, "")
	if err != nil {
		t.Fatalf("NewResponseFrame: %v", err)
	}
	if f.OK == nil || !*f.OK {
		t.Fatal("expected OK=true")
	}
	var p map[string]bool
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if !p["injected"] {
		t.Fatal("expected payload.injected = true")
	}
}

func TestNewResponseFrame_CarriesErrorOnFailure(t *testing.T) {
	f, err := NewResponseFrame("req-1", false, nil, "graph not registered")
	if err != nil {
		t.Fatalf("NewResponseFrame: %v", err)
	}
	if f.OK == nil || *f.OK {
		t.Fatal("expected OK=false")
	}
	if f.Error != "graph not registered" {
		t.Fatalf("Error = %q, want graph not registered", f.Error)
	}
}

func TestNewEventFrame_MarshalsPayload(t *testing.T) {
	f, err := NewEventFrame("EXECUTION_STARTED", map[string]string{"graphId": "g1"})
	if err != nil {
		t.Fatalf("NewEventFrame: %v", err)
	}
	if f.Type != FrameTypeEvent || f.Event != "EXECUTION_STARTED" {
		t.Fatalf("got = %+v", f)
	}
}
