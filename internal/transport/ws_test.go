package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func dialTestHub(t *testing.T, srv *Server) (*websocket.Conn, func()) {
	t.Helper()
	ts := httptest.NewServer(srv.httpServer.Handler)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		ts.Close()
		t.Fatalf("dial ws: %v", err)
	}
	return conn, func() {
		conn.Close(websocket.StatusNormalClosure, "")
		ts.Close()
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, f Frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := MarshalFrame(f)
	if err != nil {
		t.Fatalf("MarshalFrame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}
	return f
}

func TestWS_Trigger_RespondsOK(t *testing.T) {
	srv, _ := newTestServer(t)
	conn, closeAll := dialTestHub(t, srv)
	defer closeAll()

	params, _ := json.Marshal(triggerRequest{GraphID: "g1", EntryPointID: "ep1", SessionID: "sess-ws"})
	sendFrame(t, conn, Frame{Type: FrameTypeRequest, ID: "r1", Method: string(MethodTrigger), Params: params})

	resp := readFrame(t, conn)
	if resp.Type != FrameTypeResponse || resp.ID != "r1" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.OK == nil || !*resp.OK {
		t.Fatalf("expected ok response, got %+v", resp)
	}
}

func TestWS_UnknownMethod_RespondsError(t *testing.T) {
	srv, _ := newTestServer(t)
	conn, closeAll := dialTestHub(t, srv)
	defer closeAll()

	sendFrame(t, conn, Frame{Type: FrameTypeRequest, ID: "r1", Method: "bogus_method"})

	resp := readFrame(t, conn)
	if resp.OK == nil || *resp.OK {
		t.Fatalf("expected error response, got %+v", resp)
	}
}

func TestWS_Subscribe_ReceivesTriggerEvents(t *testing.T) {
	srv, _ := newTestServer(t)
	conn, closeAll := dialTestHub(t, srv)
	defer closeAll()

	sendFrame(t, conn, Frame{Type: FrameTypeRequest, ID: "sub1", Method: string(MethodSubscribe)})
	subResp := readFrame(t, conn)
	if subResp.OK == nil || !*subResp.OK {
		t.Fatalf("subscribe failed: %+v", subResp)
	}

	params, _ := json.Marshal(triggerRequest{GraphID: "g1", EntryPointID: "ep1", SessionID: "sess-ws2"})
	sendFrame(t, conn, Frame{Type: FrameTypeRequest, ID: "r2", Method: string(MethodTrigger), Params: params})

	sawTriggerResponse := false
	sawEvent := false
	for i := 0; i < 10 && !(sawTriggerResponse && sawEvent); i++ {
		f := readFrame(t, conn)
		switch f.Type {
		case FrameTypeResponse:
			sawTriggerResponse = true
		case FrameTypeEvent:
			sawEvent = true
		}
	}
	if !sawEvent {
		t.Fatal("expected at least one event frame after triggering an entry point")
	}
}
