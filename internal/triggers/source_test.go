package triggers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowgraph-labs/agentrt/internal/events"
	"github.com/flowgraph-labs/agentrt/internal/graph"
)

func TestSource_Trigger_ManualFires(t *testing.T) {
	var calls int32
	fire := func(ctx context.Context, ep *graph.EntryPointSpec, input map[string]any, resumeSessionID string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}
	ep := &graph.EntryPointSpec{ID: "ep1", TriggerType: graph.TriggerManual}
	s, err := NewSource("g1", ep, fire, events.NewBus())
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	if err := s.Trigger(context.Background(), map[string]any{"x": 1}, ""); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestSource_Trigger_RespectsMaxConcurrent(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	fire := func(ctx context.Context, ep *graph.EntryPointSpec, input map[string]any, resumeSessionID string) error {
		started <- struct{}{}
		<-release
		return nil
	}
	ep := &graph.EntryPointSpec{ID: "ep1", TriggerType: graph.TriggerManual, MaxConcurrent: 1}
	s, err := NewSource("g1", ep, fire, events.NewBus())
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Trigger(context.Background(), nil, "")
	}()
	<-started

	if err := s.Trigger(context.Background(), nil, ""); err == nil {
		t.Fatal("expected second concurrent Trigger to be rejected at maxConcurrent=1")
	}

	close(release)
	wg.Wait()
}

func TestSource_Event_FiresOnMatchingType(t *testing.T) {
	fired := make(chan map[string]any, 1)
	fire := func(ctx context.Context, ep *graph.EntryPointSpec, input map[string]any, resumeSessionID string) error {
		fired <- input
		return nil
	}
	bus := events.NewBus()
	ep := &graph.EntryPointSpec{
		ID: "ep1", TriggerType: graph.TriggerEvent,
		TriggerConfig: graph.TriggerConfig{EventTypes: []string{string(events.GoalProgress)}},
	}
	s, err := NewSource("g1", ep, fire, bus)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	// Unrelated event type: should not fire.
	bus.Publish(events.AgentEvent{Type: events.NodeLoopStarted})
	select {
	case <-fired:
		t.Fatal("fired on a non-matching event type")
	case <-time.After(50 * time.Millisecond):
	}

	bus.Publish(events.AgentEvent{Type: events.GoalProgress, Payload: map[string]any{"k": "v"}})
	select {
	case got := <-fired:
		if got["k"] != "v" {
			t.Fatalf("input payload = %+v, want k=v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a fire on matching event type")
	}
}

func TestSource_Event_ExcludesOwnGraph(t *testing.T) {
	fired := make(chan struct{}, 1)
	fire := func(ctx context.Context, ep *graph.EntryPointSpec, input map[string]any, resumeSessionID string) error {
		fired <- struct{}{}
		return nil
	}
	bus := events.NewBus()
	ep := &graph.EntryPointSpec{
		ID: "ep1", TriggerType: graph.TriggerEvent,
		TriggerConfig: graph.TriggerConfig{EventTypes: []string{string(events.GoalProgress)}, ExcludeOwnGraph: true},
	}
	s, err := NewSource("g1", ep, fire, bus)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	bus.Publish(events.AgentEvent{Type: events.GoalProgress, GraphID: "g1"})
	select {
	case <-fired:
		t.Fatal("fired on an event from its own graph despite excludeOwnGraph")
	case <-time.After(50 * time.Millisecond):
	}

	bus.Publish(events.AgentEvent{Type: events.GoalProgress, GraphID: "g2"})
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a fire on an event from a different graph")
	}
}

func TestSource_WebhookHandler_VerifiesHMAC(t *testing.T) {
	fired := make(chan struct{}, 1)
	fire := func(ctx context.Context, ep *graph.EntryPointSpec, input map[string]any, resumeSessionID string) error {
		fired <- struct{}{}
		return nil
	}
	ep := &graph.EntryPointSpec{
		ID: "ep1", TriggerType: graph.TriggerWebhook,
		TriggerConfig: graph.TriggerConfig{WebhookPath: "/hooks/ep1", WebhookSecret: "s3cret"},
	}
	s, err := NewSource("g1", ep, fire, events.NewBus())
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	handler := s.WebhookHandler()

	body := []byte(`{"hello":"world"}`)
	req := httptest.NewRequest(http.MethodPost, "/hooks/ep1", bytes.NewReader(body))
	req.Header.Set("X-Signature-256", "sha256=bogus")
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for a bad signature", rec.Code)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	req2 := httptest.NewRequest(http.MethodPost, "/hooks/ep1", bytes.NewReader(body))
	req2.Header.Set("X-Signature-256", sig)
	rec2 := httptest.NewRecorder()
	handler(rec2, req2)
	if rec2.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 for a valid signature", rec2.Code)
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a fire after a verified webhook")
	}
}

func TestSource_WebhookHandler_NoSecretSkipsVerification(t *testing.T) {
	fired := make(chan struct{}, 1)
	fire := func(ctx context.Context, ep *graph.EntryPointSpec, input map[string]any, resumeSessionID string) error {
		fired <- struct{}{}
		return nil
	}
	ep := &graph.EntryPointSpec{
		ID: "ep1", TriggerType: graph.TriggerWebhook,
		TriggerConfig: graph.TriggerConfig{WebhookPath: "/hooks/ep1"},
	}
	s, err := NewSource("g1", ep, fire, events.NewBus())
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/hooks/ep1", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	s.WebhookHandler()(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a fire with no secret configured")
	}
}

// fakeCronSchedule reports a match for exactly one minute, for cronMatches.
type fakeCronSchedule struct {
	activation time.Time
}

func (f fakeCronSchedule) Next(after time.Time) time.Time {
	return f.activation
}

func TestCronMatches(t *testing.T) {
	activation := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	sched := fakeCronSchedule{activation: activation}

	if !cronMatches(sched, activation) {
		t.Fatal("expected a match exactly on the activation minute")
	}
	if cronMatches(sched, activation.Add(time.Minute)) {
		t.Fatal("expected no match a minute after the activation")
	}
}

func TestManager_StartStop_WiresWebhookRoutes(t *testing.T) {
	fire := func(ctx context.Context, ep *graph.EntryPointSpec, input map[string]any, resumeSessionID string) error { return nil }
	eps := []*graph.EntryPointSpec{
		{ID: "ep1", TriggerType: graph.TriggerManual},
		{ID: "ep2", TriggerType: graph.TriggerWebhook, TriggerConfig: graph.TriggerConfig{WebhookPath: "/hooks/ep2"}},
	}
	m, err := NewManager("g1", eps, fire, events.NewBus())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.Start(context.Background())
	defer m.Stop()

	if _, ok := m.Source("ep1"); !ok {
		t.Fatal("expected ep1's Source to be registered")
	}

	req := httptest.NewRequest(http.MethodPost, "/hooks/ep2", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	m.WebhookHandler().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("webhook route status = %d, want 202", rec.Code)
	}
}
