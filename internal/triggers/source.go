// Package triggers implements TriggerSources (spec §4.8): the manual,
// timer, event, and webhook stimuli that fire an EntryPointSpec's stream,
// each honoring its entry point's maxConcurrent cap.
package triggers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	cron "github.com/netresearch/go-cron"

	"github.com/flowgraph-labs/agentrt/internal/events"
	"github.com/flowgraph-labs/agentrt/internal/graph"
	"github.com/flowgraph-labs/agentrt/internal/rterr"
)

// FireFunc runs one entry point's stream with input. resumeSessionID is a
// caller preference (set for manual triggers that want to resume a specific
// session); empty means "no preference" — AgentRuntime picks a fixed
// persistent session for timer entry points and a fresh one otherwise.
// Session/ExecutionID bookkeeping is entirely AgentRuntime's responsibility;
// Source only decides *when* to call FireFunc and enforces maxConcurrent.
type FireFunc func(ctx context.Context, ep *graph.EntryPointSpec, input map[string]any, resumeSessionID string) error

// cronSchedule is the narrow slice of a parsed cron expression Source needs;
// github.com/netresearch/go-cron's Schedule type satisfies it.
type cronSchedule interface {
	Next(time.Time) time.Time
}

// Source drives one EntryPointSpec: it decides when to call FireFunc and
// enforces the entry point's maxConcurrent cap across concurrent fires.
type Source struct {
	graphID string
	ep      *graph.EntryPointSpec
	fire    FireFunc
	bus     *events.Bus

	cronSched cronSchedule

	mu      sync.Mutex
	running int
	lastRun time.Time

	cancel context.CancelFunc
}

// NewSource builds a Source for ep. Returns an error if ep's TriggerConfig
// carries a malformed cron expression.
func NewSource(graphID string, ep *graph.EntryPointSpec, fire FireFunc, bus *events.Bus) (*Source, error) {
	s := &Source{graphID: graphID, ep: ep, fire: fire, bus: bus}
	if ep.TriggerType == graph.TriggerTimer && ep.TriggerConfig.CronSpec != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		sched, err := parser.Parse(ep.TriggerConfig.CronSpec)
		if err != nil {
			return nil, fmt.Errorf("triggers: entry %s: parse cron %q: %w", ep.ID, ep.TriggerConfig.CronSpec, err)
		}
		s.cronSched = sched
	}
	return s, nil
}

// Start begins this source's background loop, if it has one (timer, event).
// Manual and webhook sources are driven externally and need no loop.
func (s *Source) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	switch s.ep.TriggerType {
	case graph.TriggerTimer:
		go s.runTimer(ctx)
	case graph.TriggerEvent:
		go s.runEvent(ctx)
	}
}

// Stop halts this source's background loop, if any.
func (s *Source) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Source) runTimer(ctx context.Context) {
	if s.cronSched != nil {
		s.runCron(ctx)
		return
	}
	interval := time.Duration(s.ep.TriggerConfig.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tryFire(ctx, "timer:interval", nil)
		}
	}
}

// runCron wakes once a minute and fires whenever the cron schedule's next
// activation after the prior minute lands exactly on this minute — the same
// minute-granularity match the teacher's hand-rolled matcher used, now
// delegated to the real cron library's Next instead of a bespoke field parser.
func (s *Source) runCron(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if cronMatches(s.cronSched, now) {
				s.tryFire(ctx, "timer:cron", nil)
			}
		}
	}
}

// cronMatches reports whether t falls in the same minute as sched's next
// activation after the prior minute — minute-granularity match, split out
// from runCron so the comparison is directly testable without a real ticker.
func cronMatches(sched cronSchedule, t time.Time) bool {
	truncated := t.Truncate(time.Minute)
	return sched.Next(truncated.Add(-time.Minute)).Equal(truncated)
}

func (s *Source) runEvent(ctx context.Context) {
	filter := events.Filter{
		Stream: s.ep.TriggerConfig.StreamFilter,
		Node:   s.ep.TriggerConfig.NodeFilter,
	}
	if s.ep.TriggerConfig.ExcludeOwnGraph {
		filter.ExcludeOwnGraph = s.graphID
	}
	id, ch := s.bus.Subscribe(filter)
	defer s.bus.Unsubscribe(id)

	wanted := make(map[string]bool, len(s.ep.TriggerConfig.EventTypes))
	for _, t := range s.ep.TriggerConfig.EventTypes {
		wanted[t] = true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if len(wanted) > 0 && !wanted[string(e.Type)] {
				continue
			}
			s.tryFire(ctx, "event:"+string(e.Type), e.Payload)
		}
	}
}

// Trigger fires this entry point immediately — the manual trigger path and
// the path AgentRuntime.Trigger routes through. It shares the same
// maxConcurrent gate as timer/event fires: ErrStreamBusy means a prior fire
// is still running and the cap allows no more.
func (s *Source) Trigger(ctx context.Context, input map[string]any, resumeSessionID string) error {
	if !s.acquire() {
		return fmt.Errorf("%w: entry point %s at maxConcurrent", rterr.ErrStreamBusy, s.ep.ID)
	}
	defer s.release()
	return s.fire(ctx, s.ep, input, resumeSessionID)
}

func (s *Source) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running >= s.ep.EffectiveMaxConcurrent() {
		return false
	}
	s.running++
	s.lastRun = time.Now()
	return true
}

func (s *Source) release() {
	s.mu.Lock()
	s.running--
	s.mu.Unlock()
}

// tryFire fires in the background and skips silently (never queues) when
// the entry point is already at its maxConcurrent cap, per spec §4.8's
// timer semantics generalized to every non-manual trigger type.
func (s *Source) tryFire(ctx context.Context, reason string, input map[string]any) {
	if !s.acquire() {
		return
	}
	go func() {
		defer s.release()
		if err := s.fire(ctx, s.ep, input, ""); err != nil {
			s.bus.Publish(events.AgentEvent{
				Type: events.ExecutionFailed, GraphID: s.graphID,
				Payload: map[string]any{"entryPointId": s.ep.ID, "trigger": reason, "error": err.Error()},
			})
		}
	}()
}

// WebhookHandler returns the HTTP handler for a TriggerWebhook entry point:
// HMAC-SHA256 verification when TriggerConfig.WebhookSecret is set, then
// WEBHOOK_RECEIVED plus a fire attempt.
func (s *Source) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		if secret := s.ep.TriggerConfig.WebhookSecret; secret != "" {
			if !verifyHMAC(secret, body, r.Header.Get("X-Signature-256")) {
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
		}
		headers := make(map[string]string, len(r.Header))
		for k := range r.Header {
			headers[k] = r.Header.Get(k)
		}
		s.bus.Publish(events.AgentEvent{
			Type: events.WebhookReceived, GraphID: s.graphID,
			Payload: map[string]any{"sourceId": s.ep.ID, "headers": headers, "body": string(body)},
		})
		s.tryFire(r.Context(), "webhook", map[string]any{"body": string(body), "headers": headers})
		w.WriteHeader(http.StatusAccepted)
	}
}

func verifyHMAC(secret string, body []byte, sigHeader string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sigHeader), []byte(expected))
}

// WebhookRouter multiplexes every TriggerWebhook entry point's HTTP path
// behind one chi router, so internal/transport mounts it once per graph.
type WebhookRouter struct {
	r chi.Router
}

// NewWebhookRouter builds an empty router.
func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{r: chi.NewRouter()}
}

// Register mounts s's webhook path, if it has one. A no-op for non-webhook
// sources or a webhook entry point with no configured path.
func (w *WebhookRouter) Register(s *Source) {
	if s.ep.TriggerType != graph.TriggerWebhook || s.ep.TriggerConfig.WebhookPath == "" {
		return
	}
	w.r.Post(s.ep.TriggerConfig.WebhookPath, s.WebhookHandler())
}

// Handler returns the combined http.Handler for every registered webhook.
func (w *WebhookRouter) Handler() http.Handler { return w.r }
