package events

import (
	"sync"
	"time"
)

// Filter selects which events a subscription receives (spec §4.1 Subscribe).
type Filter struct {
	Type            EventType // "" = any
	Graph           string    // "" = any
	Stream          string    // "" = any
	Node            string    // "" = any
	ExcludeOwnGraph string    // when set, events whose GraphID equals this value are skipped
}

func (f Filter) matches(e AgentEvent) bool {
	if f.Type != "" && f.Type != e.Type {
		return false
	}
	if f.Graph != "" && f.Graph != e.GraphID {
		return false
	}
	if f.Stream != "" && f.Stream != e.StreamID {
		return false
	}
	if f.Node != "" && f.Node != e.NodeID {
		return false
	}
	if f.ExcludeOwnGraph != "" && f.ExcludeOwnGraph == e.GraphID {
		return false
	}
	return true
}

// DefaultSubscriberBuffer is the default bounded-buffer size per subscriber.
const DefaultSubscriberBuffer = 256

// subscription holds one subscriber's ordered, bounded delivery queue. A
// single goroutine per subscription pops from the front of queue and forwards
// downstream, so delivery to any one subscriber is strictly publish-order
// (spec §5 ordering guarantee 1 and §8 testable property 6), even though
// Publish itself may be called concurrently from many streams.
type subscription struct {
	id     string
	filter Filter
	out    chan AgentEvent

	mu      sync.Mutex
	queue   []AgentEvent
	cap     int
	lagged  bool
	notify  chan struct{}
	closed  bool
	done    chan struct{}
}

func newSubscription(id string, f Filter, bufSize int) *subscription {
	if bufSize <= 0 {
		bufSize = DefaultSubscriberBuffer
	}
	s := &subscription{
		id:     id,
		filter: f,
		out:    make(chan AgentEvent, 1),
		cap:    bufSize,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.deliverLoop()
	return s
}

// enqueue appends event to the back of the queue, dropping the oldest entry
// and emitting at most one SUBSCRIBER_LAGGED per overflow burst when full.
// onLag is invoked synchronously (still holding no lock) when a fresh burst
// starts, so the caller (Bus.Publish) can publish the SUBSCRIBER_LAGGED event.
func (s *subscription) enqueue(e AgentEvent, onLag func(subID string)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	startedLag := false
	if len(s.queue) >= s.cap {
		// Drop the oldest entry, but keep a pending SUBSCRIBER_LAGGED notice at
		// the head so later overflow in the same burst cannot discard it.
		drop := 0
		if s.queue[0].Type == SubscriberLagged && len(s.queue) > 1 {
			drop = 1
		}
		s.queue = append(s.queue[:drop], s.queue[drop+1:]...)
		if !s.lagged {
			s.lagged = true
			startedLag = true
		}
	} else {
		s.lagged = false
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}

	if startedLag && onLag != nil {
		onLag(s.id)
	}
}

func (s *subscription) deliverLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			next := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- next:
			case <-s.done:
				return
			}
		}
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
}

// Bus is the in-process event bus (spec §4.1).
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	nextID uint64
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscription)}
}

// Publish stamps ID/Timestamp (if unset) and fans the event out to every
// matching subscription. Publish never blocks on a slow subscriber and never
// fails for the caller (spec §4.1 Failure model).
func (b *Bus) Publish(e AgentEvent) {
	if e.ID == "" {
		e.ID = nextEventID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	matching := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter.matches(e) {
			matching = append(matching, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matching {
		s.enqueue(e, func(subID string) {
			b.publishLagged(subID)
		})
	}
}

func (b *Bus) publishLagged(subID string) {
	lagEvent := AgentEvent{
		ID:        nextEventID(),
		Type:      SubscriberLagged,
		Timestamp: time.Now(),
		Payload:   toMap(SubscriberLaggedPayload{SubscriptionID: subID, Dropped: 1}),
	}
	b.mu.RLock()
	s, ok := b.subs[subID]
	b.mu.RUnlock()
	if ok {
		s.enqueue(lagEvent, nil)
	}
}

// Subscribe registers filter and returns a subscription id plus a channel of
// matching events, delivered in publish order for this subscriber.
func (b *Bus) Subscribe(f Filter) (string, <-chan AgentEvent) {
	return b.SubscribeBuffered(f, DefaultSubscriberBuffer)
}

// SubscribeBuffered is Subscribe with an explicit bounded-buffer size.
func (b *Bus) SubscribeBuffered(f Filter, bufSize int) (string, <-chan AgentEvent) {
	b.mu.Lock()
	b.nextID++
	id := idFromCounter(b.nextID)
	s := newSubscription(id, f, bufSize)
	b.subs[id] = s
	b.mu.Unlock()
	return id, s.out
}

// Unsubscribe removes a subscription and stops its delivery goroutine.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	s, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		s.close()
	}
}

func idFromCounter(n uint64) string {
	return "sub-" + itoa(n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
