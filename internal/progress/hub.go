package progress

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caseloom/caseloom/internal/logfields"
	"github.com/caseloom/caseloom/internal/metrics"
)

// DefaultQueueSize is the per-subscriber event buffer. A subscriber whose
// buffer is full at publish time is dropped.
const DefaultQueueSize = 64

// Subscription is one live listener on a case's event stream. Close is
// idempotent; after Close (or after being dropped) the Events channel is
// closed.
type Subscription struct {
	id     uint64
	caseID string
	ch     chan Event
	hub    *Hub
	once   sync.Once
}

// Events yields published events in order until the subscription ends.
func (s *Subscription) Events() <-chan Event { return s.ch }

// CaseID returns the case this subscription listens on.
func (s *Subscription) CaseID() string { return s.caseID }

// Close deregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s.caseID, s.id)
	})
}

// Hub fans events out to per-case subscribers. Publishing to a case with no
// subscribers is a no-op; events are never buffered for future subscribers.
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]map[uint64]*Subscription
	nextID    atomic.Uint64
	closed    bool
	queueSize int
	mirror    *Mirror
	logger    *slog.Logger
	recorder  metrics.Recorder
}

func NewHub(logger *slog.Logger, recorder metrics.Recorder) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Hub{
		subs:      make(map[string]map[uint64]*Subscription),
		queueSize: DefaultQueueSize,
		logger:    logger,
		recorder:  recorder,
	}
}

// AttachMirror forwards every published event to an external mirror as well.
func (h *Hub) AttachMirror(m *Mirror) {
	h.mu.Lock()
	h.mirror = m
	h.mu.Unlock()
}

// Subscribe registers a listener for one case's events.
func (h *Hub) Subscribe(caseID string) *Subscription {
	sub := &Subscription{
		id:     h.nextID.Add(1),
		caseID: caseID,
		ch:     make(chan Event, h.queueSize),
		hub:    h,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub
	}
	if h.subs[caseID] == nil {
		h.subs[caseID] = make(map[uint64]*Subscription)
	}
	h.subs[caseID][sub.id] = sub
	total := h.totalLocked()
	h.mu.Unlock()

	h.recorder.SetProgressSubscribers(total)
	return sub
}

// Publish delivers an event to every live subscriber of its case. Subscribers
// whose queue is full are dropped; delivery never blocks the publisher. A zero
// timestamp is filled in.
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var victims []*Subscription

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	mirror := h.mirror
	for _, sub := range h.subs[e.CaseID] {
		select {
		case sub.ch <- e:
		default:
			victims = append(victims, sub)
		}
	}
	h.mu.RUnlock()

	if mirror != nil {
		mirror.Offer(e)
	}

	for _, sub := range victims {
		h.drop(sub)
	}
}

// drop removes a subscriber that could not keep up.
func (h *Hub) drop(sub *Subscription) {
	sub.once.Do(func() {
		if h.remove(sub.caseID, sub.id) {
			h.recorder.IncDroppedSubscriber()
			h.logger.Warn("dropped slow progress subscriber", logfields.CaseID(sub.caseID))
		}
	})
}

// remove deregisters a subscription and closes its channel. It reports
// whether the subscription was still registered.
func (h *Hub) remove(caseID string, id uint64) bool {
	h.mu.Lock()
	caseSubs, ok := h.subs[caseID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	sub, ok := caseSubs[id]
	if !ok {
		h.mu.Unlock()
		return false
	}
	delete(caseSubs, id)
	if len(caseSubs) == 0 {
		delete(h.subs, caseID)
	}
	close(sub.ch)
	total := h.totalLocked()
	h.mu.Unlock()

	h.recorder.SetProgressSubscribers(total)
	return true
}

// CaseSubscriberCount reports the live subscribers for a case.
func (h *Hub) CaseSubscriberCount(caseID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[caseID])
}

// Close drops every subscriber and rejects further publishes.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for _, caseSubs := range h.subs {
		for _, sub := range caseSubs {
			close(sub.ch)
		}
	}
	h.subs = make(map[string]map[uint64]*Subscription)
	h.mu.Unlock()

	h.recorder.SetProgressSubscribers(0)
}

func (h *Hub) totalLocked() int {
	total := 0
	for _, caseSubs := range h.subs {
		total += len(caseSubs)
	}
	return total
}
