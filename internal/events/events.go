// Package events fans out live job updates to SSE subscribers. Each
// job has its own broadcast list; publishing never blocks on a slow
// consumer.
package events

import (
	"sync"
)

// Event names, mirroring the control-plane posts that produce them.
const (
	NameStart      = "start"
	NameResult     = "result"
	NameStepStart  = "step_start"
	NameStepResult = "step_result"
	NameLogs       = "logs"
	NameStepLogs   = "step_logs"

	// NameError is the terminal event a subscriber receives when it
	// falls too far behind and is dropped.
	NameError = "error"
)

// Event is one live update for a job.
type Event struct {
	Name string `json:"name"`
	Data any    `json:"data"`
}

// subscriberCapacity bounds each subscriber's buffer. A subscriber
// that lets this many events pile up is considered dead.
const subscriberCapacity = 100

type subscriber struct {
	ch chan Event
}

// Hub routes published events to every subscriber of the same job id.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]map[*subscriber]struct{}
	metrics *Metrics
}

// NewHub creates an empty hub. metrics may be nil.
func NewHub(metrics *Metrics) *Hub {
	return &Hub{
		subs:    make(map[string]map[*subscriber]struct{}),
		metrics: metrics,
	}
}

// Subscribe registers a listener for one job's events. The returned
// cancel func is idempotent; the channel is closed when the
// subscription ends, whether by cancel or by falling behind.
func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[jobID] = set
	}
	sub := &subscriber{ch: make(chan Event, subscriberCapacity)}
	set[sub] = struct{}{}
	h.metrics.SubscriberAdded()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.drop(jobID, sub)
	}
	return sub.ch, cancel
}

// Publish delivers an event to every subscriber of the job. A
// subscriber with a full buffer receives one terminal error event and
// is dropped; Publish itself never blocks.
func (h *Hub) Publish(jobID string, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[jobID]
	if len(set) == 0 {
		return
	}
	for sub := range set {
		select {
		case sub.ch <- event:
			h.metrics.EventPublished(event.Name)
		default:
			// Make room for the error event, then cut the
			// subscriber loose.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- Event{Name: NameError, Data: "subscriber too slow, events dropped"}:
			default:
			}
			h.drop(jobID, sub)
			h.metrics.EventDropped()
		}
	}
}

// Subscribers reports how many listeners a job currently has.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

// drop removes one subscriber and closes its channel. The caller must
// hold the mutex. Safe to call twice for the same subscriber.
func (h *Hub) drop(jobID string, sub *subscriber) {
	set, ok := h.subs[jobID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, jobID)
	}
	close(sub.ch)
	h.metrics.SubscriberRemoved()
}
