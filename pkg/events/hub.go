package events

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// subscriberBuffer is the number of events a subscriber may lag behind.
const subscriberBuffer = 16

// EventHub fans published events out to subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type EventHub struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	closed bool
}

func NewEventHub() *EventHub { return &EventHub{subs: make(map[chan Event]struct{})} }

// Subscribe returns a channel receiving every event published from now on.
// The channel is closed by Unsubscribe or Close. Subscribing to a closed hub
// returns a closed channel.
func (h *EventHub) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	return ch
}

func (h *EventHub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// Subscribers returns the number of active subscribers.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subs)
}

// Publish sends payload, encoded as JSON, to every subscriber. It is safe on
// a nil hub.
func (h *EventHub) Publish(name string, payload any) {
	if h == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).WithField("event", name).Warn("failed to marshal event payload")
		return
	}
	msg := Event{Name: name, Data: b}

	dropped := 0
	h.mu.RLock()
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
			dropped++
		}
	}
	h.mu.RUnlock()

	entry := logrus.WithField("event", name)
	if dropped > 0 {
		entry.WithField("dropped", dropped).Debug("slow subscribers missed an event")
	}
	entry.Trace("event published")
}

// Close unsubscribes every subscriber. Later subscriptions are closed right
// away.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
