// Package events provides a small in-process pub/sub hub for activity
// events. The gateway fans events out to WebSocket clients; producers
// (memory writes, screen captures, retention purges) publish without
// knowing who is listening.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the service.
const (
	TypeMemoryStored    = "memory.stored"
	TypeMemoryDeleted   = "memory.deleted"
	TypeScreenCaptured  = "screen.captured"
	TypeRetentionPurged = "retention.purged"
	TypeSkillsSynced    = "skills.synced"
)

// Event is one activity notification.
type Event struct {
	Type string         `json:"type"`
	Time time.Time      `json:"time"`
	Data map[string]any `json:"data,omitempty"`
}

// ServiceName is the registry name the hub is published under.
const ServiceName = "events.hub"

const subscriberBuffer = 32

// Hub is a bounded fan-out hub. Publish never blocks: subscribers that
// fall behind lose events rather than stalling producers.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int

	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of future events and a cancel function.
// The channel is closed by cancel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber, stamping it with the
// current time.
func (h *Hub) Publish(eventType string, data map[string]any) {
	evt := Event{Type: eventType, Time: time.Now().UTC(), Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many events were discarded because a subscriber
// buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
