// Package httpapi provides the HTTP surface: control endpoints, status,
// metrics and the WebSocket attach points for the companion page and event
// subscribers.
package httpapi

import (
	"sync"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/yamatt/walking-tour/internal/app/player"
)

const subscriberBuffer = 16

// Hub fans player events out to event-stream subscribers.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]chan player.Event
	sequenceNo    uint64
}

// NewHub creates a new hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[string]chan player.Event),
	}
}

// Subscribe adds a subscriber and returns its ID and event channel.
func (h *Hub) Subscribe() (string, <-chan player.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.New().String()
	ch := make(chan player.Event, subscriberBuffer)
	h.subscriptions[id] = ch
	zlog.Debug().Msgf("hub: subscriber added: id=%s total=%d", id, len(h.subscriptions))
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subscriptions[id]; ok {
		delete(h.subscriptions, id)
		close(ch)
	}
}

// Count returns the number of subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}

// Broadcast sends an event to all subscribers without blocking: a
// subscriber that stopped draining loses events rather than stalling the
// rest.
func (h *Hub) Broadcast(evt player.Event) {
	h.mu.Lock()
	h.sequenceNo++
	evt.SequenceNo = h.sequenceNo
	subs := make(map[string]chan player.Event, len(h.subscriptions))
	for id, ch := range h.subscriptions {
		subs[id] = ch
	}
	h.mu.Unlock()

	for id, ch := range subs {
		select {
		case ch <- evt:
		default:
			zlog.Warn().Msgf("hub: subscriber %s not draining, dropped %s", id, evt.Type)
		}
	}
}
