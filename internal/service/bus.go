package service

import "sync"

// Event resources published by a session.
const (
	ResourceLayers    = "layers"
	ResourceViewState = "view-state"
	ResourceCamera    = "camera"
	ResourceControls  = "controls"
	ResourcePanels    = "panels"
	ResourceErrors    = "errors"
	ResourceSlider    = "slider"
)

// Event represents a change pushed towards the browser.
type Event struct {
	Resource string // e.g. "layers"
	Action   string // "updated", "created", "cleared"
	ID       string // layer, toggle or slider name, if any
	Payload  any
}

// EventBus is a simple fan-out pub/sub for session events.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Publish sends an event to all subscribers (non-blocking).
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow; it resyncs from a snapshot on reconnect
		}
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}
