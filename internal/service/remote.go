package service

import (
	"strings"
	"sync"
	"time"
)

// CameraMove is the payload of a camera event: the browser animates the base
// map to Viewport over Duration.
type CameraMove struct {
	Viewport   Viewport `json:"viewport"`
	DurationMS int64    `json:"durationMs"`
}

// RemoteMap is a BaseMap whose camera lives in the browser. Camera motion is
// reported back through Move; FlyTo requests are published on the bus.
type RemoteMap struct {
	bus *EventBus

	mu   sync.RWMutex
	vp   Viewport
	subs map[int]func()
	next int
}

// NewRemoteMap creates a remote map starting at initial.
func NewRemoteMap(initial Viewport, bus *EventBus) *RemoteMap {
	return &RemoteMap{bus: bus, vp: initial, subs: make(map[int]func())}
}

// Viewport returns the last reported camera.
func (m *RemoteMap) Viewport() Viewport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vp
}

// OnMove registers fn to run after every reported move.
func (m *RemoteMap) OnMove(fn func()) func() {
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Move records a camera change and notifies subscribers before returning.
func (m *RemoteMap) Move(v Viewport) {
	m.mu.Lock()
	m.vp = v
	fns := make([]func(), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// FlyTo asks the browser to animate the camera.
func (m *RemoteMap) FlyTo(v Viewport, d time.Duration) {
	m.bus.Publish(Event{
		Resource: ResourceCamera,
		Action:   "fly",
		Payload:  CameraMove{Viewport: v, DurationMS: d.Milliseconds()},
	})
}

// StreamRenderer is a Renderer that streams its state to the browser.
type StreamRenderer struct {
	bus *EventBus

	mu     sync.RWMutex
	view   Viewport
	layers []Layer
}

// NewStreamRenderer creates a renderer publishing on bus.
func NewStreamRenderer(bus *EventBus) *StreamRenderer {
	return &StreamRenderer{bus: bus, layers: []Layer{}}
}

// SetViewState validates and publishes the overlay camera.
func (r *StreamRenderer) SetViewState(v Viewport) error {
	if err := v.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.view = v
	r.mu.Unlock()

	r.bus.Publish(Event{Resource: ResourceViewState, Action: "updated", Payload: v})
	return nil
}

// SetLayers replaces the rendered layer set.
func (r *StreamRenderer) SetLayers(layers []Layer) error {
	r.mu.Lock()
	r.layers = layers
	r.mu.Unlock()

	r.bus.Publish(Event{Resource: ResourceLayers, Action: "updated", Payload: layers})
	return nil
}

// Snapshot returns the last view state and layer set.
func (r *StreamRenderer) Snapshot() (Viewport, []Layer) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.view, r.layers
}

// ErrorSink is the single error text region of the page.
type ErrorSink interface {
	// ShowErrors overwrites the region with msgs, one per line.
	ShowErrors(msgs ...string)
	Clear()
}

// BusErrorSink publishes error region updates on the bus.
type BusErrorSink struct {
	bus *EventBus
}

// NewBusErrorSink creates an error sink publishing on bus.
func NewBusErrorSink(bus *EventBus) *BusErrorSink {
	return &BusErrorSink{bus: bus}
}

func (s *BusErrorSink) ShowErrors(msgs ...string) {
	s.bus.Publish(Event{Resource: ResourceErrors, Action: "updated", Payload: strings.Join(msgs, "\n")})
}

func (s *BusErrorSink) Clear() {
	s.bus.Publish(Event{Resource: ResourceErrors, Action: "cleared", Payload: ""})
}
