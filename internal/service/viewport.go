package service

import (
	"sync"
	"time"
)

// BaseMap is the primary map surface that owns the camera.
type BaseMap interface {
	// Viewport returns the current camera.
	Viewport() Viewport
	// OnMove registers fn to run after every camera change and returns a cancel func.
	OnMove(fn func()) (cancel func())
	// FlyTo animates the camera to v over d.
	FlyTo(v Viewport, d time.Duration)
}

// Renderer is the overlay surface drawn above the base map.
// Each SetLayers call is the complete layer set, never a delta.
type Renderer interface {
	SetViewState(v Viewport) error
	SetLayers(layers []Layer) error
}

// Synchronizer keeps the renderer camera identical to the base map camera.
// It is the only writer of the renderer's view state.
type Synchronizer struct {
	base     BaseMap
	renderer Renderer
	onError  func(error)

	mu     sync.Mutex
	cancel func()
}

// NewSynchronizer creates a synchronizer. onError receives renderer
// failures; it must not be nil.
func NewSynchronizer(base BaseMap, renderer Renderer, onError func(error)) *Synchronizer {
	return &Synchronizer{base: base, renderer: renderer, onError: onError}
}

// Start pushes the current camera and follows every base map move.
func (s *Synchronizer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	s.cancel = s.base.OnMove(s.sync)
	s.sync()
}

// Stop unsubscribes from the base map.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Synchronizer) sync() {
	if err := s.renderer.SetViewState(s.base.Viewport()); err != nil {
		s.onError(err)
	}
}
