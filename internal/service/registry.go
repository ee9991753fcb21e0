package service

import "sync"

// Registry is the mutable mapping from layer name to its current layer.
// A name maps to at most one layer; Set replaces, it never appends.
type Registry struct {
	layers map[string]Layer
	order  []string
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{layers: make(map[string]Layer)}
}

// Set registers layer under name, replacing any previous entry.
func (r *Registry) Set(name string, layer Layer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.layers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.layers[name] = layer
}

// Get returns the layer registered under name.
func (r *Registry) Get(name string) (Layer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	layer, ok := r.layers[name]
	return layer, ok
}

// Names returns registered names in first-registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Len returns the number of registered layers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.layers)
}
