package service

import (
	"fmt"
	"strconv"
	"sync"
)

// Panel names.
const (
	PanelUpload       = "upload-form"
	PanelLegend       = "legend"
	PanelSliders      = "sliders"
	PanelLayerControl = "layer-control"
	PanelLayerButton  = "layer-control-button"
)

// Toggle is a named boolean layer control.
type Toggle struct {
	Name    string `json:"name" doc:"Layer name"`
	Label   string `json:"label" doc:"Display label"`
	Checked bool   `json:"checked" doc:"Whether the layer is visible"`
}

// ToggleSet holds the layer toggles in creation order.
type ToggleSet struct {
	mu    sync.RWMutex
	order []string
	items map[string]*Toggle
}

// NewToggleSet creates a toggle set seeded with the given toggles.
func NewToggleSet(seed ...Toggle) *ToggleSet {
	t := &ToggleSet{items: make(map[string]*Toggle)}
	for _, tg := range seed {
		t.Ensure(tg.Name, tg.Label, tg.Checked)
	}
	return t
}

// DefaultToggles returns the toggles present before any data is loaded.
func DefaultToggles() []Toggle {
	return []Toggle{
		{Name: LayerCoverageArea, Label: "Coverage area", Checked: true},
		{Name: LayerStops, Label: "Stops", Checked: true},
		{Name: LayerPopulation, Label: "Population", Checked: true},
	}
}

// Ensure makes sure a toggle exists for name. It reports whether one was
// created; an existing toggle keeps its state.
func (t *ToggleSet) Ensure(name, label string, checked bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.items[name]; ok {
		return false
	}
	t.items[name] = &Toggle{Name: name, Label: label, Checked: checked}
	t.order = append(t.order, name)
	return true
}

// Set changes the state of an existing toggle.
func (t *ToggleSet) Set(name string, checked bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tg, ok := t.items[name]
	if !ok {
		return fmt.Errorf("toggle %q: %w", name, ErrUnknownControl)
	}
	tg.Checked = checked
	return nil
}

// States returns the checked state per toggle name.
func (t *ToggleSet) States() map[string]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make(map[string]bool, len(t.items))
	for name, tg := range t.items {
		states[name] = tg.Checked
	}
	return states
}

// List returns a copy of the toggles in creation order.
func (t *ToggleSet) List() []Toggle {
	t.mu.RLock()
	defer t.mu.RUnlock()

	list := make([]Toggle, 0, len(t.order))
	for _, name := range t.order {
		list = append(list, *t.items[name])
	}
	return list
}

// Panels holds the "panel visible" flags of the page.
type Panels struct {
	mu      sync.RWMutex
	visible map[string]bool
}

// NewPanels creates panels in their pre-ingestion state.
func NewPanels() *Panels {
	return &Panels{visible: map[string]bool{
		PanelUpload:       true,
		PanelLegend:       false,
		PanelSliders:      false,
		PanelLayerControl: false,
		PanelLayerButton:  false,
	}}
}

// Show sets each named panel visible or hidden.
func (p *Panels) Show(visible bool, names ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range names {
		p.visible[n] = visible
	}
}

// Flip inverts a known panel's visibility and returns the new state.
func (p *Panels) Flip(name string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.visible[name]
	if !ok {
		return false, fmt.Errorf("panel %q: %w", name, ErrUnknownControl)
	}
	p.visible[name] = !v
	return !v, nil
}

// Snapshot returns a copy of every panel flag.
func (p *Panels) Snapshot() map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]bool, len(p.visible))
	for k, v := range p.visible {
		out[k] = v
	}
	return out
}

// thumbWidth is the slider thumb size in pixels.
const thumbWidth = 16

// Slider is a numeric range control. Dragging only moves its label; the
// backend sees the value on commit.
type Slider struct {
	Name string
	Min  float64
	Max  float64

	mu    sync.Mutex
	value string
}

// SliderLabel is the display state of a slider's value label.
type SliderLabel struct {
	Name   string  `json:"name" doc:"Slider name"`
	Value  string  `json:"value" doc:"Displayed value"`
	Offset float64 `json:"offset" doc:"Label offset in pixels"`
}

// NewSlider creates a slider with an initial value.
func NewSlider(name string, min, max float64, value string) *Slider {
	return &Slider{Name: name, Min: min, Max: max, value: value}
}

// Move records a new raw value.
func (s *Slider) Move(raw string) {
	s.mu.Lock()
	s.value = raw
	s.mu.Unlock()
}

// Value returns the current raw value.
func (s *Slider) Value() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Label positions the value label under the thumb for a track width in pixels.
// Unparsable values keep the label at the start of the track.
func (s *Slider) Label(width float64) SliderLabel {
	raw := s.Value()
	label := SliderLabel{Name: s.Name, Value: raw}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || s.Max <= s.Min {
		return label
	}
	percent := (v - s.Min) / (s.Max - s.Min)
	label.Offset = percent * (width - thumbWidth)
	return label
}
