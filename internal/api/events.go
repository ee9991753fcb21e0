package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-coverage/internal/humastar"
	"github.com/joeblew999/plat-coverage/internal/service"
)

// Browser CustomEvent names dispatched on the event stream.
const (
	EventLayers    = "coverage-layers"
	EventViewState = "coverage-view-state"
	EventCamera    = "coverage-camera"
)

const layerControlSelector = "#layer-control-items"

// Events streams session changes to the Datastar UI via SSE. A new stream
// first receives the full current state, so a reconnecting or slow client
// resynchronises.
func (h *APIHandler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		ch := h.svc.Bus.Subscribe()
		defer h.svc.Bus.Unsubscribe(ch)

		if err := h.writeSnapshot(sse); err != nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
				if err := h.writeEvent(sse, ev); err != nil {
					return
				}
			}
		}
	}), nil
}

func (h *APIHandler) writeSnapshot(sse humastar.SSE) error {
	s := h.svc.Session
	view, layers := h.svc.Renderer.Snapshot()

	sliders := make(map[string]any)
	for _, l := range s.Sliders() {
		sliders[l.Name] = l
	}
	if err := sse.Signals(map[string]any{
		"panels":  signalKeys(s.Panels()),
		"sliders": sliders,
		"error":   "",
	}); err != nil {
		return err
	}
	if err := h.patchControls(sse, s.Toggles()); err != nil {
		return err
	}
	if err := sse.Event(EventViewState, view); err != nil {
		return err
	}
	return sse.Event(EventLayers, layers)
}

func (h *APIHandler) writeEvent(sse humastar.SSE, ev service.Event) error {
	switch ev.Resource {
	case service.ResourceLayers:
		return sse.Event(EventLayers, ev.Payload)
	case service.ResourceViewState:
		return sse.Event(EventViewState, ev.Payload)
	case service.ResourceCamera:
		return sse.Event(EventCamera, ev.Payload)
	case service.ResourceControls:
		toggles, _ := ev.Payload.([]service.Toggle)
		return h.patchControls(sse, toggles)
	case service.ResourcePanels:
		panels, _ := ev.Payload.(map[string]bool)
		return sse.Signals(map[string]any{"panels": signalKeys(panels)})
	case service.ResourceErrors:
		msg, _ := ev.Payload.(string)
		return sse.Error(msg)
	case service.ResourceSlider:
		return sse.Signals(map[string]any{"sliders": map[string]any{ev.ID: ev.Payload}})
	}
	return nil
}

func (h *APIHandler) patchControls(sse humastar.SSE, toggles []service.Toggle) error {
	if h.Renderer == nil {
		return nil
	}
	html, err := h.Renderer.Render("layer-controls", toggles)
	if err != nil {
		return fmt.Errorf("rendering layer controls: %w", err)
	}
	return sse.Patch(html, layerControlSelector)
}

// signalKeys camel-cases hyphenated names so they are addressable as
// Datastar signals ("upload-form" becomes "uploadForm").
func signalKeys(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[camel(k)] = v
	}
	return out
}

func camel(s string) string {
	parts := strings.Split(s, "-")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}
