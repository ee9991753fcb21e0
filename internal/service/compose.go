package service

// LayerSource is the read side of a Registry.
type LayerSource interface {
	Get(name string) (Layer, bool)
	Names() []string
}

// Compose derives the ordered list of layers to render. Base layers come
// first in fixed order, then injected layers in registration order. A layer is
// included only when its toggle is on and an entry exists; a toggle without
// data is skipped, which is the normal state before the first ingestion.
func Compose(src LayerSource, toggles map[string]bool) []Layer {
	layers := []Layer{}
	for _, name := range composeOrder(src.Names()) {
		if !toggles[name] {
			continue
		}
		if layer, ok := src.Get(name); ok {
			layers = append(layers, layer)
		}
	}
	return layers
}

func composeOrder(registered []string) []string {
	order := make([]string, 0, len(baseOrder)+len(registered))
	order = append(order, baseOrder...)
	for _, name := range registered {
		if !isBase(name) {
			order = append(order, name)
		}
	}
	return order
}

func isBase(name string) bool {
	for _, b := range baseOrder {
		if b == name {
			return true
		}
	}
	return false
}

// LayerIDs returns the ids of layers, in order.
func LayerIDs(layers []Layer) []string {
	ids := make([]string, len(layers))
	for i, l := range layers {
		ids[i] = l.ID
	}
	return ids
}
