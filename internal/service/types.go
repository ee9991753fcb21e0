// Package service contains the view and layer synchronization engine.
package service

import (
	"fmt"
	"io"
	"math"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-coverage/internal/styles"
)

// Stable layer names.
const (
	LayerCoverageArea = "coverage-area"
	LayerStops        = "stops"
	LayerPopulation   = "population"
	LayerClusters     = "clusters"
)

// baseOrder is the fixed composition order; later-injected names follow it.
var baseOrder = []string{LayerCoverageArea, LayerStops, LayerPopulation, LayerClusters}

// Viewport is a camera position shared by the base map and the overlay renderer.
type Viewport struct {
	Longitude float64 `json:"longitude" doc:"Camera centre longitude" example:"-9.1393"`
	Latitude  float64 `json:"latitude" doc:"Camera centre latitude" example:"38.7223"`
	Zoom      float64 `json:"zoom" doc:"Zoom level" example:"12"`
	Pitch     float64 `json:"pitch" doc:"Pitch in degrees"`
	Bearing   float64 `json:"bearing" doc:"Bearing in degrees"`
}

// Validate reports whether the renderer can accept the viewport.
func (v Viewport) Validate() error {
	for _, f := range []float64{v.Longitude, v.Latitude, v.Zoom, v.Pitch, v.Bearing} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("viewport has non-finite value: %+v", v)
		}
	}
	if v.Latitude < -90 || v.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range", v.Latitude)
	}
	if v.Zoom < 0 || v.Zoom > 24 {
		return fmt.Errorf("zoom %v out of range", v.Zoom)
	}
	if v.Pitch < 0 || v.Pitch > 85 {
		return fmt.Errorf("pitch %v out of range", v.Pitch)
	}
	return nil
}

// LayerKind selects the overlay primitive used to draw a layer.
type LayerKind string

const (
	KindScatterplot LayerKind = "scatterplot"
	KindGeoJSON     LayerKind = "geojson"
)

// Layer is a named, styled renderable representation of a geometry collection.
type Layer struct {
	ID              string                     `json:"id"`
	Kind            LayerKind                  `json:"kind"`
	Data            *geojson.FeatureCollection `json:"data"`
	Fill            styles.Color               `json:"fill"`
	FillRules       []RenderRule               `json:"fillRules,omitempty"`
	Radius          float64                    `json:"radius,omitempty"`
	RadiusMinPixels float64                    `json:"radiusMinPixels,omitempty"`
	Filled          bool                       `json:"filled"`
	Stroked         bool                       `json:"stroked"`
	Pickable        bool                       `json:"pickable"`
}

// RenderRule overrides the fill of features whose property matches a value.
type RenderRule struct {
	FilterProp  string       `json:"filterProp"`
	FilterValue string       `json:"filterValue"`
	Fill        styles.Color `json:"fill"`
}

// FillFor returns the fill colour for a feature: the first matching rule, else the layer fill.
func (l Layer) FillFor(f *geojson.Feature) styles.Color {
	if f != nil {
		for _, r := range l.FillRules {
			if v, ok := f.Properties[r.FilterProp].(string); ok && v == r.FilterValue {
				return r.Fill
			}
		}
	}
	return l.Fill
}

// Collections is the set of geometry collections the backend computes.
type Collections struct {
	Stops        *geojson.FeatureCollection
	CoverageArea *geojson.FeatureCollection
	Population   *geojson.FeatureCollection
}

// complete reports whether every collection is present.
func (c Collections) complete() bool {
	return c.Stops != nil && c.CoverageArea != nil && c.Population != nil
}

// IngestResult is a successful ingestion response.
type IngestResult struct {
	Handle string
	Collections
}

// Upload is one file submitted for ingestion.
type Upload struct {
	Name string
	Body io.Reader
}
