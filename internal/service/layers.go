package service

import (
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-coverage/internal/styles"
)

// CoveredProp holds a population feature's coverage state.
const CoveredProp = "covered"

// Values of CoveredProp.
const (
	Covered    = "Covered"
	NotCovered = "Not Covered"
)

// ClustersLabel is the toggle label of the cluster layer.
const ClustersLabel = "Uncovered population clusters"

// BaseLayers builds the stops, coverage-area and population layers.
func BaseLayers(c Collections, s styles.Scheme) map[string]Layer {
	return map[string]Layer{
		LayerStops: {
			ID:              LayerStops,
			Kind:            KindScatterplot,
			Data:            c.Stops,
			Fill:            s.Stops,
			Radius:          9,
			RadiusMinPixels: 7,
			Filled:          true,
			Pickable:        true,
		},
		LayerCoverageArea: {
			ID:     LayerCoverageArea,
			Kind:   KindGeoJSON,
			Data:   c.CoverageArea,
			Fill:   s.CoverageArea,
			Filled: true,
		},
		LayerPopulation: {
			ID:   LayerPopulation,
			Kind: KindScatterplot,
			Data: c.Population,
			Fill: s.Unknown,
			FillRules: []RenderRule{
				{FilterProp: CoveredProp, FilterValue: Covered, Fill: s.Covered},
				{FilterProp: CoveredProp, FilterValue: NotCovered, Fill: s.NotCovered},
			},
			Radius:          5,
			RadiusMinPixels: 3,
			Filled:          true,
			Pickable:        true,
		},
	}
}

// ClustersLayer builds the translucent polygon layer for cluster results.
func ClustersLayer(fc *geojson.FeatureCollection, s styles.Scheme) Layer {
	return Layer{
		ID:     LayerClusters,
		Kind:   KindGeoJSON,
		Data:   fc,
		Fill:   s.Clusters,
		Filled: true,
	}
}
