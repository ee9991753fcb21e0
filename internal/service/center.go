package service

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// PopulationProp is the feature property holding a population count.
const PopulationProp = "number_of_people"

// DefaultCenter is used when no feature has a positive population (Lisbon).
var DefaultCenter = orb.Point{-9.1393, 38.7223}

// MaxPopulation returns the location and count of the feature with the
// largest population. Ties keep the first feature encountered. An empty or
// all-zero collection yields fallback with population 0.
func MaxPopulation(fc *geojson.FeatureCollection, fallback orb.Point) (orb.Point, float64) {
	center, best := fallback, 0.0
	if fc == nil {
		return center, best
	}
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		pop := f.Properties.MustFloat64(PopulationProp, 0)
		if pop > best {
			center, best = Location(f.Geometry), pop
		}
	}
	return center, best
}

// Location is the representative point of a geometry: the point itself, or
// the area-weighted centroid.
func Location(g orb.Geometry) orb.Point {
	if p, ok := g.(orb.Point); ok {
		return p
	}
	c, _ := planar.CentroidArea(g)
	return c
}
