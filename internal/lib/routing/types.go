package routing

import (
	"github.com/gorest/roadtrip/server/internal/lib/geo"
)

// Proximity describes how far a place is from the planned route
type Proximity string

const (
	OnRoute Proximity = "on_route" // < 100m from polyline
	Nearby  Proximity = "nearby"   // < configured threshold
	Detour  Proximity = "detour"   // > threshold, still listed
)

// Classification is the result of matching a point against a route
type Classification struct {
	Proximity       Proximity `json:"proximity"`
	DistanceToRoute float64   `json:"distance_to_route"`
}

// ProximityMatcher classifies points of interest against route geometry
type ProximityMatcher interface {
	// Classify a single point against the route polyline
	Classify(point geo.Point, route geo.Polyline) (Classification, error)
}
