package routing

import (
	"errors"

	"github.com/gorest/roadtrip/server/internal/lib/geo"
)

// DefaultNearbyMeters is the detour distance still considered "nearby"
const DefaultNearbyMeters = 3000.0

// proximityMatcher implements the ProximityMatcher interface
type proximityMatcher struct {
	onRouteThreshold float64 // Distance in meters for ON_ROUTE classification
	nearbyThreshold  float64
}

// NewProximityMatcher creates a matcher. A non-positive nearbyMeters uses
// DefaultNearbyMeters.
func NewProximityMatcher(nearbyMeters float64) ProximityMatcher {
	if nearbyMeters <= 0 {
		nearbyMeters = DefaultNearbyMeters
	}
	return &proximityMatcher{
		onRouteThreshold: 100.0,
		nearbyThreshold:  nearbyMeters,
	}
}

// Classify measures the distance from point to the route polyline and
// buckets it
func (m *proximityMatcher) Classify(point geo.Point, route geo.Polyline) (Classification, error) {
	if len(route.Points) < 2 {
		return Classification{}, errors.New("route must have at least 2 points")
	}

	distance, err := geo.PointToPolyline(point, route)
	if err != nil {
		return Classification{}, err
	}

	proximity := Detour
	if distance <= m.onRouteThreshold {
		proximity = OnRoute
	} else if distance <= m.nearbyThreshold {
		proximity = Nearby
	}

	return Classification{Proximity: proximity, DistanceToRoute: distance}, nil
}
