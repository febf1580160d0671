// Package poi aggregates points of interest found near a route: it queries
// an external search service, deduplicates by stable id, classifies each
// place into a fixed category set, and caps the display list.
package poi

import (
	"context"

	"github.com/gorest/roadtrip/server/internal/lib/geo"
	"github.com/gorest/roadtrip/server/internal/lib/routing"
)

// Element is a raw tagged entity returned by a POI search service
type Element struct {
	// ID is stable across queries, e.g. "node/123456"
	ID       string            `json:"id"`
	Location *geo.Point        `json:"location,omitempty"`
	Tags     map[string]string `json:"tags"`
}

// Record is a classified, displayable point of interest
type Record struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Category     Category  `json:"category"`
	Kind         string    `json:"kind"` // raw amenity/tourism/shop value
	Location     geo.Point `json:"location"`
	SourceRadius float64   `json:"source_radius"`

	Proximity       routing.Proximity `json:"proximity,omitempty"`
	DistanceToRoute float64           `json:"distance_to_route,omitempty"`
}

// Service searches for tagged entities within radiusMeters of a point.
// An empty category list means every known category.
type Service interface {
	Query(ctx context.Context, point geo.Point, radiusMeters float64, categories []Category) ([]Element, error)
}

// NewRecord converts a raw element found under radiusMeters. Elements
// without a location cannot be placed and are rejected.
func NewRecord(e Element, radiusMeters float64) (Record, bool) {
	if e.ID == "" || e.Location == nil {
		return Record{}, false
	}

	name := e.Tags["name"]
	if name == "" {
		name = "Unnamed"
	}

	return Record{
		ID:           e.ID,
		Name:         name,
		Category:     Classify(e.Tags),
		Kind:         kindLabel(e.Tags),
		Location:     *e.Location,
		SourceRadius: radiusMeters,
	}, true
}

func kindLabel(tags map[string]string) string {
	for _, key := range []string{"amenity", "tourism", "shop"} {
		if v := tags[key]; v != "" {
			return v
		}
	}
	return "service"
}
