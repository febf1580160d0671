package services

import (
	"github.com/gorest/roadtrip/server/internal/lib/failure"
	"github.com/gorest/roadtrip/server/internal/lib/geo"
	"github.com/gorest/roadtrip/server/internal/lib/poi"
	"github.com/gorest/roadtrip/server/internal/lib/stops"
)

// EventType identifies a planning event
type EventType string

const (
	EventRouteReady      EventType = "route_ready"
	EventStopsReady      EventType = "stops_ready"
	EventServicesUpdated EventType = "services_updated"
	EventFailed          EventType = "failed"
)

// Event is one step of a planning submission. Exactly one payload is set,
// matching Type.
type Event struct {
	Type   EventType `json:"type"`
	PlanID string    `json:"plan_id"`
	Token  uint64    `json:"token"`

	Route    *RouteReady      `json:"route,omitempty"`
	Stops    *StopsReady      `json:"stops,omitempty"`
	Services *ServicesUpdated `json:"services,omitempty"`
	Failure  *Failed          `json:"failure,omitempty"`
}

// RouteReady carries the route summary and geometry
type RouteReady struct {
	Start       geo.Point   `json:"start"`
	Destination geo.Point   `json:"destination"`
	Summary     geo.Summary `json:"summary"`
	Polyline    string      `json:"polyline"`
}

// StopsReady carries the segmented stops
type StopsReady struct {
	IntervalKm float64      `json:"interval_km"`
	Source     string       `json:"interval_source"`
	Stops      []stops.Stop `json:"stops"`
}

// ServicesUpdated carries the along-route service listing. Final is false
// while the sweep is still sampling. Interrupted marks a final listing cut
// short by the plan's deadline or a departed caller.
type ServicesUpdated struct {
	Listing     poi.Listing          `json:"listing"`
	Counts      map[poi.Category]int `json:"counts"`
	Final       bool                 `json:"final"`
	Interrupted bool                 `json:"interrupted,omitempty"`
	Sample      int                  `json:"sample"`
	Samples     int                  `json:"samples"`
	Failed      int                  `json:"failed_samples"`
}

// Failed reports why a submission stopped
type Failed struct {
	Kind   failure.Kind `json:"kind"`
	Reason string       `json:"reason"`
}
