package services

import (
	"context"
	"fmt"

	"github.com/gorest/roadtrip/server/internal/clients/advice"
	"github.com/gorest/roadtrip/server/internal/lib/failure"
	"github.com/gorest/roadtrip/server/internal/lib/geo"
	"github.com/gorest/roadtrip/server/internal/store"
)

// Geocoder resolves free text to a coordinate. No match is failure.ErrNotFound.
type Geocoder interface {
	Geocode(ctx context.Context, text string) (geo.Point, error)
}

// PositionProvider reports the traveler's current position. Denied or
// unsupported lookups are failure.ErrLocationUnavailable.
type PositionProvider interface {
	CurrentPosition(ctx context.Context) (geo.Point, error)
}

// Router computes a route between two coordinates. Failures are
// failure.ErrRoutingFailed.
type Router interface {
	Route(ctx context.Context, start, end geo.Point) (geo.Route, error)
}

// Advisor suggests a stop interval in km. Failures are
// failure.ErrServiceUnavailable and fall back to vehicle defaults.
type Advisor interface {
	SuggestInterval(ctx context.Context, req advice.Request) (float64, error)
}

// TripRecorder persists a trip summary. Fire-and-forget from the planner.
type TripRecorder interface {
	RecordTrip(ctx context.Context, trip store.Trip) error
}

// FixedPosition is a PositionProvider for a position reported by the client
type FixedPosition struct {
	Point *geo.Point
}

// CurrentPosition returns the reported point, or ErrLocationUnavailable
func (p FixedPosition) CurrentPosition(ctx context.Context) (geo.Point, error) {
	if p.Point == nil {
		return geo.Point{}, fmt.Errorf("%w: current location not shared", failure.ErrLocationUnavailable)
	}
	if !geo.IsValid(*p.Point) {
		return geo.Point{}, fmt.Errorf("%w: invalid current location %v", failure.ErrLocationUnavailable, *p.Point)
	}
	return *p.Point, nil
}

// StoreRecorder records trips into the local trip database
type StoreRecorder struct {
	Store *store.TripStore
}

// RecordTrip saves trip
func (r StoreRecorder) RecordTrip(ctx context.Context, trip store.Trip) error {
	if err := r.Store.Save(ctx, &trip); err != nil {
		return fmt.Errorf("%w: %v", failure.ErrPersistenceFailed, err)
	}
	return nil
}
