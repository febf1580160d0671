// Package stops places rest/refuel stops along a route at a fixed distance
// interval.
package stops

import (
	"github.com/gorest/roadtrip/server/internal/lib/geo"
)

// Policy controls how a segment that crosses several interval boundaries is handled
type Policy string

const (
	// PerBoundary emits one stop for every boundary crossed, so a long
	// segment can produce several stops at its end vertex.
	PerBoundary Policy = "per_boundary"
	// OncePerSegment emits at most one stop per segment. Sparse geometry
	// with a short interval places fewer stops than the trip length implies.
	OncePerSegment Policy = "once_per_segment"
)

// ParsePolicy maps a config value to a Policy, defaulting to PerBoundary.
func ParsePolicy(s string) Policy {
	if Policy(s) == OncePerSegment {
		return OncePerSegment
	}
	return PerBoundary
}

// boundaryTolerance absorbs rounding in the summed segment lengths, so a
// route of exactly N intervals still reaches its last boundary.
const boundaryTolerance = 1e-3 // meters

// Stop is a computed rest point on a route
type Stop struct {
	Sequence       int       `json:"sequence"`
	Location       geo.Point `json:"location"`
	TargetMeters   float64   `json:"target_meters"`
	TraveledMeters float64   `json:"traveled_meters"`
}

// TargetKm is the cumulative distance the stop was planned for.
func (s Stop) TargetKm() float64 {
	return s.TargetMeters / 1000
}

// Segment walks the route vertices in path order and places a stop at the
// end vertex of the segment where the cumulative distance reaches each
// multiple of intervalKm. Trips no longer than one interval get no stops.
func Segment(route geo.Route, intervalKm float64, policy Policy) []Stop {
	if intervalKm <= 0 {
		return nil
	}

	totalKm := route.TotalMeters() / 1000
	if intervalKm >= totalKm {
		return nil
	}

	vertices := route.Vertices()
	step := intervalKm * 1000
	target := step
	traveled := 0.0

	var stops []Stop
	for i := 0; i < len(vertices)-1; i++ {
		d := geo.Distance(vertices[i], vertices[i+1])

		for traveled+d >= target-boundaryTolerance {
			stops = append(stops, Stop{
				Sequence:       len(stops) + 1,
				Location:       vertices[i+1],
				TargetMeters:   target,
				TraveledMeters: traveled + d,
			})
			target += step
			if policy == OncePerSegment {
				break
			}
		}

		traveled += d
	}

	return stops
}
