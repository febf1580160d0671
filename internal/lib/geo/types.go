package geo

// Point represents a geographic coordinate
type Point struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Polyline represents an encoded polyline with optional decoded points
type Polyline struct {
	EncodedPolyline string  `json:"encoded_polyline"`
	Points          []Point `json:"points"`
}

// Route is a path returned by a routing engine. Vertex order is path order.
type Route struct {
	Polyline        Polyline `json:"polyline"`
	DistanceMeters  float64  `json:"distance_meters"`
	DurationSeconds float64  `json:"duration_seconds"`
}

// Vertices returns the ordered path vertices.
func (r Route) Vertices() []Point {
	return r.Polyline.Points
}

// TotalMeters returns the summary distance, or the measured path length when
// the routing engine did not report one.
func (r Route) TotalMeters() float64 {
	if r.DistanceMeters > 0 {
		return r.DistanceMeters
	}
	return PathLength(r.Polyline.Points)
}

// Summary is the route-level information shown once a route is ready.
type Summary struct {
	DistanceKm    float64 `json:"distance_km"`
	DurationHours float64 `json:"duration_hours"`
	DurationMins  int     `json:"duration_mins"`
	Vertices      int     `json:"vertices"`
}

// Summarize builds the display summary for a route.
func (r Route) Summarize() Summary {
	return Summary{
		DistanceKm:    r.TotalMeters() / 1000,
		DurationHours: r.DurationSeconds / 3600,
		DurationMins:  int(r.DurationSeconds/60 + 0.5),
		Vertices:      len(r.Polyline.Points),
	}
}
