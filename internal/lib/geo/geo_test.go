package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// meridianPath returns n+1 points due north from the equator, each segment stepMeters long.
func meridianPath(n int, stepMeters float64) []Point {
	stepDegrees := stepMeters / EarthRadiusMeters * 180 / math.Pi
	points := make([]Point, n+1)
	for i := range points {
		points[i] = Point{Latitude: float64(i) * stepDegrees, Longitude: 10}
	}
	return points
}

func TestPointToPoint(t *testing.T) {
	angelsCamp := Point{Latitude: 38.0675, Longitude: -120.5436}
	murphys := Point{Latitude: 38.1391, Longitude: -120.4561}

	distance, err := PointToPoint(angelsCamp, murphys)
	require.NoError(t, err)
	assert.InDelta(t, 11046, distance, 100, "Distance should be approximately 11.0km")

	_, err = PointToPoint(angelsCamp, Point{Latitude: 200, Longitude: -300})
	assert.Error(t, err, "Should return error for invalid coordinates")

	distance, err = PointToPoint(murphys, murphys)
	require.NoError(t, err)
	assert.Equal(t, 0.0, distance)
}

func TestDistance_Symmetric(t *testing.T) {
	mumbai := Point{Latitude: 19.0760, Longitude: 72.8777}
	pune := Point{Latitude: 18.5204, Longitude: 73.8567}

	assert.InDelta(t, Distance(mumbai, pune), Distance(pune, mumbai), 1e-6)
	// ~120 km great-circle
	assert.InDelta(t, 120000, Distance(mumbai, pune), 5000)
}

func TestPathLength(t *testing.T) {
	path := meridianPath(10, 1000)
	assert.InDelta(t, 10000, PathLength(path), 0.001)

	assert.Equal(t, 0.0, PathLength(nil))
	assert.Equal(t, 0.0, PathLength(path[:1]))
}

func TestSampleByDistance(t *testing.T) {
	path := meridianPath(100, 1000) // 100 km

	samples := SampleByDistance(path, 15000)
	require.NotEmpty(t, samples)
	assert.Equal(t, path[0], samples[0], "First sample is the route start")
	// 0, 15, 30, 45, 60, 75, 90 km
	assert.Len(t, samples, 7)

	for i := 1; i < len(samples); i++ {
		gap := Distance(samples[i-1], samples[i])
		assert.GreaterOrEqual(t, gap, 15000-0.01, "Samples must be at least the stride apart")
	}

	// Independent of vertex density
	dense := meridianPath(1000, 100)
	assert.Len(t, SampleByDistance(dense, 15000), 7)

	assert.Nil(t, SampleByDistance(nil, 15000))
	assert.Len(t, SampleByDistance(path, 0), 1)
}

func TestPointToPolyline(t *testing.T) {
	route := Polyline{Points: []Point{
		{Latitude: 38.0675, Longitude: -120.5436}, // Angels Camp
		{Latitude: 38.1391, Longitude: -120.4561}, // Murphys
	}}

	distance, err := PointToPolyline(Point{Latitude: 38.0675, Longitude: -120.5436}, route)
	require.NoError(t, err)
	assert.Less(t, distance, 1.0, "Vertex on the route is on the polyline")

	distance, err = PointToPolyline(Point{Latitude: 38.1000, Longitude: -120.5000}, route)
	require.NoError(t, err)
	assert.Greater(t, distance, 0.0)
	assert.Less(t, distance, 2000.0)

	// Behind the start of the route: distance to the start vertex
	behind := Point{Latitude: 38.0500, Longitude: -120.5650}
	distance, err = PointToPolyline(behind, route)
	require.NoError(t, err)
	assert.InDelta(t, Distance(behind, route.Points[0]), distance, 1)

	_, err = PointToPolyline(behind, Polyline{})
	assert.Error(t, err, "Should return error for empty polyline")
}

func TestDecodePolyline(t *testing.T) {
	points, err := DecodePolyline("_p~iF~ps|U_ulLnnqC_mqNvxq`@")
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.InDelta(t, 38.5, points[0].Latitude, 1e-5)
	assert.InDelta(t, -120.2, points[0].Longitude, 1e-5)
	assert.InDelta(t, 43.252, points[2].Latitude, 1e-5)

	assert.Equal(t, "_p~iF~ps|U_ulLnnqC_mqNvxq`@", EncodePolyline(points))

	_, err = DecodePolyline("")
	assert.Error(t, err)
}

func TestNewPoint(t *testing.T) {
	p, err := NewPoint(45, 90)
	require.NoError(t, err)
	assert.Equal(t, Point{Latitude: 45, Longitude: 90}, p)

	_, err = NewPoint(91, 0)
	assert.Error(t, err)
	_, err = NewPoint(0, -181)
	assert.Error(t, err)
}

func TestRouteSummary(t *testing.T) {
	route := Route{
		Polyline:        Polyline{Points: meridianPath(5, 1000)},
		DurationSeconds: 5400,
	}

	// No summary distance: falls back to the path length
	assert.InDelta(t, 5000, route.TotalMeters(), 0.001)

	route.DistanceMeters = 5200
	summary := route.Summarize()
	assert.InDelta(t, 5.2, summary.DistanceKm, 1e-9)
	assert.InDelta(t, 1.5, summary.DurationHours, 1e-9)
	assert.Equal(t, 90, summary.DurationMins)
	assert.Equal(t, 6, summary.Vertices)
}
