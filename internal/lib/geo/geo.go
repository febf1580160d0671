package geo

import (
	"errors"
	"math"

	"github.com/golang/geo/s2"
	"github.com/twpayne/go-polyline"
)

// EarthRadiusMeters is the mean earth radius used for all distance math.
const EarthRadiusMeters = 6371000

var errInvalidCoordinates = errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")

// Distance returns the great-circle distance between two points in meters.
// It assumes both points are valid; use PointToPoint when they may not be.
func Distance(p1, p2 Point) float64 {
	if p1 == p2 {
		return 0
	}
	a := s2.LatLngFromDegrees(p1.Latitude, p1.Longitude)
	b := s2.LatLngFromDegrees(p2.Latitude, p2.Longitude)
	return a.Distance(b).Radians() * EarthRadiusMeters
}

// PointToPoint calculates great-circle distance between two points, rejecting
// out-of-range coordinates
func PointToPoint(p1, p2 Point) (float64, error) {
	if !IsValid(p1) || !IsValid(p2) {
		return 0, errInvalidCoordinates
	}
	return Distance(p1, p2), nil
}

// PathLength sums the segment lengths of an ordered path.
func PathLength(points []Point) float64 {
	total := 0.0
	for i := 0; i < len(points)-1; i++ {
		total += Distance(points[i], points[i+1])
	}
	return total
}

// SampleByDistance picks points along a path: the first vertex, then the
// first vertex at or beyond every everyMeters of cumulative distance since
// the previous sample. Sampling is resolution independent.
func SampleByDistance(points []Point, everyMeters float64) []Point {
	if len(points) == 0 {
		return nil
	}
	samples := []Point{points[0]}
	if everyMeters <= 0 {
		return samples
	}

	traveled := 0.0
	next := everyMeters
	for i := 0; i < len(points)-1; i++ {
		traveled += Distance(points[i], points[i+1])
		if traveled >= next {
			samples = append(samples, points[i+1])
			next = traveled + everyMeters
		}
	}
	return samples
}

// PointToPolyline calculates minimum distance from point to polyline
func PointToPolyline(point Point, line Polyline) (float64, error) {
	if !IsValid(point) {
		return 0, errors.New("invalid point coordinates")
	}

	if len(line.Points) == 0 {
		return 0, errors.New("polyline has no points")
	}

	if len(line.Points) == 1 {
		return Distance(point, line.Points[0]), nil
	}

	minDistance := math.Inf(1)
	for i := 0; i < len(line.Points)-1; i++ {
		d := pointToSegmentDistance(point, line.Points[i], line.Points[i+1])
		if d < minDistance {
			minDistance = d
		}
	}

	return minDistance, nil
}

// pointToSegmentDistance calculates perpendicular distance from point to line segment
func pointToSegmentDistance(point, segmentStart, segmentEnd Point) float64 {
	if segmentStart == segmentEnd {
		return Distance(point, segmentStart)
	}

	distanceToStart := Distance(point, segmentStart)
	distanceToEnd := Distance(point, segmentEnd)
	segmentLength := Distance(segmentStart, segmentEnd)

	if segmentLength < 1 {
		return math.Min(distanceToStart, distanceToEnd)
	}

	lat1 := segmentStart.Latitude * math.Pi / 180
	lon1 := segmentStart.Longitude * math.Pi / 180
	lat2 := segmentEnd.Latitude * math.Pi / 180
	lon2 := segmentEnd.Longitude * math.Pi / 180
	lat3 := point.Latitude * math.Pi / 180
	lon3 := point.Longitude * math.Pi / 180

	d13 := distanceToStart / EarthRadiusMeters

	y := math.Sin(lon2-lon1) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(lon2-lon1)
	bearing13 := math.Atan2(y, x)

	y = math.Sin(lon3-lon1) * math.Cos(lat3)
	x = math.Cos(lat1)*math.Sin(lat3) - math.Sin(lat1)*math.Cos(lat3)*math.Cos(lon3-lon1)
	bearing12 := math.Atan2(y, x)

	// Point projects behind the segment start
	if math.Cos(bearing12-bearing13) < 0 {
		return distanceToStart
	}

	dxt := math.Asin(math.Sin(d13) * math.Sin(bearing12-bearing13))
	crossTrackDistance := math.Abs(dxt) * EarthRadiusMeters

	dat := math.Acos(math.Min(1, math.Cos(d13)/math.Cos(dxt)))
	if dat*EarthRadiusMeters > segmentLength {
		return distanceToEnd
	}

	return crossTrackDistance
}

// DecodePolyline decodes an encoded polyline string (precision 5) to a point sequence
func DecodePolyline(encoded string) ([]Point, error) {
	if encoded == "" {
		return nil, errors.New("encoded polyline string is empty")
	}

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, errors.New("failed to decode polyline: " + err.Error())
	}

	points := make([]Point, len(coords))
	for i, coord := range coords {
		points[i] = Point{Latitude: coord[0], Longitude: coord[1]}
		if !IsValid(points[i]) {
			return nil, errors.New("decoded polyline contains invalid coordinates")
		}
	}

	return points, nil
}

// EncodePolyline encodes a point sequence with precision 5.
func EncodePolyline(points []Point) string {
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Latitude, p.Longitude}
	}
	return string(polyline.EncodeCoords(coords))
}

// NewPoint creates a Point from latitude and longitude values with validation
func NewPoint(latitude, longitude float64) (Point, error) {
	point := Point{Latitude: latitude, Longitude: longitude}
	if !IsValid(point) {
		return Point{}, errInvalidCoordinates
	}
	return point, nil
}

// IsValid validates latitude and longitude values
func IsValid(point Point) bool {
	return point.Latitude >= -90 && point.Latitude <= 90 &&
		point.Longitude >= -180 && point.Longitude <= 180
}
