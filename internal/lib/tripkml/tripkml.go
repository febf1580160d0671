// Package tripkml exports a planned trip as a KML document for Google Earth
// and other map viewers.
package tripkml

import (
	"fmt"
	"io"

	"github.com/twpayne/go-kml/v2"

	"github.com/gorest/roadtrip/server/internal/lib/geo"
	"github.com/gorest/roadtrip/server/internal/lib/poi"
	"github.com/gorest/roadtrip/server/internal/lib/stops"
)

// Trip is everything shown on the exported map
type Trip struct {
	Start       string
	Destination string
	Route       geo.Route
	Stops       []stops.Stop
	Services    []poi.Record
}

// Write renders trip as an indented KML document. Services without a name
// are still exported so the map matches the service list.
func Write(w io.Writer, trip Trip) error {
	if len(trip.Route.Vertices()) < 2 {
		return fmt.Errorf("trip has no route")
	}

	summary := trip.Route.Summarize()
	children := []kml.Element{
		kml.Name(fmt.Sprintf("%s to %s", trip.Start, trip.Destination)),
		kml.Description(fmt.Sprintf("%.1f km, about %d min, %d stops",
			summary.DistanceKm, summary.DurationMins, len(trip.Stops))),
		routePlacemark(trip),
	}

	if len(trip.Stops) > 0 {
		folder := []kml.Element{kml.Name("Pitstops")}
		for _, stop := range trip.Stops {
			folder = append(folder, kml.Placemark(
				kml.Name(StopLabel(stop)),
				kml.Point(kml.Coordinates(coordinate(stop.Location))),
			))
		}
		children = append(children, kml.Folder(folder...))
	}

	if len(trip.Services) > 0 {
		folder := []kml.Element{kml.Name("Services")}
		for _, r := range trip.Services {
			folder = append(folder, kml.Placemark(
				kml.Name(r.Name),
				kml.Description(serviceDescription(r)),
				kml.Point(kml.Coordinates(coordinate(r.Location))),
			))
		}
		children = append(children, kml.Folder(folder...))
	}

	return kml.KML(kml.Document(children...)).WriteIndent(w, "", "  ")
}

// StopLabel is the display name of a stop
func StopLabel(stop stops.Stop) string {
	return fmt.Sprintf("Pitstop %d (after approx. %.0f km)", stop.Sequence, stop.TargetKm())
}

func routePlacemark(trip Trip) kml.Element {
	vertices := trip.Route.Vertices()
	coords := make([]kml.Coordinate, len(vertices))
	for i, v := range vertices {
		coords[i] = coordinate(v)
	}
	return kml.Placemark(
		kml.Name("Route"),
		kml.LineString(kml.Coordinates(coords...)),
	)
}

func serviceDescription(r poi.Record) string {
	if r.Proximity != "" {
		return fmt.Sprintf("%s (%s, %.0f m from route)", r.Kind, r.Proximity, r.DistanceToRoute)
	}
	return r.Kind
}

// KML coordinates are lon,lat
func coordinate(p geo.Point) kml.Coordinate {
	return kml.Coordinate{Lon: p.Longitude, Lat: p.Latitude}
}
