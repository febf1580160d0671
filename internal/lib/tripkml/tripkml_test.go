package tripkml

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorest/roadtrip/server/internal/lib/geo"
	"github.com/gorest/roadtrip/server/internal/lib/poi"
	"github.com/gorest/roadtrip/server/internal/lib/routing"
	"github.com/gorest/roadtrip/server/internal/lib/stops"
)

func testTrip() Trip {
	return Trip{
		Start:       "Chennai",
		Destination: "Puducherry",
		Route: geo.Route{
			Polyline: geo.Polyline{Points: []geo.Point{
				{Latitude: 13.0827, Longitude: 80.2707},
				{Latitude: 12.5, Longitude: 80.0},
				{Latitude: 11.9416, Longitude: 79.8083},
			}},
			DistanceMeters:  151000,
			DurationSeconds: 10800,
		},
		Stops: []stops.Stop{
			{Sequence: 1, Location: geo.Point{Latitude: 12.5, Longitude: 80.0}, TargetMeters: 100000},
		},
		Services: []poi.Record{
			{ID: "node/1", Name: "Indian Oil", Kind: "fuel", Category: poi.Fuel,
				Location: geo.Point{Latitude: 12.51, Longitude: 80.01}, Proximity: routing.Nearby, DistanceToRoute: 850},
		},
	}
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testTrip()))

	out := buf.String()
	assert.Contains(t, out, "<name>Chennai to Puducherry</name>")
	assert.Contains(t, out, "Pitstop 1 (after approx. 100 km)")
	assert.Contains(t, out, "<name>Indian Oil</name>")
	assert.Contains(t, out, "fuel (nearby, 850 m from route)")
	lon, lat := strings.Index(out, "80.2707"), strings.Index(out, "13.0827")
	require.True(t, lon >= 0 && lat >= 0)
	assert.Less(t, lon, lat, "Coordinates are written lon,lat")
	assert.Contains(t, out, "<LineString>")

	// Output is well-formed XML
	decoder := xml.NewDecoder(strings.NewReader(out))
	for {
		_, err := decoder.Token()
		if err != nil {
			assert.ErrorIs(t, err, io.EOF)
			break
		}
	}
	assert.Equal(t, 3, strings.Count(out, "<Placemark>"))
}

func TestWrite_NoRoute(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, Trip{Start: "A", Destination: "B"})
	assert.Error(t, err)
	assert.Zero(t, buf.Len())
}

func TestStopLabel(t *testing.T) {
	assert.Equal(t, "Pitstop 3 (after approx. 150 km)", StopLabel(stops.Stop{Sequence: 3, TargetMeters: 150000}))
}
