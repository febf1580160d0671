package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gorest/roadtrip/server/internal/clients/advice"
	"github.com/gorest/roadtrip/server/internal/lib/failure"
	"github.com/gorest/roadtrip/server/internal/lib/geo"
	"github.com/gorest/roadtrip/server/internal/lib/poi"
	"github.com/gorest/roadtrip/server/internal/lib/stops"
	"github.com/gorest/roadtrip/server/internal/store"
)

// MockGeocoder is a mock implementation of Geocoder
type MockGeocoder struct {
	mock.Mock
}

func (m *MockGeocoder) Geocode(ctx context.Context, text string) (geo.Point, error) {
	args := m.Called(ctx, text)
	return args.Get(0).(geo.Point), args.Error(1)
}

// MockRouter is a mock implementation of Router
type MockRouter struct {
	mock.Mock
}

func (m *MockRouter) Route(ctx context.Context, start, end geo.Point) (geo.Route, error) {
	args := m.Called(ctx, start, end)
	return args.Get(0).(geo.Route), args.Error(1)
}

// MockAdvisor is a mock implementation of Advisor
type MockAdvisor struct {
	mock.Mock
}

func (m *MockAdvisor) SuggestInterval(ctx context.Context, req advice.Request) (float64, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(float64), args.Error(1)
}

// MockRecorder is a mock implementation of TripRecorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordTrip(ctx context.Context, trip store.Trip) error {
	args := m.Called(ctx, trip)
	return args.Error(0)
}

// MockPOIService is a mock implementation of poi.Service
type MockPOIService struct {
	mock.Mock
}

func (m *MockPOIService) Query(ctx context.Context, point geo.Point, radiusMeters float64, categories []poi.Category) ([]poi.Element, error) {
	args := m.Called(ctx, point, radiusMeters, categories)
	if elements := args.Get(0); elements != nil {
		return elements.([]poi.Element), args.Error(1)
	}
	return nil, args.Error(1)
}

var (
	chennai = geo.Point{Latitude: 13.0827, Longitude: 80.2707}
	madurai = geo.Point{Latitude: 9.9252, Longitude: 78.1198}
	salem   = geo.Point{Latitude: 11.6643, Longitude: 78.1460}
)

// meridianRoute builds a route due north along longitude 78 with 1 km
// segments
func meridianRoute(km int) geo.Route {
	stepDegrees := 1000.0 / geo.EarthRadiusMeters * 180 / math.Pi
	points := make([]geo.Point, km+1)
	for i := range points {
		points[i] = geo.Point{Latitude: 8 + float64(i)*stepDegrees, Longitude: 78}
	}
	return geo.Route{
		Polyline:        geo.Polyline{Points: points},
		DistanceMeters:  float64(km) * 1000,
		DurationSeconds: float64(km) * 1000 / 25,
	}
}

func fuelStation(id, name string) poi.Element {
	return poi.Element{
		ID:       id,
		Location: &geo.Point{Latitude: 9, Longitude: 78.001},
		Tags:     map[string]string{"amenity": "fuel", "name": name},
	}
}

type fixture struct {
	geocoder *MockGeocoder
	router   *MockRouter
	advisor  *MockAdvisor
	recorder *MockRecorder
	pois     *MockPOIService
	deps     Dependencies
}

func newFixture() *fixture {
	f := &fixture{
		geocoder: new(MockGeocoder),
		router:   new(MockRouter),
		advisor:  new(MockAdvisor),
		recorder: new(MockRecorder),
		pois:     new(MockPOIService),
	}
	f.deps = Dependencies{
		Geocoder: f.geocoder,
		Router:   f.router,
		Policy:   stops.PerBoundary,
	}
	return f
}

// withPOI enables the along-route sweep, sampling every 200 km
func (f *fixture) withPOI() *fixture {
	f.deps.POI = poi.NewAggregator(f.pois, poi.Options{
		SampleEveryMeters: 200000,
		Pace:              time.Millisecond,
	})
	return f
}

func (f *fixture) expectTrip(route geo.Route) {
	f.geocoder.On("Geocode", mock.Anything, "Chennai").Return(chennai, nil)
	f.geocoder.On("Geocode", mock.Anything, "Madurai").Return(madurai, nil)
	f.router.On("Route", mock.Anything, chennai, madurai).Return(route, nil)
}

func carTrip() PlanRequest {
	return PlanRequest{
		Start:            "Chennai",
		Destination:      "Madurai",
		IntervalSettings: IntervalSettings{Vehicle: stops.VehicleCar, Mode: stops.ModeAuto},
	}
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out waiting for plan events")
			return out
		}
	}
}

func types(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestPlan_CarTripWithServices(t *testing.T) {
	f := newFixture().withPOI()
	f.deps.Recorder = f.recorder
	f.expectTrip(meridianRoute(520))
	f.pois.On("Query", mock.Anything, mock.Anything, poi.DefaultRouteRadiusMeters, mock.Anything).
		Return([]poi.Element{fuelStation("node/1", "Indian Oil"), fuelStation("node/2", "HP")}, nil)

	var recorded store.Trip
	f.recorder.On("RecordTrip", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		recorded = args.Get(1).(store.Trip)
	}).Return(nil).Once()

	session := NewSession("s1", f.deps)
	events := collect(t, session.Plan(context.Background(), carTrip()))
	session.Wait()

	require.Equal(t, []EventType{
		EventRouteReady, EventStopsReady,
		EventServicesUpdated, EventServicesUpdated, EventServicesUpdated, EventServicesUpdated,
	}, types(events))

	for _, ev := range events {
		assert.Equal(t, uint64(1), ev.Token)
		assert.Equal(t, events[0].PlanID, ev.PlanID)
	}

	route := events[0].Route
	require.NotNil(t, route)
	assert.InDelta(t, 520, route.Summary.DistanceKm, 1e-9)
	assert.NotEmpty(t, route.Polyline)

	placed := events[1].Stops
	require.NotNil(t, placed)
	assert.Equal(t, 100.0, placed.IntervalKm)
	assert.Equal(t, SourceDefault, placed.Source)
	require.Len(t, placed.Stops, 5)
	for k, stop := range placed.Stops {
		assert.InDelta(t, float64(k+1)*100, stop.TargetKm(), 1e-9)
	}

	final := events[len(events)-1].Services
	require.NotNil(t, final)
	assert.True(t, final.Final)
	assert.Equal(t, 3, final.Samples)
	assert.Equal(t, 2, final.Listing.Total, "Duplicates across samples are dropped")
	assert.Equal(t, map[poi.Category]int{poi.Fuel: 2}, final.Counts)
	assert.False(t, final.Interrupted)
	for _, ev := range events[2 : len(events)-1] {
		assert.False(t, ev.Services.Final)
	}

	assert.Equal(t, "Chennai", recorded.Start)
	assert.Equal(t, "car", recorded.Vehicle)
	assert.Equal(t, 520.0, recorded.DistanceKm)
	assert.Equal(t, 5.8, recorded.DurationHours)
	assert.Equal(t, 5, recorded.Stops)
	assert.Equal(t, events[0].PlanID, recorded.PlanID)

	snap := session.Snapshot()
	assert.Equal(t, StateRouteActive, snap.State)
	assert.Len(t, snap.Stops, 5)
	assert.Equal(t, 2, snap.RouteServices.Total)
	require.NotNil(t, snap.StartPoint)
	assert.Equal(t, chennai, *snap.StartPoint)
}

func TestPlan_InvalidInputMakesNoCalls(t *testing.T) {
	tests := []struct {
		name string
		req  PlanRequest
	}{
		{"empty start", PlanRequest{Destination: "Madurai"}},
		{"empty destination", PlanRequest{Start: "Chennai", Destination: "  "}},
		{"manual zero", PlanRequest{Start: "Chennai", Destination: "Madurai",
			IntervalSettings: IntervalSettings{Vehicle: stops.VehicleCar, Mode: stops.ModeManual, ManualInterval: "0"}}},
		{"manual empty", PlanRequest{Start: "Chennai", Destination: "Madurai",
			IntervalSettings: IntervalSettings{Vehicle: stops.VehicleCar, Mode: stops.ModeManual}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			session := NewSession("", f.deps)

			events := collect(t, session.Plan(context.Background(), tt.req))
			require.Len(t, events, 1)
			require.NotNil(t, events[0].Failure)
			assert.Equal(t, failure.InputInvalid, events[0].Failure.Kind)

			assert.Equal(t, StateIdle, session.State())
			assert.Empty(t, session.Snapshot().Stops)
			f.geocoder.AssertNotCalled(t, "Geocode", mock.Anything, mock.Anything)
			f.router.AssertNotCalled(t, "Route", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestPlan_GeocodeNotFound(t *testing.T) {
	f := newFixture()
	f.geocoder.On("Geocode", mock.Anything, "Chennai").Return(chennai, nil).Maybe()
	f.geocoder.On("Geocode", mock.Anything, "Atlantis").
		Return(geo.Point{}, fmt.Errorf("%w: %q", failure.ErrNotFound, "Atlantis"))

	session := NewSession("", f.deps)
	events := collect(t, session.Plan(context.Background(), PlanRequest{Start: "Chennai", Destination: "Atlantis"}))

	require.Len(t, events, 1)
	assert.Equal(t, EventFailed, events[0].Type)
	assert.Equal(t, failure.NotFound, events[0].Failure.Kind)
	assert.Contains(t, events[0].Failure.Reason, "Atlantis")
	assert.Equal(t, StateIdle, session.State())
	f.router.AssertNotCalled(t, "Route", mock.Anything, mock.Anything, mock.Anything)
}

func TestPlan_RoutingFailureClearsPreviousTrip(t *testing.T) {
	f := newFixture()
	f.expectTrip(meridianRoute(520))
	f.geocoder.On("Geocode", mock.Anything, "Salem").Return(salem, nil)
	f.router.On("Route", mock.Anything, chennai, salem).
		Return(geo.Route{}, fmt.Errorf("%w: no route", failure.ErrRoutingFailed))

	session := NewSession("", f.deps)
	collect(t, session.Plan(context.Background(), carTrip()))
	require.Len(t, session.Snapshot().Stops, 5)

	req := carTrip()
	req.Destination = "Salem"
	events := collect(t, session.Plan(context.Background(), req))

	require.Len(t, events, 1)
	assert.Equal(t, failure.RoutingFailed, events[0].Failure.Kind)

	snap := session.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Empty(t, snap.Stops)
	assert.Nil(t, snap.Summary)
}

func TestPlan_AdviceSuggestion(t *testing.T) {
	f := newFixture()
	f.deps.Advisor = f.advisor
	f.expectTrip(meridianRoute(520))
	f.advisor.On("SuggestInterval", mock.Anything, mock.MatchedBy(func(req advice.Request) bool {
		return req.Vehicle == stops.VehicleCar && math.Abs(req.DistanceKm-520) < 1e-6
	})).Return(130.0, nil)

	session := NewSession("", f.deps)
	events := collect(t, session.Plan(context.Background(), carTrip()))

	require.Len(t, events, 2)
	assert.Equal(t, 130.0, events[1].Stops.IntervalKm)
	assert.Equal(t, SourceAdvice, events[1].Stops.Source)
	assert.Len(t, events[1].Stops.Stops, 4)
}

func TestPlan_AdviceFailureFallsBackToDefaults(t *testing.T) {
	f := newFixture()
	f.deps.Advisor = f.advisor
	f.expectTrip(meridianRoute(520))
	f.advisor.On("SuggestInterval", mock.Anything, mock.Anything).
		Return(0.0, fmt.Errorf("%w: timeout", failure.ErrServiceUnavailable))

	req := carTrip()
	req.Vehicle = stops.VehicleEV
	req.EVSubtype = stops.EVElectricBike

	session := NewSession("", f.deps)
	events := collect(t, session.Plan(context.Background(), req))

	require.Len(t, events, 2)
	assert.Equal(t, 50.0, events[1].Stops.IntervalKm, "Electric bikes default to 50 km")
	assert.Equal(t, SourceDefault, events[1].Stops.Source)
	assert.Len(t, events[1].Stops.Stops, 10)
}

func TestPlan_ManualIntervalSkipsAdvice(t *testing.T) {
	f := newFixture()
	f.deps.Advisor = f.advisor
	f.expectTrip(meridianRoute(520))

	req := carTrip()
	req.Mode = stops.ModeManual
	req.ManualInterval = "200"

	session := NewSession("", f.deps)
	events := collect(t, session.Plan(context.Background(), req))

	require.Len(t, events, 2)
	assert.Equal(t, SourceManual, events[1].Stops.Source)
	assert.Len(t, events[1].Stops.Stops, 2)
	f.advisor.AssertNotCalled(t, "SuggestInterval", mock.Anything, mock.Anything)
}

func TestPlan_CurrentLocation(t *testing.T) {
	f := newFixture()
	f.geocoder.On("Geocode", mock.Anything, "Madurai").Return(madurai, nil)
	f.router.On("Route", mock.Anything, salem, madurai).Return(meridianRoute(250), nil)

	session := NewSession("", f.deps)
	here := salem
	events := collect(t, session.Plan(context.Background(), PlanRequest{
		UseCurrentLocation: true,
		CurrentLocation:    &here,
		Destination:        "Madurai",
	}))

	require.Len(t, events, 2)
	assert.Equal(t, salem, events[0].Route.Start)
	assert.Len(t, events[1].Stops.Stops, 2)
	assert.Equal(t, CurrentLocationLabel, session.Snapshot().Start)
	f.geocoder.AssertNumberOfCalls(t, "Geocode", 1)
}

func TestPlan_CurrentLocationUnavailable(t *testing.T) {
	f := newFixture()
	f.geocoder.On("Geocode", mock.Anything, "Madurai").Return(madurai, nil).Maybe()

	session := NewSession("", f.deps)
	events := collect(t, session.Plan(context.Background(), PlanRequest{UseCurrentLocation: true, Destination: "Madurai"}))

	require.Len(t, events, 1)
	assert.Equal(t, failure.LocationUnavailable, events[0].Failure.Kind)
	assert.Equal(t, StateIdle, session.State())
}

func TestPlan_RecordingFailureIsNotReported(t *testing.T) {
	f := newFixture()
	f.deps.Recorder = f.recorder
	f.expectTrip(meridianRoute(520))
	f.recorder.On("RecordTrip", mock.Anything, mock.Anything).
		Return(fmt.Errorf("%w: connection refused", failure.ErrPersistenceFailed))

	session := NewSession("", f.deps)
	events := collect(t, session.Plan(context.Background(), carTrip()))
	session.Wait()

	assert.Equal(t, []EventType{EventRouteReady, EventStopsReady}, types(events))
	assert.Equal(t, StateRouteActive, session.State())
	f.recorder.AssertExpectations(t)
}

func TestPlan_NewSubmissionSupersedesOld(t *testing.T) {
	f := newFixture()
	f.expectTrip(meridianRoute(520))
	f.geocoder.On("Geocode", mock.Anything, "Salem").Return(salem, nil)

	entered := make(chan struct{})
	f.router.On("Route", mock.Anything, salem, madurai).Run(func(args mock.Arguments) {
		close(entered)
		<-args.Get(0).(context.Context).Done()
	}).Return(geo.Route{}, context.Canceled).Once()

	session := NewSession("", f.deps)

	slow := carTrip()
	slow.Start = "Salem"
	first := session.Plan(context.Background(), slow)
	<-entered

	second := session.Plan(context.Background(), carTrip())

	assert.Empty(t, collect(t, first), "A superseded submission emits nothing")

	events := collect(t, second)
	require.Equal(t, []EventType{EventRouteReady, EventStopsReady}, types(events))
	assert.Equal(t, uint64(2), events[0].Token)

	snap := session.Snapshot()
	assert.Equal(t, StateRouteActive, snap.State)
	assert.Equal(t, "Chennai", snap.Start)
}

func TestPlan_SupersededStreamGetsNothingAfterPlanReturns(t *testing.T) {
	f := newFixture()
	f.deps.POI = poi.NewAggregator(f.pois, poi.Options{SampleEveryMeters: 100000, Pace: time.Millisecond})
	f.expectTrip(meridianRoute(1000))
	f.pois.On("Query", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]poi.Element{}, nil)

	session := NewSession("", f.deps)
	first := session.Plan(context.Background(), carTrip())

	// Nobody reads the first stream, so the sweep blocks on a full buffer
	require.Eventually(t, func() bool { return len(first) == cap(first) }, time.Second, time.Millisecond)

	second := session.Plan(context.Background(), carTrip())
	buffered := len(first)

	old := collect(t, first)
	assert.Len(t, old, buffered, "Nothing reaches the old stream once a newer plan has started")
	for _, ev := range old {
		assert.Equal(t, uint64(1), ev.Token)
	}

	events := collect(t, second)
	require.NotEmpty(t, events)
	for _, ev := range events {
		assert.Equal(t, uint64(2), ev.Token)
	}
	last := events[len(events)-1]
	require.NotNil(t, last.Services)
	assert.True(t, last.Services.Final)
}

func TestPlan_DeadlineDuringSweepEndsWithPartialListing(t *testing.T) {
	f := newFixture()
	f.deps.POI = poi.NewAggregator(f.pois, poi.Options{SampleEveryMeters: 200000, Pace: 50 * time.Millisecond})
	f.expectTrip(meridianRoute(1000))
	f.pois.On("Query", mock.Anything, mock.Anything, poi.DefaultRouteRadiusMeters, mock.Anything).
		Return([]poi.Element{fuelStation("node/1", "Indian Oil")}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	session := NewSession("", f.deps)
	events := collect(t, session.Plan(ctx, carTrip()))

	require.GreaterOrEqual(t, len(events), 3)
	last := events[len(events)-1]
	require.Equal(t, EventServicesUpdated, last.Type)
	assert.True(t, last.Services.Final)
	assert.True(t, last.Services.Interrupted)
	assert.Less(t, last.Services.Sample, last.Services.Samples)
	assert.Equal(t, 1, last.Services.Listing.Total)
	assert.Equal(t, StateRouteActive, session.State(), "The route and stops stay usable")
}

func TestPlan_DeadlineDuringRoutingIsReported(t *testing.T) {
	f := newFixture()
	f.geocoder.On("Geocode", mock.Anything, "Chennai").Return(chennai, nil)
	f.geocoder.On("Geocode", mock.Anything, "Madurai").Return(madurai, nil)
	f.router.On("Route", mock.Anything, chennai, madurai).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(geo.Route{}, context.DeadlineExceeded)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	session := NewSession("", f.deps)
	events := collect(t, session.Plan(ctx, carTrip()))

	require.Len(t, events, 1)
	require.Equal(t, EventFailed, events[0].Type)
	assert.Equal(t, failure.Canceled, events[0].Failure.Kind)
	assert.Equal(t, StateIdle, session.State())
}

func TestPlan_InternalFailureHidesDetails(t *testing.T) {
	f := newFixture()
	f.geocoder.On("Geocode", mock.Anything, mock.Anything).Return(geo.Point{}, errors.New("nominatim: decode response: unexpected EOF"))

	session := NewSession("", f.deps)
	events := collect(t, session.Plan(context.Background(), carTrip()))

	require.Len(t, events, 1)
	assert.Equal(t, failure.Internal, events[0].Failure.Kind)
	assert.NotContains(t, events[0].Failure.Reason, "EOF")
}

func TestPlan_SweepSkipsFailedSamples(t *testing.T) {
	f := newFixture().withPOI()
	f.expectTrip(meridianRoute(520))

	// Three samples; the second one fails
	f.pois.On("Query", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]poi.Element{fuelStation("node/1", "Station")}, nil).Once()
	f.pois.On("Query", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset")).Once()
	f.pois.On("Query", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]poi.Element{fuelStation("node/3", "Station")}, nil).Once()

	session := NewSession("", f.deps)
	events := collect(t, session.Plan(context.Background(), carTrip()))

	final := events[len(events)-1].Services
	require.NotNil(t, final)
	assert.True(t, final.Final)
	assert.Equal(t, 3, final.Samples)
	assert.Equal(t, 1, final.Failed)
	assert.Equal(t, 2, final.Listing.Total)
}

func TestReconfigure(t *testing.T) {
	f := newFixture()
	f.deps.Advisor = f.advisor
	f.expectTrip(meridianRoute(520))
	f.advisor.On("SuggestInterval", mock.Anything, mock.Anything).Return(130.0, nil).Once()

	session := NewSession("", f.deps)

	_, err := session.Reconfigure(IntervalSettings{Vehicle: stops.VehicleCar})
	assert.ErrorIs(t, err, failure.ErrInputInvalid, "No route yet")

	collect(t, session.Plan(context.Background(), carTrip()))

	placed, err := session.Reconfigure(IntervalSettings{Vehicle: stops.VehicleCar, Mode: stops.ModeManual, ManualInterval: "50"})
	require.NoError(t, err)
	assert.Len(t, placed, 10)

	placed, err = session.Reconfigure(IntervalSettings{Vehicle: stops.VehicleCar, Mode: stops.ModeAuto})
	require.NoError(t, err)
	assert.Len(t, placed, 4, "The suggestion still applies to the submitted vehicle")

	placed, err = session.Reconfigure(IntervalSettings{Vehicle: stops.VehicleBus, Mode: stops.ModeAuto})
	require.NoError(t, err)
	assert.Len(t, placed, 3)
	assert.Equal(t, SourceDefault, session.Snapshot().IntervalSource)

	_, err = session.Reconfigure(IntervalSettings{Vehicle: stops.VehicleBus, Mode: stops.ModeManual, ManualInterval: "abc"})
	assert.ErrorIs(t, err, failure.ErrInputInvalid)
	assert.Len(t, session.Snapshot().Stops, 3, "Rejected settings keep the previous stops")

	f.router.AssertNumberOfCalls(t, "Route", 1)
	f.advisor.AssertNumberOfCalls(t, "SuggestInterval", 1)
}

func TestFindServicesAt(t *testing.T) {
	f := newFixture()
	f.withPOI()
	f.expectTrip(meridianRoute(520))
	f.pois.On("Query", mock.Anything, mock.Anything, poi.DefaultRouteRadiusMeters, mock.Anything).
		Return([]poi.Element{}, nil)

	session := NewSession("", f.deps)
	events := collect(t, session.Plan(context.Background(), carTrip()))
	require.Equal(t, EventServicesUpdated, events[len(events)-1].Type)

	stop2 := session.Snapshot().Stops[1]
	f.pois.On("Query", mock.Anything, stop2.Location, poi.DefaultStopRadiusMeters, mock.Anything).
		Return([]poi.Element{fuelStation("node/7", "Bharat Petroleum")}, nil).Once()
	f.pois.On("Query", mock.Anything, mock.Anything, poi.DefaultStopRadiusMeters, mock.Anything).
		Return(nil, errors.New("overpass busy")).Once()

	listing, err := session.FindServicesAt(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, listing.Total)
	assert.Equal(t, "Bharat Petroleum", listing.Items[0].Name)

	_, err = session.FindServicesAt(context.Background(), 3)
	require.Error(t, err)

	snap := session.Snapshot()
	assert.Equal(t, 2, snap.StopSequence)
	assert.Equal(t, 1, snap.StopServices.Total, "A failed search leaves the previous listing")

	_, err = session.FindServicesAt(context.Background(), 99)
	assert.ErrorIs(t, err, failure.ErrInputInvalid)
}

func TestWriteKML(t *testing.T) {
	f := newFixture()
	f.expectTrip(meridianRoute(520))

	session := NewSession("", f.deps)

	var buf bytes.Buffer
	assert.ErrorIs(t, session.WriteKML(&buf), failure.ErrInputInvalid)

	collect(t, session.Plan(context.Background(), carTrip()))

	require.NoError(t, session.WriteKML(&buf))
	out := buf.String()
	assert.Contains(t, out, "<kml")
	assert.Contains(t, out, "Chennai to Madurai")
	assert.Contains(t, out, "Pitstop 5")
}

func TestClose_InvalidatesInFlightPlan(t *testing.T) {
	f := newFixture()
	f.geocoder.On("Geocode", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(geo.Point{}, context.Canceled)

	session := NewSession("", f.deps)
	events := session.Plan(context.Background(), carTrip())
	session.Close()

	assert.Empty(t, collect(t, events))
}
