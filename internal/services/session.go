package services

import (
	"context"
	"fmt"
	"io"
	"math"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gorest/roadtrip/server/internal/clients/advice"
	"github.com/gorest/roadtrip/server/internal/lib/failure"
	"github.com/gorest/roadtrip/server/internal/lib/geo"
	"github.com/gorest/roadtrip/server/internal/lib/poi"
	"github.com/gorest/roadtrip/server/internal/lib/stops"
	"github.com/gorest/roadtrip/server/internal/lib/tripkml"
	"github.com/gorest/roadtrip/server/internal/store"
)

// State is the planning state of a session
type State string

const (
	StateIdle         State = "idle"
	StateRoutePending State = "route_pending"
	StateRouteActive  State = "route_active"
)

// Where the active stop interval came from
const (
	SourceManual  = "manual"
	SourceAdvice  = "advice"
	SourceDefault = "vehicle_default"
)

// CurrentLocationLabel names a start resolved from the device position
const CurrentLocationLabel = "Current location"

const (
	defaultRecordTimeout = 10 * time.Second
	// terminalSendTimeout bounds delivery of the last event of a plan whose
	// context has ended
	terminalSendTimeout = time.Second
)

// PlanRequest is one trip-planning submission
type PlanRequest struct {
	Start              string
	Destination        string
	UseCurrentLocation bool
	// CurrentLocation is a position reported with the request. It takes
	// precedence over the session's PositionProvider.
	CurrentLocation *geo.Point
	IntervalSettings
}

// IntervalSettings are the inputs the stop interval depends on
type IntervalSettings struct {
	Vehicle        stops.Vehicle
	EVSubtype      stops.EVSubtype
	Mode           stops.Mode
	ManualInterval string
}

func (s IntervalSettings) normalized() IntervalSettings {
	s.Vehicle = stops.ParseVehicle(string(s.Vehicle))
	s.Mode = stops.ParseMode(string(s.Mode))
	if s.Vehicle != stops.VehicleEV {
		s.EVSubtype = ""
	}
	return s
}

// Dependencies are the collaborators a session plans with. Advisor and
// Recorder are optional.
type Dependencies struct {
	Geocoder Geocoder
	Position PositionProvider
	Router   Router
	Advisor  Advisor
	Recorder TripRecorder
	POI      *poi.Aggregator

	Policy        stops.Policy
	DisplayLimit  int
	RecordTimeout time.Duration
}

// Session holds the route, stops, and services of one traveler's trip.
// All state changes go through its methods. Each Plan call takes a new
// token; work started under an older token never touches the state.
type Session struct {
	ID   string
	deps Dependencies

	mu     sync.Mutex
	token  uint64
	cancel context.CancelFunc
	stale  chan struct{}
	state  State
	planID string

	// emitMu is held while an event is sent, so a superseding Plan can wait
	// out a send in progress
	emitMu sync.Mutex

	request     PlanRequest
	start       geo.Point
	destination geo.Point
	route       *geo.Route

	settings       IntervalSettings
	suggestedKm    float64
	intervalKm     float64
	intervalSource string
	stops          []stops.Stop

	routeServices *poi.ResultSet
	stopServices  *poi.ResultSet
	stopSequence  int

	lastUsed time.Time
	now      func() time.Time

	background sync.WaitGroup
}

// NewSession creates an idle session. An empty id gets a random one.
func NewSession(id string, deps Dependencies) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	if deps.DisplayLimit <= 0 {
		deps.DisplayLimit = poi.DefaultDisplayLimit
	}
	if deps.RecordTimeout <= 0 {
		deps.RecordTimeout = defaultRecordTimeout
	}
	s := &Session{
		ID:            id,
		deps:          deps,
		state:         StateIdle,
		routeServices: poi.NewResultSet(),
		stopServices:  poi.NewResultSet(),
		now:           time.Now,
	}
	s.lastUsed = s.now()
	return s
}

// Plan starts a new submission and returns its event stream. The stream
// closes when the submission finishes, fails, or is superseded by a newer
// Plan call. Invalid input yields a single Failed event and leaves the
// session as it was.
func (s *Session) Plan(ctx context.Context, req PlanRequest) <-chan Event {
	ctx = logging.EnsureLogger(ctx)
	req.Start = strings.TrimSpace(req.Start)
	req.Destination = strings.TrimSpace(req.Destination)
	req.IntervalSettings = req.IntervalSettings.normalized()

	if err := validatePlan(req); err != nil {
		events := make(chan Event, 1)
		s.mu.Lock()
		s.lastUsed = s.now()
		events <- failedEvent(s.planID, s.token, err)
		s.mu.Unlock()
		close(events)
		return events
	}

	planCtx, cancel := context.WithCancel(ctx)
	sub := &submission{req: req, stale: make(chan struct{})}
	s.invalidate(func(token uint64) {
		sub.token = token
		s.cancel = cancel
		s.stale = sub.stale
		s.planID = uuid.NewString()
		sub.planID = s.planID
		s.state = StateRoutePending
		s.request = req
		s.settings = req.IntervalSettings
		s.clearLocked()
		s.lastUsed = s.now()
	})

	events := make(chan Event, 4)
	sub.events = events
	go func() {
		defer close(events)
		defer cancel()
		defer s.recoverPanic(planCtx, "Plan")
		s.run(planCtx, sub)
	}()
	return events
}

// invalidate ends the current submission and takes a new token. The old
// submission's context is canceled and a send it has in progress is waited
// out, so nothing reaches its stream once invalidate returns. next runs under
// the session lock with the new token.
func (s *Session) invalidate(next func(token uint64)) {
	s.mu.Lock()
	s.abandonLocked()
	s.mu.Unlock()

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	// A concurrent Plan may have started while the lock was released
	s.abandonLocked()
	s.token++
	if next != nil {
		next(s.token)
	}
}

func (s *Session) abandonLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.stale != nil {
		close(s.stale)
		s.stale = nil
	}
}

// submission is the per-Plan context threaded through the pipeline
type submission struct {
	token  uint64
	planID string
	req    PlanRequest
	events chan<- Event
	// stale is closed once a newer Plan or Close has taken over
	stale  chan struct{}
}

func (sub *submission) superseded() bool {
	select {
	case <-sub.stale:
		return true
	default:
		return false
	}
}

func (s *Session) run(ctx context.Context, sub *submission) {
	req := sub.req
	logging.Infow(ctx, "Planning trip", "session", s.ID, "plan_id", sub.planID,
		"start", startLabel(req), "destination", req.Destination, "vehicle", req.Vehicle)

	start, destination, err := s.resolveEndpoints(ctx, req)
	if err != nil {
		s.fail(ctx, sub, err)
		return
	}

	route, err := s.deps.Router.Route(ctx, start, destination)
	if err != nil {
		s.fail(ctx, sub, err)
		return
	}

	suggestedKm := s.suggest(ctx, req.IntervalSettings, route)
	if ctx.Err() != nil {
		s.fail(ctx, sub, ctx.Err())
		return
	}

	intervalKm, err := stops.ResolveInterval(intervalRequest(req.IntervalSettings, suggestedKm))
	if err != nil {
		s.fail(ctx, sub, err)
		return
	}
	placed := stops.Segment(route, intervalKm, s.deps.Policy)
	routeServices := poi.NewResultSet()

	s.mu.Lock()
	if s.token != sub.token || sub.superseded() {
		s.mu.Unlock()
		return
	}
	s.state = StateRouteActive
	s.start = start
	s.destination = destination
	s.route = &route
	s.suggestedKm = suggestedKm
	s.intervalKm = intervalKm
	s.intervalSource = intervalSource(req.IntervalSettings, suggestedKm)
	s.stops = placed
	s.routeServices = routeServices
	source := s.intervalSource
	s.mu.Unlock()

	s.recordTrip(ctx, sub, route, len(placed))

	summary := route.Summarize()
	logging.Infow(ctx, "Route ready", "plan_id", sub.planID,
		"distance_km", summary.DistanceKm, "interval_km", intervalKm, "stops", len(placed))

	if !s.emit(ctx, sub, Event{Type: EventRouteReady, Route: &RouteReady{
		Start:       start,
		Destination: destination,
		Summary:     summary,
		Polyline:    polylineOf(route),
	}}) {
		return
	}
	if !s.emit(ctx, sub, Event{Type: EventStopsReady, Stops: &StopsReady{
		IntervalKm: intervalKm,
		Source:     source,
		Stops:      copyStops(placed),
	}}) {
		return
	}

	if s.deps.POI == nil {
		return
	}

	sample, failed := 0, 0
	result, err := s.deps.POI.AlongRoute(ctx, route, routeServices, func(p poi.SweepProgress) {
		sample = p.Sample
		if p.Err != nil {
			failed++
		}
		s.emit(ctx, sub, s.servicesEvent(routeServices, p.Sample, p.Samples, failed))
	})
	if err != nil {
		if sub.superseded() || !s.isCurrent(sub.token) {
			return
		}
		// Out of time or abandoned by the caller. The partial listing is
		// final for this submission.
		logging.Infow(ctx, "Service sweep stopped early", "plan_id", sub.planID,
			"sample", sample, "samples", result.Samples, "error", err)
		ev := s.servicesEvent(routeServices, sample, result.Samples, failed)
		ev.Services.Final = true
		ev.Services.Interrupted = true
		s.finish(sub, ev)
		return
	}

	ev := s.servicesEvent(routeServices, result.Samples, result.Samples, result.Failed)
	ev.Services.Final = true
	s.emit(ctx, sub, ev)
}

func (s *Session) servicesEvent(set *poi.ResultSet, sample, samples, failed int) Event {
	return Event{Type: EventServicesUpdated, Services: &ServicesUpdated{
		Listing: set.Display(s.deps.DisplayLimit),
		Counts:  set.CountByCategory(),
		Sample:  sample,
		Samples: samples,
		Failed:  failed,
	}}
}

// resolveEndpoints geocodes start and destination concurrently. Both must
// succeed.
func (s *Session) resolveEndpoints(ctx context.Context, req PlanRequest) (geo.Point, geo.Point, error) {
	var start, destination geo.Point

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if req.UseCurrentLocation {
			start, err = s.positionFor(req).CurrentPosition(gctx)
			return err
		}
		start, err = s.deps.Geocoder.Geocode(gctx, req.Start)
		return err
	})
	g.Go(func() error {
		var err error
		destination, err = s.deps.Geocoder.Geocode(gctx, req.Destination)
		return err
	})

	if err := g.Wait(); err != nil {
		return geo.Point{}, geo.Point{}, err
	}
	return start, destination, nil
}

func (s *Session) positionFor(req PlanRequest) PositionProvider {
	if req.CurrentLocation != nil || s.deps.Position == nil {
		return FixedPosition{Point: req.CurrentLocation}
	}
	return s.deps.Position
}

// suggest asks the advisor for an interval in auto mode. Failures fall back
// to vehicle defaults and are only logged.
func (s *Session) suggest(ctx context.Context, settings IntervalSettings, route geo.Route) float64 {
	if settings.Mode != stops.ModeAuto || s.deps.Advisor == nil {
		return 0
	}

	km, err := s.deps.Advisor.SuggestInterval(ctx, advice.Request{
		Vehicle:    settings.Vehicle,
		EVSubtype:  settings.EVSubtype,
		DistanceKm: route.TotalMeters() / 1000,
	})
	if err != nil {
		if ctx.Err() == nil {
			logging.Warnw(ctx, "Trip advice unavailable, using vehicle default",
				"vehicle", settings.Vehicle, "error", err)
		}
		return 0
	}
	return km
}

// fail reports err for the submission. Failures of a superseded submission
// are dropped.
func (s *Session) fail(ctx context.Context, sub *submission, err error) {
	s.mu.Lock()
	if s.token != sub.token || sub.superseded() {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	s.route = nil
	s.clearLocked()
	s.mu.Unlock()

	kind := failure.KindOf(err)
	ev := failedEvent(sub.planID, sub.token, err)
	if kind == failure.Canceled {
		// Still current, so the plan ran out of time or the caller left
		logging.Infow(ctx, "Planning stopped", "plan_id", sub.planID, "error", err)
		s.finish(sub, ev)
		return
	}
	logging.Warnw(ctx, "Planning failed", "plan_id", sub.planID, "kind", kind, "error", err)
	s.emit(ctx, sub, ev)
}

// emit sends ev if the submission is still current. It reports false once
// the submission is stale or its context is done.
func (s *Session) emit(ctx context.Context, sub *submission, ev Event) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	if sub.superseded() || !s.isCurrent(sub.token) {
		return false
	}
	ev.PlanID = sub.planID
	ev.Token = sub.token

	select {
	case sub.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-sub.stale:
		return false
	}
}

// finish sends the last event of a submission whose context has already
// ended. The send gives up after terminalSendTimeout if nobody is reading.
func (s *Session) finish(sub *submission, ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), terminalSendTimeout)
	defer cancel()
	s.emit(ctx, sub, ev)
}

func (s *Session) isCurrent(token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token == token
}

// recordTrip hands the trip summary to the recorder in the background.
// Failures are logged and never reach the traveler.
func (s *Session) recordTrip(ctx context.Context, sub *submission, route geo.Route, stopCount int) {
	if s.deps.Recorder == nil {
		return
	}

	summary := route.Summarize()
	trip := store.Trip{
		PlanID:        sub.planID,
		Start:         startLabel(sub.req),
		Destination:   sub.req.Destination,
		Vehicle:       vehicleLabel(sub.req.IntervalSettings),
		DistanceKm:    round1(summary.DistanceKm),
		DurationHours: round1(summary.DurationHours),
		Stops:         stopCount,
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deps.RecordTimeout)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer cancel()
		defer s.recoverPanic(recordCtx, "Trip recording")

		if err := s.deps.Recorder.RecordTrip(recordCtx, trip); err != nil {
			logging.Warnw(recordCtx, "Trip recording failed", "plan_id", trip.PlanID, "error", err)
			return
		}
		logging.Infow(recordCtx, "Trip recorded", "plan_id", trip.PlanID)
	}()
}

func (s *Session) recoverPanic(ctx context.Context, what string) {
	if r := recover(); r != nil {
		err, _ := errors.ParseStack(debug.Stack())
		skipFrames := 3
		numFrames := 5
		logging.Errorw(ctx, what+": recovered from panic", "session", s.ID,
			"error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
	}
}

// Reconfigure re-runs segmentation on the active route with new interval
// settings. The route is not fetched again. A rejected manual value keeps the
// previous stops.
func (s *Session) Reconfigure(settings IntervalSettings) ([]stops.Stop, error) {
	settings = settings.normalized()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = s.now()

	if s.state != StateRouteActive || s.route == nil {
		return nil, fmt.Errorf("%w: no active route to reconfigure", failure.ErrInputInvalid)
	}

	// The suggestion was made for the submitted vehicle only
	suggested := 0.0
	if settings.Vehicle == s.request.Vehicle && settings.EVSubtype == s.request.EVSubtype {
		suggested = s.suggestedKm
	}

	intervalKm, err := stops.ResolveInterval(intervalRequest(settings, suggested))
	if err != nil {
		return nil, err
	}

	s.settings = settings
	s.intervalKm = intervalKm
	s.intervalSource = intervalSource(settings, suggested)
	s.stops = stops.Segment(*s.route, intervalKm, s.deps.Policy)
	s.stopServices = poi.NewResultSet()
	s.stopSequence = 0

	return copyStops(s.stops), nil
}

// FindServicesAt searches around stop sequence and replaces the stop
// services listing. A failed search leaves the previous listing in place.
func (s *Session) FindServicesAt(ctx context.Context, sequence int) (poi.Listing, error) {
	ctx = logging.EnsureLogger(ctx)
	s.mu.Lock()
	s.lastUsed = s.now()
	if s.state != StateRouteActive {
		s.mu.Unlock()
		return poi.Listing{}, fmt.Errorf("%w: no active route", failure.ErrInputInvalid)
	}
	if s.deps.POI == nil {
		s.mu.Unlock()
		return poi.Listing{}, fmt.Errorf("%w: service search is not configured", failure.ErrServiceUnavailable)
	}
	stop, ok := findStop(s.stops, sequence)
	token := s.token
	s.mu.Unlock()

	if !ok {
		return poi.Listing{}, fmt.Errorf("%w: no pitstop %d", failure.ErrInputInvalid, sequence)
	}

	found := poi.NewResultSet()
	if _, err := s.deps.POI.AroundStop(ctx, found, stop.Location); err != nil {
		logging.Warnw(ctx, "Stop service search failed", "session", s.ID, "stop", sequence, "error", err)
		return poi.Listing{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != token {
		return poi.Listing{}, fmt.Errorf("stop search superseded by a new plan: %w", context.Canceled)
	}
	s.stopServices = found
	s.stopSequence = sequence

	return found.Display(s.deps.DisplayLimit), nil
}

// Snapshot is a point-in-time view of a session
type Snapshot struct {
	SessionID      string       `json:"session_id"`
	State          State        `json:"state"`
	Token          uint64       `json:"token"`
	PlanID         string       `json:"plan_id,omitempty"`
	Start          string       `json:"start,omitempty"`
	Destination    string       `json:"destination,omitempty"`
	StartPoint     *geo.Point   `json:"start_point,omitempty"`
	EndPoint       *geo.Point   `json:"destination_point,omitempty"`
	Summary        *geo.Summary `json:"summary,omitempty"`
	IntervalKm     float64      `json:"interval_km,omitempty"`
	IntervalSource string       `json:"interval_source,omitempty"`
	Stops          []stops.Stop `json:"stops"`
	RouteServices  poi.Listing  `json:"route_services"`
	StopSequence   int          `json:"stop_sequence,omitempty"`
	StopServices   poi.Listing  `json:"stop_services"`
}

// Snapshot returns the current session view
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = s.now()

	snap := Snapshot{
		SessionID:      s.ID,
		State:          s.state,
		Token:          s.token,
		PlanID:         s.planID,
		IntervalKm:     s.intervalKm,
		IntervalSource: s.intervalSource,
		Stops:          copyStops(s.stops),
		RouteServices:  s.routeServices.Display(s.deps.DisplayLimit),
		StopSequence:   s.stopSequence,
		StopServices:   s.stopServices.Display(s.deps.DisplayLimit),
	}
	if s.state != StateIdle {
		snap.Start = startLabel(s.request)
		snap.Destination = s.request.Destination
	}
	if s.route != nil {
		summary := s.route.Summarize()
		start, destination := s.start, s.destination
		snap.Summary = &summary
		snap.StartPoint = &start
		snap.EndPoint = &destination
	}
	return snap
}

// State returns the current planning state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WriteKML exports the active trip with its stops and every service found
// so far
func (s *Session) WriteKML(w io.Writer) error {
	s.mu.Lock()
	if s.state != StateRouteActive || s.route == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: no active route to export", failure.ErrInputInvalid)
	}
	trip := tripkml.Trip{
		Start:       startLabel(s.request),
		Destination: s.request.Destination,
		Route:       *s.route,
		Stops:       copyStops(s.stops),
		Services:    mergeServices(s.routeServices, s.stopServices),
	}
	s.lastUsed = s.now()
	s.mu.Unlock()

	return tripkml.Write(w, trip)
}

// Close cancels in-flight work and invalidates its token
func (s *Session) Close() {
	s.invalidate(nil)
}

// Wait blocks until background trip recordings have finished
func (s *Session) Wait() {
	s.background.Wait()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Session) clearLocked() {
	s.route = nil
	s.stops = nil
	s.suggestedKm = 0
	s.intervalKm = 0
	s.intervalSource = ""
	s.routeServices = poi.NewResultSet()
	s.stopServices = poi.NewResultSet()
	s.stopSequence = 0
}

func validatePlan(req PlanRequest) error {
	if !req.UseCurrentLocation && req.Start == "" {
		return fmt.Errorf("%w: start location is required", failure.ErrInputInvalid)
	}
	if req.Destination == "" {
		return fmt.Errorf("%w: destination is required", failure.ErrInputInvalid)
	}
	if req.Mode == stops.ModeManual {
		if _, err := stops.ResolveInterval(intervalRequest(req.IntervalSettings, 0)); err != nil {
			return err
		}
	}
	return nil
}

func intervalRequest(settings IntervalSettings, suggestedKm float64) stops.IntervalRequest {
	return stops.IntervalRequest{
		Mode:        settings.Mode,
		Manual:      settings.ManualInterval,
		SuggestedKm: suggestedKm,
		Vehicle:     settings.Vehicle,
		EVSubtype:   settings.EVSubtype,
	}
}

func intervalSource(settings IntervalSettings, suggestedKm float64) string {
	switch {
	case settings.Mode == stops.ModeManual:
		return SourceManual
	case suggestedKm > 0:
		return SourceAdvice
	default:
		return SourceDefault
	}
}

func failedEvent(planID string, token uint64, err error) Event {
	kind := failure.KindOf(err)
	reason := err.Error()
	if !kind.UserVisible() {
		reason = "planning failed"
	}
	return Event{
		Type:    EventFailed,
		PlanID:  planID,
		Token:   token,
		Failure: &Failed{Kind: kind, Reason: reason},
	}
}

func startLabel(req PlanRequest) string {
	if req.UseCurrentLocation {
		return CurrentLocationLabel
	}
	return req.Start
}

func vehicleLabel(settings IntervalSettings) string {
	if settings.Vehicle == stops.VehicleEV && settings.EVSubtype != "" {
		return fmt.Sprintf("%s (%s)", settings.Vehicle, settings.EVSubtype)
	}
	return string(settings.Vehicle)
}

func polylineOf(route geo.Route) string {
	if route.Polyline.EncodedPolyline != "" {
		return route.Polyline.EncodedPolyline
	}
	return geo.EncodePolyline(route.Polyline.Points)
}

func findStop(placed []stops.Stop, sequence int) (stops.Stop, bool) {
	for _, stop := range placed {
		if stop.Sequence == sequence {
			return stop, true
		}
	}
	return stops.Stop{}, false
}

func copyStops(placed []stops.Stop) []stops.Stop {
	out := make([]stops.Stop, len(placed))
	copy(out, placed)
	return out
}

func mergeServices(sets ...*poi.ResultSet) []poi.Record {
	merged := poi.NewResultSet()
	for _, set := range sets {
		for _, r := range set.Records() {
			merged.Add(r)
		}
	}
	return merged.Records()
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
