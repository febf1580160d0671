package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/gorest/roadtrip/server/internal/cache"
	"github.com/gorest/roadtrip/server/internal/lib/failure"
	"github.com/gorest/roadtrip/server/internal/lib/geo"
	"github.com/gorest/roadtrip/server/internal/lib/poi"
	"github.com/gorest/roadtrip/server/internal/lib/stops"
	"github.com/gorest/roadtrip/server/internal/store"
)

// SessionHeader carries the planning session id on requests and responses
const SessionHeader = "X-Session-ID"

// PlannerHandlers serves the planning API on top of a session registry
type PlannerHandlers struct {
	registry    *Registry
	planTimeout time.Duration
}

// NewPlannerHandlers creates handlers for registry. A positive planTimeout
// bounds each streamed plan.
func NewPlannerHandlers(registry *Registry, planTimeout time.Duration) *PlannerHandlers {
	return &PlannerHandlers{registry: registry, planTimeout: planTimeout}
}

// planBody is the POST /api/plan payload
type planBody struct {
	SessionID          string     `json:"session_id"`
	Start              string     `json:"start"`
	Destination        string     `json:"destination"`
	UseCurrentLocation bool       `json:"use_current_location"`
	CurrentLocation    *geo.Point `json:"current_location,omitempty"`
	settingsBody
}

// settingsBody is the interval part of a plan or reconfigure payload. The
// interval is accepted as a JSON number or string.
type settingsBody struct {
	Vehicle   string          `json:"vehicle"`
	EVSubtype string          `json:"ev_type"`
	Mode      string          `json:"mode"`
	Interval  json.RawMessage `json:"interval,omitempty"`
}

func (b settingsBody) settings() IntervalSettings {
	return IntervalSettings{
		Vehicle:        stops.Vehicle(b.Vehicle),
		EVSubtype:      stops.EVSubtype(b.EVSubtype),
		Mode:           stops.Mode(b.Mode),
		ManualInterval: rawInterval(b.Interval),
	}
}

func rawInterval(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// HandlePlan starts a plan on POST and returns the session snapshot on GET.
// POST streams events as newline-delimited JSON until the plan finishes.
func (h *PlannerHandlers) HandlePlan(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		session, ok := h.session(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, session.Snapshot())
	case http.MethodPost:
		h.plan(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *PlannerHandlers) plan(w http.ResponseWriter, r *http.Request) {
	var body planBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body: %v", failure.ErrInputInvalid, err))
		return
	}
	if body.SessionID == "" {
		body.SessionID = r.Header.Get(SessionHeader)
	}

	ctx := logging.EnsureLogger(r.Context())
	if h.planTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.planTimeout)
		defer cancel()
	}

	session := h.registry.GetOrCreate(body.SessionID)
	events := session.Plan(ctx, PlanRequest{
		Start:              body.Start,
		Destination:        body.Destination,
		UseCurrentLocation: body.UseCurrentLocation,
		CurrentLocation:    body.CurrentLocation,
		IntervalSettings:   body.settings(),
	})

	w.Header().Set(SessionHeader, session.ID)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			logging.Warnw(ctx, "Failed to write plan event", "session", session.ID, "error", err)
			// Keep draining so the planner is never blocked on us
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// stopsBody is the POST /api/plan/stops payload
type stopsBody struct {
	SessionID string `json:"session_id"`
	settingsBody
}

// HandleStops re-segments the active route with new interval settings
func (h *PlannerHandlers) HandleStops(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var body stopsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body: %v", failure.ErrInputInvalid, err))
		return
	}

	session, ok := h.lookup(w, r, body.SessionID)
	if !ok {
		return
	}

	placed, err := session.Reconfigure(body.settings())
	if err != nil {
		writeError(w, err)
		return
	}

	snap := session.Snapshot()
	writeJSON(w, http.StatusOK, StopsReady{
		IntervalKm: snap.IntervalKm,
		Source:     snap.IntervalSource,
		Stops:      placed,
	})
}

// servicesBody is the POST /api/plan/services payload
type servicesBody struct {
	SessionID string `json:"session_id"`
	Stop      int    `json:"stop"`
}

type servicesResponse struct {
	Stop    int         `json:"stop"`
	Listing poi.Listing `json:"listing"`
	Text    string      `json:"text"`
}

// HandleServices searches for services around one stop
func (h *PlannerHandlers) HandleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var body servicesBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body: %v", failure.ErrInputInvalid, err))
		return
	}

	session, ok := h.lookup(w, r, body.SessionID)
	if !ok {
		return
	}

	listing, err := session.FindServicesAt(r.Context(), body.Stop)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, servicesResponse{Stop: body.Stop, Listing: listing, Text: listing.String()})
}

// HandleKML exports the active trip as KML
func (h *PlannerHandlers) HandleKML(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := session.WriteKML(&buf); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	w.Header().Set("Content-Disposition", `attachment; filename="route.kml"`)
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		logging.Warnw(logging.EnsureLogger(r.Context()), "Failed to write KML", "session", session.ID, "error", err)
	}
}

// session finds the session named by the query string or header
func (h *PlannerHandlers) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	return h.lookup(w, r, r.URL.Query().Get("session_id"))
}

func (h *PlannerHandlers) lookup(w http.ResponseWriter, r *http.Request, id string) (*Session, bool) {
	if id == "" {
		id = r.Header.Get(SessionHeader)
	}
	if id == "" {
		writeError(w, fmt.Errorf("%w: session_id is required", failure.ErrInputInvalid))
		return nil, false
	}
	session, ok := h.registry.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown session " + strconv.Quote(id), Kind: failure.NotFound})
		return nil, false
	}
	return session, true
}

// TripHandlers serves the trip log backed by a TripStore
type TripHandlers struct {
	store *store.TripStore
}

// NewTripHandlers creates the trip log handlers
func NewTripHandlers(tripStore *store.TripStore) *TripHandlers {
	return &TripHandlers{store: tripStore}
}

var requiredTripFields = []string{"start", "destination", "vehicle", "distance", "duration", "stops"}

// HandleTrips lists trips on GET and saves one on POST
func (h *TripHandlers) HandleTrips(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.save(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *TripHandlers) save(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No input data provided"})
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || len(fields) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No input data provided"})
		return
	}

	missing := []string{}
	for _, name := range requiredTripFields {
		if _, ok := fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Missing required fields",
			"missing": missing,
		})
		return
	}

	var trip store.Trip
	if err := json.Unmarshal(data, &trip); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid trip data: " + err.Error()})
		return
	}

	ctx := logging.EnsureLogger(r.Context())
	if err := h.store.Save(ctx, &trip); err != nil {
		logging.Errorw(ctx, "Failed to save trip", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to save trip"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"status":  "success",
		"message": "Trip saved successfully",
		"trip":    trip,
	})
}

func (h *TripHandlers) list(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	ctx := logging.EnsureLogger(r.Context())
	trips, err := h.store.List(ctx, limit)
	if err != nil {
		logging.Errorw(ctx, "Failed to list trips", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to list trips"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"count":  len(trips),
		"trips":  trips,
	})
}

// healthBody is the GET / response
type healthBody struct {
	Message string      `json:"message"`
	Status  string      `json:"status"`
	Cache   cache.Stats `json:"cache"`
}

// HealthHandler reports that the API is up, with cache usage
func HealthHandler(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Only handle the root path
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		writeJSON(w, http.StatusOK, healthBody{
			Message: "GoRest Trip API is running!",
			Status:  "online",
			Cache:   c.Stats(),
		})
	}
}

type errorBody struct {
	Error string       `json:"error"`
	Kind  failure.Kind `json:"kind"`
}

// StatusFor maps a failure kind to an HTTP status
func StatusFor(kind failure.Kind) int {
	switch kind {
	case failure.InputInvalid:
		return http.StatusBadRequest
	case failure.NotFound:
		return http.StatusNotFound
	case failure.LocationUnavailable:
		return http.StatusUnprocessableEntity
	case failure.RoutingFailed:
		return http.StatusBadGateway
	case failure.ServiceUnavailable:
		return http.StatusServiceUnavailable
	case failure.Canceled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := failure.KindOf(err)
	msg := err.Error()
	if !kind.UserVisible() {
		msg = "internal error"
	}
	writeJSON(w, StatusFor(kind), errorBody{Error: msg, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}
