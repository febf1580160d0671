// Package google is a Router backed by the Google Routes API v2.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorest/roadtrip/server/internal/lib/failure"
	"github.com/gorest/roadtrip/server/internal/lib/geo"
)

// HTTPDoer is the subset of http.Client the client needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides access to Google Routes API v2
type Client struct {
	apiKey     string
	httpClient HTTPDoer
	baseURL    string
}

// RouteData represents the processed route information from Google Routes API
type RouteData struct {
	DurationSeconds       int32
	StaticDurationSeconds int32
	DistanceMeters        int32
	Polyline              string
}

const fieldMask = "routes.duration,routes.staticDuration,routes.distanceMeters,routes.polyline.encodedPolyline"

// NewClient creates a new Google Routes API client
func NewClient(apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewClientWithHTTPDoer(apiKey, "https://routes.googleapis.com", &http.Client{Timeout: timeout})
}

// NewClientWithHTTPDoer creates a client with a custom transport, used in tests
func NewClientWithHTTPDoer(apiKey, baseURL string, doer HTTPDoer) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: doer,
	}
}

// Route computes a driving route and decodes its geometry
func (c *Client) Route(ctx context.Context, start, end geo.Point) (geo.Route, error) {
	data, err := c.ComputeRoutes(ctx, start, end)
	if err != nil {
		return geo.Route{}, fmt.Errorf("%w: %v", failure.ErrRoutingFailed, err)
	}

	points, err := geo.DecodePolyline(data.Polyline)
	if err != nil {
		return geo.Route{}, fmt.Errorf("%w: %v", failure.ErrRoutingFailed, err)
	}
	if len(points) < 2 {
		return geo.Route{}, fmt.Errorf("%w: route has %d vertices", failure.ErrRoutingFailed, len(points))
	}

	return geo.Route{
		Polyline:        geo.Polyline{EncodedPolyline: data.Polyline, Points: points},
		DistanceMeters:  float64(data.DistanceMeters),
		DurationSeconds: float64(data.DurationSeconds),
	}, nil
}

// ComputeRoutes performs coordinate-based route computation
func (c *Client) ComputeRoutes(ctx context.Context, origin, destination geo.Point) (*RouteData, error) {
	requestBody := map[string]interface{}{
		"origin":            waypoint(origin),
		"destination":       waypoint(destination),
		"travelMode":        "DRIVE",
		"routingPreference": "TRAFFIC_AWARE",
		"polylineQuality":   "OVERVIEW",
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/directions/v2:computeRoutes", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Field mask is required or the API rejects the call
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limit exceeded")
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var response RoutesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(response.Routes) == 0 {
		return nil, fmt.Errorf("no routes found in response")
	}

	return processRoute(response.Routes[0])
}

func waypoint(p geo.Point) map[string]interface{} {
	return map[string]interface{}{
		"location": map[string]interface{}{
			"latLng": map[string]interface{}{
				"latitude":  p.Latitude,
				"longitude": p.Longitude,
			},
		},
	}
}

func processRoute(route RouteJSON) (*RouteData, error) {
	durationSeconds, err := parseDuration(route.Duration)
	if err != nil {
		return nil, fmt.Errorf("failed to parse duration: %w", err)
	}

	var staticSeconds int32
	if route.StaticDuration != "" {
		if staticSeconds, err = parseDuration(route.StaticDuration); err != nil {
			return nil, fmt.Errorf("failed to parse static duration: %w", err)
		}
	}

	return &RouteData{
		DurationSeconds:       durationSeconds,
		StaticDurationSeconds: staticSeconds,
		DistanceMeters:        route.DistanceMeters,
		Polyline:              route.Polyline.EncodedPolyline,
	}, nil
}

// parseDuration parses Google's duration format like "450s" to seconds
func parseDuration(durationStr string) (int32, error) {
	if durationStr == "" {
		return 0, fmt.Errorf("empty duration string")
	}

	if len(durationStr) > 1 && durationStr[len(durationStr)-1] == 's' {
		durationStr = durationStr[:len(durationStr)-1]
	}

	var seconds int32
	_, err := fmt.Sscanf(durationStr, "%d", &seconds)
	return seconds, err
}

// RoutesResponse represents the API response structure
type RoutesResponse struct {
	Routes []RouteJSON `json:"routes"`
}

// RouteJSON represents a single route in the response
type RouteJSON struct {
	Duration       string   `json:"duration"`
	StaticDuration string   `json:"staticDuration"`
	DistanceMeters int32    `json:"distanceMeters"`
	Polyline       Polyline `json:"polyline"`
}

// Polyline represents the route polyline
type Polyline struct {
	EncodedPolyline string `json:"encodedPolyline"`
}
