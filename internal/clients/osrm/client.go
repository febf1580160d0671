// Package osrm is a Router backed by the OSRM HTTP route service.
package osrm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorest/roadtrip/server/internal/lib/failure"
	"github.com/gorest/roadtrip/server/internal/lib/geo"
)

// HTTPDoer is the subset of http.Client the client needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides access to an OSRM server
type Client struct {
	baseURL    string
	profile    string
	httpClient HTTPDoer
}

// NewClient creates a new OSRM client. An empty profile means "driving".
func NewClient(baseURL, profile string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewClientWithHTTPDoer(baseURL, profile, &http.Client{Timeout: timeout})
}

// NewClientWithHTTPDoer creates a client with a custom transport, used in tests
func NewClientWithHTTPDoer(baseURL, profile string, doer HTTPDoer) *Client {
	if profile == "" {
		profile = "driving"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		profile:    profile,
		httpClient: doer,
	}
}

// Route requests the fastest route between two points with full overview
// geometry. Any failure is reported as failure.ErrRoutingFailed.
func (c *Client) Route(ctx context.Context, start, end geo.Point) (geo.Route, error) {
	route, err := c.route(ctx, start, end)
	if err != nil {
		return geo.Route{}, fmt.Errorf("%w: %v", failure.ErrRoutingFailed, err)
	}
	return route, nil
}

func (c *Client) route(ctx context.Context, start, end geo.Point) (geo.Route, error) {
	params := url.Values{}
	params.Set("overview", "full")
	params.Set("geometries", "polyline")
	params.Set("alternatives", "false")
	params.Set("steps", "false")

	// OSRM takes lon,lat pairs
	coords := fmt.Sprintf("%.6f,%.6f;%.6f,%.6f", start.Longitude, start.Latitude, end.Longitude, end.Latitude)
	requestURL := fmt.Sprintf("%s/route/v1/%s/%s?%s", c.baseURL, c.profile, coords, params.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return geo.Route{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return geo.Route{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return geo.Route{}, fmt.Errorf("rate limit exceeded")
	}

	// OSRM reports NoRoute and friends as 400 with a JSON body
	var response RouteResponse
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return geo.Route{}, fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, &response); err != nil {
		if resp.StatusCode >= 400 {
			return geo.Route{}, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
		}
		return geo.Route{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if response.Code != "Ok" {
		return geo.Route{}, fmt.Errorf("osrm %s: %s", response.Code, response.Message)
	}
	if len(response.Routes) == 0 {
		return geo.Route{}, fmt.Errorf("no routes found in response")
	}

	best := response.Routes[0]
	points, err := geo.DecodePolyline(best.Geometry)
	if err != nil {
		return geo.Route{}, err
	}
	if len(points) < 2 {
		return geo.Route{}, fmt.Errorf("route has %d vertices", len(points))
	}

	return geo.Route{
		Polyline:        geo.Polyline{EncodedPolyline: best.Geometry, Points: points},
		DistanceMeters:  best.Distance,
		DurationSeconds: best.Duration,
	}, nil
}

// RouteResponse is the OSRM route service response
type RouteResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Routes  []RouteJSON `json:"routes"`
}

// RouteJSON is a single OSRM route
type RouteJSON struct {
	Geometry string  `json:"geometry"`
	Distance float64 `json:"distance"` // meters
	Duration float64 `json:"duration"` // seconds
}
