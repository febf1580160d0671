// Package overpass searches OpenStreetMap for roadside services through the
// Overpass API.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorest/roadtrip/server/internal/lib/geo"
	"github.com/gorest/roadtrip/server/internal/lib/poi"
)

// HTTPDoer is the subset of http.Client the client needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements poi.Service against an Overpass interpreter endpoint
type Client struct {
	endpoint   string
	httpClient HTTPDoer
	// serverTimeout is the [timeout:N] query setting, in seconds
	serverTimeout int
}

var _ poi.Service = (*Client)(nil)

// NewClient creates a new Overpass client
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := NewClientWithHTTPDoer(endpoint, &http.Client{Timeout: timeout})
	c.serverTimeout = int(timeout.Seconds())
	return c
}

// NewClientWithHTTPDoer creates a client with a custom transport, used in tests
func NewClientWithHTTPDoer(endpoint string, doer HTTPDoer) *Client {
	return &Client{
		endpoint:      endpoint,
		httpClient:    doer,
		serverTimeout: 25,
	}
}

// Query returns tagged elements of the given categories within radiusMeters
// of point. Ways and relations are located by their center.
func (c *Client) Query(ctx context.Context, point geo.Point, radiusMeters float64, categories []poi.Category) ([]poi.Element, error) {
	query := BuildQuery(point, radiusMeters, categories, c.serverTimeout)
	if query == "" {
		return nil, nil
	}

	form := url.Values{}
	form.Set("data", query)

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

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

	var response Response
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if response.Remark != "" && len(response.Elements) == 0 {
		// Overpass reports server-side timeouts as a 200 with a remark
		return nil, fmt.Errorf("overpass: %s", response.Remark)
	}

	elements := make([]poi.Element, 0, len(response.Elements))
	for _, e := range response.Elements {
		elements = append(elements, e.toElement())
	}
	return elements, nil
}

// BuildQuery renders the Overpass QL for a radius search. It returns "" when
// no category has a tag selector.
func BuildQuery(point geo.Point, radiusMeters float64, categories []poi.Category, timeoutSeconds int) string {
	selectors := poi.SelectorsFor(categories)
	if len(selectors) == 0 {
		return ""
	}

	around := fmt.Sprintf("(around:%.0f,%.6f,%.6f)", radiusMeters, point.Latitude, point.Longitude)

	var b strings.Builder
	fmt.Fprintf(&b, "[out:json][timeout:%d];\n(\n", timeoutSeconds)
	for _, s := range selectors {
		for _, kind := range []string{"node", "way", "relation"} {
			fmt.Fprintf(&b, "  %s[%q=%q]%s;\n", kind, s.Key, s.Value, around)
		}
	}
	b.WriteString(");\nout center;\n")
	return b.String()
}

// Response is the Overpass JSON output
type Response struct {
	Elements []ElementJSON `json:"elements"`
	Remark   string        `json:"remark,omitempty"`
}

// ElementJSON is one OSM element. Nodes carry lat/lon; ways and relations
// carry a center when queried with "out center".
type ElementJSON struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    *float64          `json:"lat,omitempty"`
	Lon    *float64          `json:"lon,omitempty"`
	Center *LatLon           `json:"center,omitempty"`
	Tags   map[string]string `json:"tags"`
}

// LatLon is a bare coordinate
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (e ElementJSON) toElement() poi.Element {
	element := poi.Element{
		// OSM ids are only unique per element type
		ID:   fmt.Sprintf("%s/%d", e.Type, e.ID),
		Tags: e.Tags,
	}

	switch {
	case e.Lat != nil && e.Lon != nil:
		element.Location = &geo.Point{Latitude: *e.Lat, Longitude: *e.Lon}
	case e.Center != nil:
		element.Location = &geo.Point{Latitude: e.Center.Lat, Longitude: e.Center.Lon}
	}

	return element
}
