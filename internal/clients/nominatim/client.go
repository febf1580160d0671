// Package nominatim resolves free-text place names to coordinates with the
// OpenStreetMap Nominatim search API.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorest/roadtrip/server/internal/cache"
	"github.com/gorest/roadtrip/server/internal/lib/failure"
	"github.com/gorest/roadtrip/server/internal/lib/geo"
)

// HTTPDoer is the subset of http.Client the client needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides access to a Nominatim server
type Client struct {
	baseURL    string
	userAgent  string
	httpClient HTTPDoer
}

// Place is one search match
type Place struct {
	DisplayName string    `json:"display_name"`
	Location    geo.Point `json:"location"`
}

// NewClient creates a new Nominatim client. Nominatim's usage policy requires
// an identifying User-Agent.
func NewClient(baseURL, userAgent string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return NewClientWithHTTPDoer(baseURL, userAgent, &http.Client{Timeout: timeout})
}

// NewClientWithHTTPDoer creates a client with a custom transport, used in tests
func NewClientWithHTTPDoer(baseURL, userAgent string, doer HTTPDoer) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		httpClient: doer,
	}
}

// Geocode returns the coordinate of the best match for text
func (c *Client) Geocode(ctx context.Context, text string) (geo.Point, error) {
	place, err := c.Search(ctx, text)
	if err != nil {
		return geo.Point{}, err
	}
	return place.Location, nil
}

// Search returns the best match for text. No match is failure.ErrNotFound;
// transport and API errors are failure.ErrServiceUnavailable.
func (c *Client) Search(ctx context.Context, text string) (Place, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Place{}, fmt.Errorf("%w: empty location", failure.ErrInputInvalid)
	}

	params := url.Values{}
	params.Set("format", "json")
	params.Set("limit", "1")
	params.Set("q", text)

	requestURL := fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return Place{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Place{}, fmt.Errorf("%w: geocoding %q: %v", failure.ErrServiceUnavailable, text, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Place{}, fmt.Errorf("%w: geocoding rate limit exceeded", failure.ErrServiceUnavailable)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return Place{}, fmt.Errorf("%w: geocoding API error %d: %s", failure.ErrServiceUnavailable, resp.StatusCode, string(body))
	}

	var results []SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Place{}, fmt.Errorf("%w: failed to decode response: %v", failure.ErrServiceUnavailable, err)
	}

	if len(results) == 0 {
		return Place{}, fmt.Errorf("%w: %q", failure.ErrNotFound, text)
	}

	return results[0].toPlace()
}

// SearchResult is one entry of the Nominatim JSON response. Coordinates are
// strings on the wire.
type SearchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

func (r SearchResult) toPlace() (Place, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return Place{}, fmt.Errorf("%w: invalid latitude %q", failure.ErrServiceUnavailable, r.Lat)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return Place{}, fmt.Errorf("%w: invalid longitude %q", failure.ErrServiceUnavailable, r.Lon)
	}

	point, err := geo.NewPoint(lat, lon)
	if err != nil {
		return Place{}, fmt.Errorf("%w: %v", failure.ErrServiceUnavailable, err)
	}

	return Place{DisplayName: r.DisplayName, Location: point}, nil
}

// CachedClient memoizes successful lookups. Misses and errors are not cached
// so a typo can be retried after it is fixed upstream.
type CachedClient struct {
	client *Client
	cache  *cache.Cache
	ttl    time.Duration
}

// NewCachedClient wraps client with cache
func NewCachedClient(client *Client, c *cache.Cache, ttl time.Duration) *CachedClient {
	return &CachedClient{client: client, cache: c, ttl: ttl}
}

// Geocode returns the cached coordinate for text or looks it up
func (c *CachedClient) Geocode(ctx context.Context, text string) (geo.Point, error) {
	key := "geocode:" + strings.ToLower(strings.Join(strings.Fields(text), " "))
	point, _, err := cache.Remember(c.cache, key, c.ttl, "nominatim", func() (geo.Point, error) {
		return c.client.Geocode(ctx, text)
	})
	return point, err
}
