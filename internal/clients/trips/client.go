// Package trips sends trip summaries to a remote trip log (POST /api/trips).
package trips

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorest/roadtrip/server/internal/lib/failure"
	"github.com/gorest/roadtrip/server/internal/store"
)

// HTTPDoer is the subset of http.Client the client needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client posts trip records to a remote trips API
type Client struct {
	baseURL    string
	httpClient HTTPDoer
}

// NewClient creates a new trips API client
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return NewClientWithHTTPDoer(baseURL, &http.Client{Timeout: timeout})
}

// NewClientWithHTTPDoer creates a client with a custom transport, used in tests
func NewClientWithHTTPDoer(baseURL string, doer HTTPDoer) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: doer,
	}
}

// RecordTrip posts trip. Any failure wraps failure.ErrPersistenceFailed.
func (c *Client) RecordTrip(ctx context.Context, trip store.Trip) error {
	jsonBody, err := json.Marshal(trip)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal trip: %v", failure.ErrPersistenceFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/trips", bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", failure.ErrPersistenceFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: failed to execute request: %v", failure.ErrPersistenceFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: API error %d: %s", failure.ErrPersistenceFailed, resp.StatusCode, string(body))
	}

	return nil
}
