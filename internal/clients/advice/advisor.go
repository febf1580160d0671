// Package advice suggests a stop interval for a trip using an OpenAI chat
// model with structured JSON output.
package advice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/gorest/roadtrip/server/internal/lib/failure"
	"github.com/gorest/roadtrip/server/internal/lib/stops"
)

// Request describes the trip the advice is for
type Request struct {
	Vehicle    stops.Vehicle   `json:"vehicle"`
	EVSubtype  stops.EVSubtype `json:"ev_type,omitempty"`
	DistanceKm float64         `json:"distance_km,omitempty"`
}

// Suggestion is the model's answer
type Suggestion struct {
	RecommendedPitstopKm float64 `json:"recommended_pitstop_km"`
	Reason               string  `json:"reason"`
}

// Sanity bounds on a suggested interval, in kilometers
const (
	MinSuggestedKm = 10
	MaxSuggestedKm = 1000
)

// Advisor calls OpenAI for stop interval suggestions
type Advisor struct {
	client *openai.Client
	model  string
}

// NewAdvisor creates an advisor. An empty API key yields an advisor whose
// every call fails, so callers fall back to vehicle defaults.
func NewAdvisor(apiKey, model string, timeout time.Duration) *Advisor {
	if apiKey == "" {
		return &Advisor{model: model}
	}
	cfg := openai.DefaultConfig(apiKey)
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	return NewAdvisorWithConfig(cfg, model)
}

// NewAdvisorWithConfig creates an advisor from a full client config, used to
// point at a different base URL in tests
func NewAdvisorWithConfig(cfg openai.ClientConfig, model string) *Advisor {
	return &Advisor{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// SuggestInterval returns the recommended distance between stops in km.
// Every failure wraps failure.ErrServiceUnavailable.
func (a *Advisor) SuggestInterval(ctx context.Context, req Request) (float64, error) {
	s, err := a.Suggest(ctx, req)
	if err != nil {
		return 0, err
	}
	return s.RecommendedPitstopKm, nil
}

// Suggest asks the model for a stop interval and validates the answer
func (a *Advisor) Suggest(ctx context.Context, req Request) (Suggestion, error) {
	if a.client == nil {
		return Suggestion{}, fmt.Errorf("%w: OpenAI client not initialized", failure.ErrServiceUnavailable)
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: SystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt(req),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type:       openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &SuggestionSchema,
		},
		Temperature: 0.2,
		MaxTokens:   200,
	})
	if err != nil {
		return Suggestion{}, fmt.Errorf("%w: OpenAI API error: %v", failure.ErrServiceUnavailable, err)
	}

	if len(resp.Choices) == 0 {
		return Suggestion{}, fmt.Errorf("%w: no response from OpenAI API", failure.ErrServiceUnavailable)
	}

	var s Suggestion
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &s); err != nil {
		return Suggestion{}, fmt.Errorf("%w: failed to parse OpenAI JSON response: %v", failure.ErrServiceUnavailable, err)
	}

	if err := validate(s); err != nil {
		return Suggestion{}, fmt.Errorf("%w: %v", failure.ErrServiceUnavailable, err)
	}

	return s, nil
}

func validate(s Suggestion) error {
	km := s.RecommendedPitstopKm
	if math.IsNaN(km) || math.IsInf(km, 0) {
		return errors.New("suggested interval is not a number")
	}
	if km < MinSuggestedKm || km > MaxSuggestedKm {
		return fmt.Errorf("suggested interval %.1f km outside [%d, %d]", km, MinSuggestedKm, MaxSuggestedKm)
	}
	return nil
}

func userPrompt(req Request) string {
	vehicle := string(req.Vehicle)
	if req.Vehicle == stops.VehicleEV && req.EVSubtype != "" {
		vehicle = fmt.Sprintf("%s (%s)", req.Vehicle, req.EVSubtype)
	}
	if req.DistanceKm > 0 {
		return fmt.Sprintf("Vehicle: %s\nTrip distance: %.0f km\nRecommend the distance between pitstops.", vehicle, req.DistanceKm)
	}
	return fmt.Sprintf("Vehicle: %s\nRecommend the distance between pitstops.", vehicle)
}
