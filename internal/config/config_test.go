package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "osrm", cfg.Routing.Provider)
	assert.Equal(t, 15000.0, cfg.POI.SampleEveryMeters)
	assert.Equal(t, 1200.0, cfg.POI.RouteRadiusMeters)
	assert.Equal(t, 2500.0, cfg.POI.StopRadiusMeters)
	assert.Equal(t, 50, cfg.POI.DisplayLimit)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"unknown policy", func(c *Config) { c.Planner.StopPolicy = "sometimes" }, "planner.stop_policy"},
		{"unknown provider", func(c *Config) { c.Routing.Provider = "mapquest" }, "routing.provider"},
		{"google without key", func(c *Config) { c.Routing.Provider = "google" }, "routing.google.api_key"},
		{"no pace", func(c *Config) { c.POI.Pace = 0 }, "poi.pace"},
		{"zero radius", func(c *Config) { c.POI.RouteRadiusMeters = 0 }, "radii must be positive"},
		{"advice without key", func(c *Config) { c.Advice.Enabled = true }, "advice.api_key"},
		{"no trip sink", func(c *Config) { c.Trips.DatabasePath = "" }, "trips:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Geocoding.BaseURL = ""
	cfg.POI.OverpassURL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geocoding.base_url")
	assert.Contains(t, err.Error(), "poi.overpass_url")
}
