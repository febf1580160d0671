package config

import (
	"errors"
	"fmt"
	"time"
)

// Config represents the complete server configuration. Each section maps to a
// top-level key in prefab.yaml and can be overridden with PF__ env vars.
type Config struct {
	Planner   PlannerConfig   `yaml:"planner" koanf:"planner"`
	Routing   RoutingConfig   `yaml:"routing" koanf:"routing"`
	Geocoding GeocodingConfig `yaml:"geocoding" koanf:"geocoding"`
	POI       POIConfig       `yaml:"poi" koanf:"poi"`
	Advice    AdviceConfig    `yaml:"advice" koanf:"advice"`
	Trips     TripsConfig     `yaml:"trips" koanf:"trips"`
}

// PlannerConfig holds trip session settings
type PlannerConfig struct {
	// StopPolicy is "per_boundary" or "once_per_segment"
	StopPolicy string `yaml:"stop_policy" koanf:"stop_policy"`
	// SessionTTL is how long an idle server-side session is kept
	SessionTTL time.Duration `yaml:"session_ttl" koanf:"session_ttl"`
	// PlanTimeout bounds one planning submission end to end
	PlanTimeout time.Duration `yaml:"plan_timeout" koanf:"plan_timeout"`
}

// RoutingConfig selects and configures the routing engine
type RoutingConfig struct {
	// Provider is "osrm" or "google"
	Provider string        `yaml:"provider" koanf:"provider"`
	Timeout  time.Duration `yaml:"timeout" koanf:"timeout"`
	OSRM     OSRMConfig    `yaml:"osrm" koanf:"osrm"`
	Google   GoogleConfig  `yaml:"google" koanf:"google"`
}

// OSRMConfig holds OSRM route service settings
type OSRMConfig struct {
	BaseURL string `yaml:"base_url" koanf:"base_url"`
	Profile string `yaml:"profile" koanf:"profile"`
}

// GoogleConfig holds Google Routes API settings
type GoogleConfig struct {
	APIKey string `yaml:"api_key" koanf:"api_key"`
}

// GeocodingConfig holds Nominatim settings
type GeocodingConfig struct {
	BaseURL   string        `yaml:"base_url" koanf:"base_url"`
	UserAgent string        `yaml:"user_agent" koanf:"user_agent"`
	Timeout   time.Duration `yaml:"timeout" koanf:"timeout"`
	CacheTTL  time.Duration `yaml:"cache_ttl" koanf:"cache_ttl"`
}

// POIConfig holds points-of-interest search settings
type POIConfig struct {
	OverpassURL string        `yaml:"overpass_url" koanf:"overpass_url"`
	Timeout     time.Duration `yaml:"timeout" koanf:"timeout"`
	// Along-route sampling stride and query radius, in meters
	SampleEveryMeters float64 `yaml:"sample_every_meters" koanf:"sample_every_meters"`
	RouteRadiusMeters float64 `yaml:"route_radius_meters" koanf:"route_radius_meters"`
	// Single-stop query radius, in meters
	StopRadiusMeters float64 `yaml:"stop_radius_meters" koanf:"stop_radius_meters"`
	// Pace is the delay between along-route queries
	Pace time.Duration `yaml:"pace" koanf:"pace"`
	// NearbyMeters is the furthest a place can be from the route and still be "nearby"
	NearbyMeters float64  `yaml:"nearby_meters" koanf:"nearby_meters"`
	DisplayLimit int      `yaml:"display_limit" koanf:"display_limit"`
	Categories   []string `yaml:"categories" koanf:"categories"`
}

// AdviceConfig holds trip-advice (stop interval suggestion) settings
type AdviceConfig struct {
	Enabled  bool          `yaml:"enabled" koanf:"enabled"`
	APIKey   string        `yaml:"api_key" koanf:"api_key"`
	Model    string        `yaml:"model" koanf:"model"`
	Timeout  time.Duration `yaml:"timeout" koanf:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl" koanf:"cache_ttl"`
}

// TripsConfig holds trip record persistence settings
type TripsConfig struct {
	// RecorderURL posts trip records to a remote /api/trips. Empty records
	// to the local database.
	RecorderURL  string        `yaml:"recorder_url" koanf:"recorder_url"`
	DatabasePath string        `yaml:"database_path" koanf:"database_path"`
	Timeout      time.Duration `yaml:"timeout" koanf:"timeout"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Planner: PlannerConfig{
			StopPolicy:  "per_boundary",
			SessionTTL:  30 * time.Minute,
			PlanTimeout: 10 * time.Minute,
		},
		Routing: RoutingConfig{
			Provider: "osrm",
			Timeout:  20 * time.Second,
			OSRM: OSRMConfig{
				BaseURL: "https://router.project-osrm.org",
				Profile: "driving",
			},
		},
		Geocoding: GeocodingConfig{
			BaseURL:   "https://nominatim.openstreetmap.org",
			UserAgent: "roadtrip-planner/1.0",
			Timeout:   10 * time.Second,
			CacheTTL:  24 * time.Hour,
		},
		POI: POIConfig{
			OverpassURL:       "https://overpass-api.de/api/interpreter",
			Timeout:           30 * time.Second,
			SampleEveryMeters: 15000,
			RouteRadiusMeters: 1200,
			StopRadiusMeters:  2500,
			Pace:              time.Second, // Overpass fair-use limit
			NearbyMeters:      3000,
			DisplayLimit:      50,
		},
		Advice: AdviceConfig{
			Enabled:  false,
			Model:    "gpt-4o-mini",
			Timeout:  15 * time.Second,
			CacheTTL: 6 * time.Hour,
		},
		Trips: TripsConfig{
			DatabasePath: "trips.db",
			Timeout:      5 * time.Second,
		},
	}
}

// Validate rejects configurations the planner cannot run with
func (c *Config) Validate() error {
	var errs []error

	switch c.Planner.StopPolicy {
	case "per_boundary", "once_per_segment":
	default:
		errs = append(errs, fmt.Errorf("planner.stop_policy: unknown policy %q", c.Planner.StopPolicy))
	}

	switch c.Routing.Provider {
	case "osrm":
		if c.Routing.OSRM.BaseURL == "" {
			errs = append(errs, errors.New("routing.osrm.base_url is required"))
		}
	case "google":
		if c.Routing.Google.APIKey == "" {
			errs = append(errs, errors.New("routing.google.api_key is required for the google provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("routing.provider: unknown provider %q", c.Routing.Provider))
	}

	if c.Geocoding.BaseURL == "" {
		errs = append(errs, errors.New("geocoding.base_url is required"))
	}
	if c.POI.OverpassURL == "" {
		errs = append(errs, errors.New("poi.overpass_url is required"))
	}
	if c.POI.SampleEveryMeters <= 0 || c.POI.RouteRadiusMeters <= 0 || c.POI.StopRadiusMeters <= 0 {
		errs = append(errs, errors.New("poi: sample stride and radii must be positive"))
	}
	if c.POI.Pace <= 0 {
		errs = append(errs, errors.New("poi.pace must be positive"))
	}

	if c.Advice.Enabled && c.Advice.APIKey == "" {
		errs = append(errs, errors.New("advice.api_key is required when advice is enabled"))
	}

	if c.Trips.RecorderURL == "" && c.Trips.DatabasePath == "" {
		errs = append(errs, errors.New("trips: either recorder_url or database_path is required"))
	}

	return errors.Join(errs...)
}
