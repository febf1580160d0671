package services

import (
	"fmt"

	"github.com/gorest/roadtrip/server/internal/cache"
	"github.com/gorest/roadtrip/server/internal/clients/advice"
	"github.com/gorest/roadtrip/server/internal/clients/google"
	"github.com/gorest/roadtrip/server/internal/clients/nominatim"
	"github.com/gorest/roadtrip/server/internal/clients/osrm"
	"github.com/gorest/roadtrip/server/internal/clients/overpass"
	"github.com/gorest/roadtrip/server/internal/clients/trips"
	"github.com/gorest/roadtrip/server/internal/config"
	"github.com/gorest/roadtrip/server/internal/lib/poi"
	"github.com/gorest/roadtrip/server/internal/lib/routing"
	"github.com/gorest/roadtrip/server/internal/lib/stops"
	"github.com/gorest/roadtrip/server/internal/store"
)

// Build wires the external clients named by cfg into planner dependencies.
// When trips are recorded locally the opened store is returned too, and the
// caller owns closing it. With neither a recorder URL nor a database path
// trips are not recorded.
func Build(cfg *config.Config, c *cache.Cache) (Dependencies, *store.TripStore, error) {
	deps := Dependencies{
		Geocoder: nominatim.NewCachedClient(
			nominatim.NewClient(cfg.Geocoding.BaseURL, cfg.Geocoding.UserAgent, cfg.Geocoding.Timeout),
			c, cfg.Geocoding.CacheTTL),
		Policy:        stops.ParsePolicy(cfg.Planner.StopPolicy),
		DisplayLimit:  cfg.POI.DisplayLimit,
		RecordTimeout: cfg.Trips.Timeout,
	}

	switch cfg.Routing.Provider {
	case "google":
		deps.Router = google.NewClient(cfg.Routing.Google.APIKey, cfg.Routing.Timeout)
	case "osrm":
		deps.Router = osrm.NewClient(cfg.Routing.OSRM.BaseURL, cfg.Routing.OSRM.Profile, cfg.Routing.Timeout)
	default:
		return Dependencies{}, nil, fmt.Errorf("unknown routing provider %q", cfg.Routing.Provider)
	}

	categories := make([]poi.Category, 0, len(cfg.POI.Categories))
	for _, name := range cfg.POI.Categories {
		categories = append(categories, poi.Category(name))
	}
	deps.POI = poi.NewAggregator(overpass.NewClient(cfg.POI.OverpassURL, cfg.POI.Timeout), poi.Options{
		SampleEveryMeters: cfg.POI.SampleEveryMeters,
		RouteRadiusMeters: cfg.POI.RouteRadiusMeters,
		StopRadiusMeters:  cfg.POI.StopRadiusMeters,
		Pace:              cfg.POI.Pace,
		Categories:        categories,
		Matcher:           routing.NewProximityMatcher(cfg.POI.NearbyMeters),
	})

	if cfg.Advice.Enabled {
		deps.Advisor = advice.NewCachedAdvisor(
			advice.NewAdvisor(cfg.Advice.APIKey, cfg.Advice.Model, cfg.Advice.Timeout),
			c, cfg.Advice.CacheTTL)
	}

	if cfg.Trips.RecorderURL != "" {
		deps.Recorder = trips.NewClient(cfg.Trips.RecorderURL, cfg.Trips.Timeout)
		return deps, nil, nil
	}
	if cfg.Trips.DatabasePath == "" {
		return deps, nil, nil
	}

	tripStore, err := store.Open(cfg.Trips.DatabasePath)
	if err != nil {
		return Dependencies{}, nil, err
	}
	deps.Recorder = StoreRecorder{Store: tripStore}
	return deps, tripStore, nil
}
