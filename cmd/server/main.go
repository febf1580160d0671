package main

import (
	"context"
	"log"
	"time"

	"github.com/dpup/prefab"
	"github.com/dpup/prefab/logging"

	"github.com/gorest/roadtrip/server/internal/cache"
	"github.com/gorest/roadtrip/server/internal/config"
	"github.com/gorest/roadtrip/server/internal/services"
	"github.com/gorest/roadtrip/server/internal/store"
)

func main() {
	// Load configuration using Prefab's config system
	appConfig := loadConfig()

	// Background loops log through prefab, which needs a logger on the context
	ctx := logging.EnsureLogger(context.Background())

	// Geocoding results and trip advice share one cache
	cacheInstance := cache.NewCache()
	cacheInstance.StartPeriodicCleanup(ctx, 10*time.Minute)

	deps, tripStore, err := services.Build(appConfig, cacheInstance)
	if err != nil {
		log.Fatalf("Failed to initialize planner: %v", err)
	}

	if deps.Advisor != nil {
		log.Printf("Trip advice enabled (model: %s)", appConfig.Advice.Model)
	} else {
		log.Printf("Trip advice disabled, using vehicle default intervals")
	}

	// The trips API needs a local store even when records go to a remote log
	if tripStore == nil {
		tripStore, err = store.Open(appConfig.Trips.DatabasePath)
		if err != nil {
			log.Fatalf("Failed to open trip database: %v", err)
		}
	}
	defer tripStore.Close()

	registry := services.NewRegistry(deps, appConfig.Planner.SessionTTL)
	registry.StartCleanup(ctx, time.Minute)
	defer registry.Stop()

	planner := services.NewPlannerHandlers(registry, appConfig.Planner.PlanTimeout)
	tripsAPI := services.NewTripHandlers(tripStore)

	log.Printf("Roadtrip planner starting")
	log.Printf("Routing provider: %s", appConfig.Routing.Provider)
	log.Printf("Stop policy: %s", appConfig.Planner.StopPolicy)

	// Server configuration (port, etc.) will be loaded from prefab.yaml/env vars
	server := prefab.New(
		prefab.WithHTTPHandlerFunc("/", services.HealthHandler(cacheInstance)),
		prefab.WithHTTPHandlerFunc("/api/plan", planner.HandlePlan),
		prefab.WithHTTPHandlerFunc("/api/plan/stops", planner.HandleStops),
		prefab.WithHTTPHandlerFunc("/api/plan/services", planner.HandleServices),
		prefab.WithHTTPHandlerFunc("/api/plan/route.kml", planner.HandleKML),
		prefab.WithHTTPHandlerFunc("/api/trips", tripsAPI.HandleTrips),
	)

	// Start the server (blocks until shutdown)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// loadConfig starts from the defaults and overlays each section from
// prefab.yaml and PF__ environment variables
func loadConfig() *config.Config {
	appConfig := config.DefaultConfig()

	sections := []struct {
		key    string
		target any
	}{
		{"planner", &appConfig.Planner},
		{"routing", &appConfig.Routing},
		{"geocoding", &appConfig.Geocoding},
		{"poi", &appConfig.POI},
		{"advice", &appConfig.Advice},
		{"trips", &appConfig.Trips},
	}
	for _, s := range sections {
		if err := prefab.Config.Unmarshal(s.key, s.target); err != nil {
			log.Fatalf("Failed to unmarshal %s section: %v", s.key, err)
		}
	}

	if err := appConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	return appConfig
}
