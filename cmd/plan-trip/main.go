package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/gorest/roadtrip/server/internal/cache"
	"github.com/gorest/roadtrip/server/internal/config"
	"github.com/gorest/roadtrip/server/internal/lib/failure"
	"github.com/gorest/roadtrip/server/internal/lib/geo"
	"github.com/gorest/roadtrip/server/internal/lib/stops"
	"github.com/gorest/roadtrip/server/internal/lib/tripkml"
	"github.com/gorest/roadtrip/server/internal/services"
)

func main() {
	var (
		start      = flag.String("start", "", "Start location (free text)")
		dest       = flag.String("dest", "", "Destination (free text)")
		here       = flag.String("here", "", "Start from current coordinates (lat,lon) instead of -start")
		vehicle    = flag.String("vehicle", "car", "Vehicle: bike, car, ev, bus, other")
		evType     = flag.String("ev-type", "", "EV subtype: electric_bike or electric_car")
		interval   = flag.String("interval", "", "Manual stop interval in km (switches to manual mode)")
		provider   = flag.String("provider", "osrm", "Routing provider: osrm or google")
		policy     = flag.String("policy", "per_boundary", "Stop policy: per_boundary or once_per_segment")
		noServices = flag.Bool("no-services", false, "Skip the along-route services sweep")
		kmlPath    = flag.String("kml", "", "Write the planned trip to this KML file")
		dbPath     = flag.String("db", "", "Record the trip in this SQLite database")
		recordURL  = flag.String("record-url", "", "Record the trip with a remote trips API")
		asJSON     = flag.Bool("json", false, "Print raw events as JSON lines")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help || *dest == "" || (*start == "" && *here == "") {
		fmt.Printf("Roadtrip Planner\n\n")
		fmt.Printf("Plans a trip, places pitstops, and lists roadside services.\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		flag.PrintDefaults()
		fmt.Printf("\nExamples:\n")
		fmt.Printf("  %s -start=Chennai -dest=Madurai\n", os.Args[0])
		fmt.Printf("  %s -here=13.0827,80.2707 -dest=Bengaluru -vehicle=ev -ev-type=electric_bike\n", os.Args[0])
		fmt.Printf("  %s -start=Pune -dest=Goa -interval=120 -kml=trip.kml\n", os.Args[0])
		fmt.Printf("  OPENAI_API_KEY=your_key %s -start=Delhi -dest=Jaipur\n", os.Args[0])
		if *help {
			return
		}
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	cfg.Routing.Provider = *provider
	cfg.Routing.Google.APIKey = os.Getenv("GOOGLE_API_KEY")
	cfg.Planner.StopPolicy = *policy
	cfg.Trips.DatabasePath = *dbPath
	cfg.Trips.RecorderURL = *recordURL
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Advice.Enabled = true
		cfg.Advice.APIKey = key
	}

	deps, tripStore, err := services.Build(cfg, cache.NewCache())
	if err != nil {
		log.Fatalf("Failed to initialize planner: %v", err)
	}
	if tripStore != nil {
		defer tripStore.Close()
	}
	if *noServices {
		deps.POI = nil
	}

	req := services.PlanRequest{
		Start:       *start,
		Destination: *dest,
		IntervalSettings: services.IntervalSettings{
			Vehicle:   stops.Vehicle(*vehicle),
			EVSubtype: stops.EVSubtype(*evType),
			Mode:      stops.ModeAuto,
		},
	}
	if *interval != "" {
		req.Mode = stops.ModeManual
		req.ManualInterval = *interval
	}
	if *here != "" {
		point, err := parseLatLon(*here)
		if err != nil {
			log.Fatalf("Invalid -here: %v", err)
		}
		req.UseCurrentLocation = true
		req.CurrentLocation = &point
	}

	ctx, stop := signal.NotifyContext(logging.EnsureLogger(context.Background()), os.Interrupt)
	defer stop()

	session := services.NewSession("", deps)
	startTime := time.Now()

	failed := false
	for ev := range session.Plan(ctx, req) {
		if *asJSON {
			data, _ := json.Marshal(ev)
			fmt.Println(string(data))
		} else {
			printEvent(ev)
		}
		// An interrupted run ends with a canceled failure; that is not an error
		if ev.Type == services.EventFailed && ev.Failure.Kind != failure.Canceled {
			failed = true
		}
	}
	session.Wait()

	if failed {
		os.Exit(1)
	}
	if ctx.Err() != nil {
		log.Printf("Interrupted after %v", time.Since(startTime).Round(time.Millisecond))
	}

	if *kmlPath != "" {
		if err := writeKML(session, *kmlPath); err != nil {
			log.Fatalf("Failed to write KML: %v", err)
		}
		fmt.Printf("\nKML written to %s\n", *kmlPath)
	}

	fmt.Printf("\nDone in %v\n", time.Since(startTime).Round(time.Millisecond))
}

func printEvent(ev services.Event) {
	switch ev.Type {
	case services.EventRouteReady:
		s := ev.Route.Summary
		fmt.Printf("=== Route ===\n")
		fmt.Printf("From:     %.5f,%.5f\n", ev.Route.Start.Latitude, ev.Route.Start.Longitude)
		fmt.Printf("To:       %.5f,%.5f\n", ev.Route.Destination.Latitude, ev.Route.Destination.Longitude)
		fmt.Printf("Distance: %.1f km\n", s.DistanceKm)
		fmt.Printf("Duration: %d min\n", s.DurationMins)
		fmt.Printf("Vertices: %d\n\n", s.Vertices)

	case services.EventStopsReady:
		fmt.Printf("=== Pitstops (every %.0f km, %s) ===\n", ev.Stops.IntervalKm, ev.Stops.Source)
		if len(ev.Stops.Stops) == 0 {
			fmt.Printf("Trip is shorter than one interval, no pitstops needed\n")
		}
		for _, stop := range ev.Stops.Stops {
			fmt.Printf("%s: %.5f,%.5f\n", tripkml.StopLabel(stop), stop.Location.Latitude, stop.Location.Longitude)
		}
		fmt.Println()

	case services.EventServicesUpdated:
		u := ev.Services
		if !u.Final {
			fmt.Printf("Searching for services... sample %d/%d, %d found\r", u.Sample, u.Samples, u.Listing.Total)
			return
		}
		fmt.Printf("\n=== Services along the route (%d samples, %d failed) ===\n", u.Samples, u.Failed)
		if u.Interrupted {
			fmt.Printf("Search stopped after sample %d, showing what was found so far\n", u.Sample)
		}
		fmt.Print(u.Listing.String())

	case services.EventFailed:
		fmt.Fprintf(os.Stderr, "Planning failed (%s): %s\n", ev.Failure.Kind, ev.Failure.Reason)
	}
}

func writeKML(session *services.Session, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := session.WriteKML(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func parseLatLon(s string) (geo.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return geo.Point{}, fmt.Errorf("expected lat,lon, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("invalid latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("invalid longitude: %w", err)
	}
	return geo.NewPoint(lat, lon)
}
