package poi

import (
	"context"
	"fmt"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/gorest/roadtrip/server/internal/lib/failure"
	"github.com/gorest/roadtrip/server/internal/lib/geo"
	"github.com/gorest/roadtrip/server/internal/lib/routing"
)

// Options tunes the aggregator. Zero values fall back to the defaults below.
type Options struct {
	SampleEveryMeters float64
	RouteRadiusMeters float64
	StopRadiusMeters  float64
	// Pace is the fixed delay between successive along-route queries
	Pace       time.Duration
	Categories []Category
	// Matcher annotates along-route records with their distance to the route.
	// Optional.
	Matcher routing.ProximityMatcher
}

const (
	DefaultSampleEveryMeters = 15000.0
	DefaultRouteRadiusMeters = 1200.0
	DefaultStopRadiusMeters  = 2500.0
	DefaultPace              = time.Second
)

// Aggregator queries a POI service around single points or along a route and
// folds the results into a ResultSet.
type Aggregator struct {
	service Service
	opts    Options

	// sleep waits for d or until ctx is done
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAggregator creates an aggregator backed by service
func NewAggregator(service Service, opts Options) *Aggregator {
	if opts.SampleEveryMeters <= 0 {
		opts.SampleEveryMeters = DefaultSampleEveryMeters
	}
	if opts.RouteRadiusMeters <= 0 {
		opts.RouteRadiusMeters = DefaultRouteRadiusMeters
	}
	if opts.StopRadiusMeters <= 0 {
		opts.StopRadiusMeters = DefaultStopRadiusMeters
	}
	if opts.Pace <= 0 {
		opts.Pace = DefaultPace
	}
	return &Aggregator{
		service: service,
		opts:    opts,
		sleep:   sleepContext,
	}
}

// StopRadius is the radius used for single-point searches
func (a *Aggregator) StopRadius() float64 {
	return a.opts.StopRadiusMeters
}

// FindNearby queries once around point. With accumulate the new records are
// appended to set; otherwise set is replaced, but only once the query has
// succeeded. Returns the number of records added.
func (a *Aggregator) FindNearby(ctx context.Context, set *ResultSet, point geo.Point, radiusMeters float64, accumulate bool) (int, error) {
	if !geo.IsValid(point) {
		return 0, fmt.Errorf("%w: invalid search point %v", failure.ErrInputInvalid, point)
	}
	if radiusMeters <= 0 {
		radiusMeters = a.opts.StopRadiusMeters
	}

	records, err := a.query(ctx, point, radiusMeters)
	if err != nil {
		return 0, err
	}

	if !accumulate {
		return set.replace(records), nil
	}

	added := 0
	for _, r := range records {
		if set.Add(r) {
			added++
		}
	}
	return added, nil
}

// AroundStop runs a single-point search with the stop radius, replacing set
func (a *Aggregator) AroundStop(ctx context.Context, set *ResultSet, point geo.Point) (int, error) {
	return a.FindNearby(ctx, set, point, a.opts.StopRadiusMeters, false)
}

// SweepProgress is reported after every along-route sample
type SweepProgress struct {
	Sample  int   // 1-based
	Samples int   // total
	Added   int   // records added by this sample
	Err     error // non-nil when this sample was skipped
}

// SweepSummary describes a finished along-route sweep
type SweepSummary struct {
	Samples int `json:"samples"`
	Failed  int `json:"failed"`
	Added   int `json:"added"`
}

// AlongRoute samples the route every SampleEveryMeters of cumulative distance
// and queries each sample with the smaller route radius, accumulating into
// set. Queries run one at a time with Pace between them. A failed sample is
// logged and skipped; only context cancellation stops the sweep.
func (a *Aggregator) AlongRoute(ctx context.Context, route geo.Route, set *ResultSet, progress func(SweepProgress)) (SweepSummary, error) {
	ctx = logging.EnsureLogger(ctx)
	samples := geo.SampleByDistance(route.Vertices(), a.opts.SampleEveryMeters)
	summary := SweepSummary{Samples: len(samples)}

	for i, point := range samples {
		if i > 0 {
			if err := a.sleep(ctx, a.opts.Pace); err != nil {
				return summary, err
			}
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		added, err := a.FindNearby(ctx, set, point, a.opts.RouteRadiusMeters, true)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Failed++
			logging.Warnw(ctx, "POI sample failed, continuing",
				"sample", i+1,
				"samples", len(samples),
				"lat", point.Latitude,
				"lng", point.Longitude,
				"error", err)
		} else {
			summary.Added += added
		}

		if progress != nil {
			progress(SweepProgress{Sample: i + 1, Samples: len(samples), Added: added, Err: err})
		}
	}

	if a.opts.Matcher != nil {
		a.annotate(set, route.Polyline)
	}

	return summary, nil
}

// annotate attaches route proximity to records that don't have it yet
func (a *Aggregator) annotate(set *ResultSet, polyline geo.Polyline) {
	if len(polyline.Points) < 2 {
		return
	}
	for _, r := range set.Records() {
		if r.Proximity != "" {
			continue
		}
		c, err := a.opts.Matcher.Classify(r.Location, polyline)
		if err != nil {
			continue
		}
		r.Proximity = c.Proximity
		r.DistanceToRoute = c.DistanceToRoute
		set.Update(r)
	}
}

func (a *Aggregator) query(ctx context.Context, point geo.Point, radiusMeters float64) ([]Record, error) {
	elements, err := a.service.Query(ctx, point, radiusMeters, a.opts.Categories)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: poi query: %v", failure.ErrServiceUnavailable, err)
	}

	records := make([]Record, 0, len(elements))
	for _, e := range elements {
		if r, ok := NewRecord(e, radiusMeters); ok {
			records = append(records, r)
		}
	}
	return records, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
