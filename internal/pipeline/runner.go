// Package pipeline runs timestamp predictions for a batch of trips: it loads
// each trip from a Source, builds the route path and both traces, predicts,
// and hands the result to every Sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	mmetrics "gtfs-timestamp-predictor/internal/metrics"
	"gtfs-timestamp-predictor/internal/predict"
	"gtfs-timestamp-predictor/internal/route"
	"gtfs-timestamp-predictor/internal/trace"
)

type Runner struct {
	Source    Source
	Sinks     []Sink
	Workers   int
	Tolerance float64
	Metrics   *mmetrics.Collector
}

// Summary reports the outcome of one Run.
type Summary struct {
	RunID     string
	Succeeded []string
	Failed    map[string]error
}

// Err joins the per-trip errors in trip order.
func (s *Summary) Err() error {
	ids := make([]string, 0, len(s.Failed))
	for id := range s.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, fmt.Errorf("trip %s: %w", id, s.Failed[id]))
	}
	return errors.Join(errs...)
}

// Run predicts every trip in tripIDs, or every trip the source can list
// when tripIDs is empty. A failing trip does not stop the others.
func (r *Runner) Run(ctx context.Context, tripIDs []string) (*Summary, error) {
	if r.Source == nil {
		return nil, errors.New("pipeline: nil source")
	}
	if len(tripIDs) == 0 {
		l, ok := r.Source.(Lister)
		if !ok {
			return nil, errors.New("pipeline: no trip IDs and source cannot list trips")
		}
		ids, err := l.ListTrips(ctx)
		if err != nil {
			return nil, fmt.Errorf("list trips: %w", err)
		}
		tripIDs = ids
	}

	sum := &Summary{RunID: uuid.NewString(), Failed: make(map[string]error)}
	Logf("run %s: %d trips, %d workers", sum.RunID, len(tripIDs), r.workers())

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.workers())
	for _, id := range tripIDs {
		if ctx.Err() != nil {
			break
		}
		id := id
		g.Go(func() error {
			err := r.runTrip(ctx, sum.RunID, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Failed[id] = err
				Logf("trip %s error: %v", id, err)
			} else {
				sum.Succeeded = append(sum.Succeeded, id)
			}
			return nil
		})
	}
	g.Wait()
	sort.Strings(sum.Succeeded)

	Logf("run %s done: %d ok, %d failed", sum.RunID, len(sum.Succeeded), len(sum.Failed))
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}

func (r *Runner) workers() int {
	if r.Workers < 1 {
		return 1
	}
	return r.Workers
}

func (r *Runner) runTrip(ctx context.Context, runID, tripID string) (err error) {
	if m := r.Metrics; m != nil {
		m.InFlight.Inc()
		defer func() {
			m.InFlight.Dec()
			if err != nil {
				m.RunFailed()
			} else {
				m.RunSucceeded()
			}
		}()
	}

	ds, err := r.Source.Load(ctx, tripID)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	ds.RunID = runID

	start := time.Now()
	res, schedule, err := r.predict(ctx, ds)
	if err != nil {
		return err
	}
	if r.Metrics != nil {
		r.Metrics.ObservePrediction(time.Since(start), len(res.Rows), len(schedule.Unresolved()), len(res.Unresolved), res.Anchors, res.CoverageRatio)
	}
	Logf("trip %s (route %s): %d rows predicted, %d unresolved, %d anchors, coverage %.2f",
		ds.TripID, ds.RouteID, len(res.Rows), len(res.Unresolved), res.Anchors, res.CoverageRatio)

	for _, s := range r.Sinks {
		if err := s.Write(ctx, ds, res); err != nil {
			return fmt.Errorf("write %T: %w", s, err)
		}
	}
	return nil
}

func (r *Runner) predict(ctx context.Context, ds *Dataset) (*predict.Result, *trace.Trace, error) {
	var opts []route.Option
	if r.Tolerance > 0 {
		opts = append(opts, route.WithTolerance(r.Tolerance))
	}
	path, err := route.NewPath(ds.Shape, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("route path: %w", err)
	}
	schedule, trip, err := trace.BuildPair(ctx, path, ds.Schedule, ds.Trip)
	if err != nil {
		return nil, nil, err
	}
	ip, err := predict.New(schedule, trip)
	if err != nil {
		return nil, nil, err
	}
	res, err := ip.Predict()
	if err != nil {
		return nil, nil, err
	}
	return res, schedule, nil
}
