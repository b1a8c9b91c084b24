package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gtfs-timestamp-predictor/internal/csvio"
	"gtfs-timestamp-predictor/internal/db"
	"gtfs-timestamp-predictor/internal/gtfs"
	"gtfs-timestamp-predictor/internal/route"
	"gtfs-timestamp-predictor/internal/trace"
)

var ErrNoShape = errors.New("trip has no shape points")

// Dataset is everything needed to predict one trip.
type Dataset struct {
	RunID    string
	TripID   string
	RouteID  string
	Shape    []route.Vertex
	Schedule []trace.Sample
	Trip     []trace.Sample
}

type Source interface {
	Load(ctx context.Context, tripID string) (*Dataset, error)
}

// Lister is implemented by sources that can enumerate their trips.
type Lister interface {
	ListTrips(ctx context.Context) ([]string, error)
}

// CSVSource serves a single trip from three delimited files.
type CSVSource struct {
	ShapePath    string
	SchedulePath string
	TripPath     string
	TripID       string
	RouteID      string
}

func (s *CSVSource) tripID() string {
	if s.TripID == "" {
		return "trip"
	}
	return s.TripID
}

func (s *CSVSource) ListTrips(context.Context) ([]string, error) {
	return []string{s.tripID()}, nil
}

func (s *CSVSource) Load(ctx context.Context, tripID string) (*Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tripID != s.tripID() {
		return nil, fmt.Errorf("csv source serves trip %q, not %q", s.tripID(), tripID)
	}
	f, err := csvio.LoadFiles(s.ShapePath, s.SchedulePath, s.TripPath)
	if err != nil {
		return nil, err
	}
	return &Dataset{
		TripID:   tripID,
		RouteID:  s.RouteID,
		Shape:    f.Shape,
		Schedule: f.Schedule,
		Trip:     f.Trip,
	}, nil
}

// DBSource reads shapes and stop times from a GTFS database and the trip
// samples from recorded vehicle positions.
type DBSource struct {
	Store      *db.Store
	ServiceDay time.Time
}

func (s *DBSource) ListTrips(ctx context.Context) ([]string, error) {
	return s.Store.ListObservedTrips(ctx)
}

func (s *DBSource) Load(ctx context.Context, tripID string) (*Dataset, error) {
	t, err := s.Store.FetchTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	shapePts, err := s.Store.FetchShapePoints(ctx, t.ShapeID)
	if err != nil {
		return nil, err
	}
	if len(shapePts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoShape, tripID)
	}
	sts, err := s.Store.FetchStopTimes(ctx, tripID)
	if err != nil {
		return nil, err
	}
	positions, err := s.Store.FetchPositions(ctx, tripID)
	if err != nil {
		return nil, err
	}
	return &Dataset{
		TripID:   t.TripID,
		RouteID:  t.RouteID,
		Shape:    gtfs.ShapeVertices(shapePts),
		Schedule: gtfs.ScheduleSamples(sts, s.ServiceDay),
		Trip:     gtfs.PositionSamples(positions),
	}, nil
}
