package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gtfs-timestamp-predictor/internal/csvio"
	"gtfs-timestamp-predictor/internal/db"
	"gtfs-timestamp-predictor/internal/predict"
	"gtfs-timestamp-predictor/internal/publisher"
)

type Sink interface {
	Write(ctx context.Context, ds *Dataset, res *predict.Result) error
}

// CSVSink writes results to Path. A "{trip}" placeholder in a path is
// replaced by the trip ID and each trip gets its own file. Without the
// placeholder every trip of the sink's lifetime goes to the same file: it is
// truncated on the first write and later trips are appended, with a leading
// trip_id column. UnresolvedPath is optional.
type CSVSink struct {
	Path           string
	UnresolvedPath string

	mu      sync.Mutex
	started map[string]bool
}

const tripPlaceholder = "{trip}"

func tripPath(p, tripID string) string {
	return strings.ReplaceAll(p, tripPlaceholder, tripID)
}

func (s *CSVSink) Write(_ context.Context, ds *Dataset, res *predict.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.write(s.Path, ds.TripID,
		func(f *os.File) error { return csvio.WriteResults(f, res) },
		func(f *os.File, header bool) error { return csvio.WriteTripResults(f, ds.TripID, res, header) })
	if err != nil || s.UnresolvedPath == "" {
		return err
	}
	return s.write(s.UnresolvedPath, ds.TripID,
		func(f *os.File) error { return csvio.WriteUnresolved(f, res.Unresolved) },
		func(f *os.File, header bool) error {
			return csvio.WriteTripUnresolved(f, ds.TripID, res.Unresolved, header)
		})
}

func (s *CSVSink) write(path, tripID string, perTrip func(*os.File) error, shared func(*os.File, bool) error) error {
	if strings.Contains(path, tripPlaceholder) {
		return writeFile(tripPath(path, tripID), os.O_TRUNC, perTrip)
	}
	if s.started == nil {
		s.started = make(map[string]bool)
	}
	first := !s.started[path]
	flag := os.O_APPEND
	if first {
		flag = os.O_TRUNC
	}
	if err := writeFile(path, flag, func(f *os.File) error { return shared(f, first) }); err != nil {
		return err
	}
	s.started[path] = true
	return nil
}

func writeFile(path string, flag int, write func(*os.File) error) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|flag, 0o644)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// DBSink stores results in predicted_timestamps.
type DBSink struct {
	Store *db.Store
}

func (s *DBSink) Write(ctx context.Context, ds *Dataset, res *predict.Result) error {
	return s.Store.SavePredictions(ctx, ds.RunID, ds.TripID, res)
}

type Publisher interface {
	PublishPrediction(msg publisher.PredictionMessage) error
}

// NATSSink publishes one message per trip.
type NATSSink struct {
	Pub Publisher
	Now func() time.Time
}

func (s *NATSSink) Write(_ context.Context, ds *Dataset, res *predict.Result) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return s.Pub.PublishPrediction(Message(ds, res, now().UTC()))
}

// Message converts a trip result into its published form.
func Message(ds *Dataset, res *predict.Result, at time.Time) publisher.PredictionMessage {
	msg := publisher.PredictionMessage{
		RunID:         ds.RunID,
		TripID:        ds.TripID,
		RouteID:       ds.RouteID,
		GeneratedAt:   at,
		Anchors:       res.Anchors,
		CoverageRatio: res.CoverageRatio,
		Unresolved:    len(res.Unresolved),
		Points:        make([]publisher.PredictedPoint, len(res.Rows)),
	}
	for i, p := range res.Rows {
		pt := publisher.PredictedPoint{
			RowIndex:           p.Index,
			Lat:                p.Sample.Position.Lat,
			Lon:                p.Sample.Position.Lon,
			DistanceKM:         p.Distance.KM,
			PredictedTimestamp: p.PredictedTimestamp,
			DistToAnchorKM:     p.DistanceToAnchorKM,
			TimeToAnchorSec:    p.TimeToAnchorSec,
		}
		if p.Sample.Time.Valid {
			ts := p.Sample.Time.Seconds
			pt.ObservedTimestamp = &ts
		}
		msg.Points[i] = pt
	}
	return msg
}
