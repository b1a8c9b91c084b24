// Package trace holds ordered sets of geotagged samples annotated with their
// distance along a route.Path.
package trace

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"gtfs-timestamp-predictor/internal/route"
)

var ErrNilPath = errors.New("trace: nil route path")

// Timestamp is an optional epoch time in seconds.
type Timestamp struct {
	Seconds float64
	Valid   bool
}

// At returns a known Timestamp.
func At(sec float64) Timestamp { return Timestamp{Seconds: sec, Valid: true} }

// Sample is one geotagged observation.
type Sample struct {
	Position route.Vertex
	Time     Timestamp
}

func (s Sample) validate() error {
	if err := s.Position.Validate(); err != nil {
		return err
	}
	if s.Time.Valid && (math.IsNaN(s.Time.Seconds) || math.IsInf(s.Time.Seconds, 0)) {
		return fmt.Errorf("%w: non-finite timestamp %v", route.ErrValidation, s.Time.Seconds)
	}
	return nil
}

// Row is a sample placed on the path. Index is its position in the input
// slice given to New.
type Row struct {
	Index    int
	Sample   Sample
	Distance route.Distance
}

// Trace is immutable once built.
type Trace struct {
	path *route.Path
	rows []Row
}

// New validates samples, orders them by timestamp and resolves their
// distance along path. Ordering only happens when every sample carries a
// timestamp; otherwise the input order is taken as the traversal order.
func New(samples []Sample, path *route.Path) (*Trace, error) {
	if path == nil {
		return nil, ErrNilPath
	}
	rows := make([]Row, len(samples))
	timed := true
	for i, s := range samples {
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		timed = timed && s.Time.Valid
		rows[i] = Row{Index: i, Sample: s}
	}
	if timed {
		sort.SliceStable(rows, func(a, b int) bool {
			return rows[a].Sample.Time.Seconds < rows[b].Sample.Time.Seconds
		})
	}

	points := make([]route.Vertex, len(rows))
	for i := range rows {
		points[i] = rows[i].Sample.Position
	}
	for i, d := range path.ProjectAndAccumulate(points) {
		rows[i].Distance = d
	}
	return &Trace{path: path, rows: rows}, nil
}

// BuildPair builds the schedule and trip traces concurrently. The two
// projections share only the immutable path. A projection is not started
// once ctx is done or the other one has failed.
func BuildPair(ctx context.Context, path *route.Path, schedule, trip []Sample) (*Trace, *Trace, error) {
	var sched, tr *Trace
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		var err error
		sched, err = New(schedule, path)
		if err != nil {
			return fmt.Errorf("schedule trace: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		var err error
		tr, err = New(trip, path)
		if err != nil {
			return fmt.Errorf("trip trace: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return sched, tr, nil
}

func (t *Trace) Path() *route.Path { return t.path }

func (t *Trace) Len() int { return len(t.rows) }

// Rows returns a copy of all rows in trace order.
func (t *Trace) Rows() []Row { return append([]Row(nil), t.rows...) }

// Resolved returns the rows with a known distance, in trace order.
func (t *Trace) Resolved() []Row { return t.filter(true) }

// Unresolved returns the rows that could not be placed on the path.
func (t *Trace) Unresolved() []Row { return t.filter(false) }

func (t *Trace) filter(valid bool) []Row {
	var out []Row
	for _, r := range t.rows {
		if r.Distance.Valid == valid {
			out = append(out, r)
		}
	}
	return out
}
