// Package predict infers timestamps for trip samples from a schedule trace
// placed on the same route path.
//
// Schedule rows with a resolved distance and a known timestamp act as
// anchors. Between two anchors the elapsed time is shared out over the trip
// rows in proportion to distance weighted by the local pace (seconds per
// kilometre). Before the first anchor and after the last one, times are
// extrapolated with the nearest known pace.
package predict

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"

	"gtfs-timestamp-predictor/internal/trace"
)

var (
	ErrNilTrace            = errors.New("predict: nil trace")
	ErrPathMismatch        = errors.New("predict: schedule and trip traces are built on different paths")
	ErrInsufficientAnchors = errors.New("predict: insufficient schedule anchors")
	ErrNoTripRows          = errors.New("predict: no trip rows could be placed on the path")
)

// Prediction is a trip row with its inferred timestamp.
type Prediction struct {
	trace.Row
	PredictedTimestamp float64
	DistanceToAnchorKM float64
	TimeToAnchorSec    float64
	CoverageRatio      float64
}

// Result holds the predicted trip rows in ascending distance order and the
// trip rows that could not be placed on the path.
type Result struct {
	Rows          []Prediction
	Unresolved    []trace.Row
	Anchors       int
	CoverageRatio float64
}

type Interpolator struct {
	schedule *trace.Trace
	trip     *trace.Trace
}

func New(schedule, trip *trace.Trace) (*Interpolator, error) {
	if schedule == nil || trip == nil {
		return nil, ErrNilTrace
	}
	if schedule.Path() != trip.Path() {
		return nil, ErrPathMismatch
	}
	return &Interpolator{schedule: schedule, trip: trip}, nil
}

// pace is seconds per kilometre, absent until an anchor pair defines it.
type pace struct {
	value float64
	valid bool
}

type point struct {
	km        float64
	anchor    bool
	known     float64
	pace      pace
	predicted float64
	toKM      float64
	toSec     float64
	row       trace.Row
}

// carryPace holds the last defined pace over the rows that have none.
func carryPace(pts []point) {
	var cur pace
	for i := range pts {
		if pts[i].pace.valid {
			cur = pts[i].pace
			continue
		}
		pts[i].pace = cur
	}
}

func (ip *Interpolator) anchors() []point {
	var out []point
	for _, r := range ip.schedule.Resolved() {
		if !r.Sample.Time.Valid {
			continue
		}
		out = append(out, point{
			km:        r.Distance.KM,
			anchor:    true,
			known:     r.Sample.Time.Seconds,
			predicted: r.Sample.Time.Seconds,
		})
	}
	for k := 0; k+1 < len(out); k++ {
		dKM := out[k+1].km - out[k].km
		if dKM == 0 {
			continue
		}
		v := (out[k+1].known - out[k].known) / dKM
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k].pace = pace{value: v, valid: true}
		}
	}
	carryPace(out)
	return out
}

// Predict infers timestamps for every trip row that has a distance.
func (ip *Interpolator) Predict() (*Result, error) {
	anchors := ip.anchors()
	if len(anchors) < 2 {
		return nil, fmt.Errorf("%w: need 2, have %d", ErrInsufficientAnchors, len(anchors))
	}
	tripRows := ip.trip.Resolved()
	if len(tripRows) == 0 {
		return nil, fmt.Errorf("%w (%d unresolved)", ErrNoTripRows, ip.trip.Len())
	}

	pts := make([]point, 0, len(anchors)+len(tripRows))
	pts = append(pts, anchors...)
	for _, r := range tripRows {
		pts = append(pts, point{km: r.Distance.KM, row: r})
	}
	// Anchors come first in pts, so they lead trip rows at equal distances.
	sort.SliceStable(pts, func(a, b int) bool { return pts[a].km < pts[b].km })
	carryPace(pts)

	lead, ok := leadingPace(pts)
	if !ok {
		return nil, fmt.Errorf("%w: anchors do not span any distance", ErrInsufficientAnchors)
	}

	weights := make([]float64, len(pts))
	for i := 0; i+1 < len(pts); i++ {
		if pts[i].pace.valid {
			weights[i] = (pts[i+1].km - pts[i].km) * pts[i].pace.value
		}
	}

	var idx []int
	for i := range pts {
		if pts[i].anchor {
			idx = append(idx, i)
		}
	}
	for k := 0; k+1 < len(idx); k++ {
		if idx[k+1]-idx[k] > 1 {
			interpolateRun(pts, weights, idx[k], idx[k+1])
		}
	}
	extrapolateLeading(pts, idx[0], lead)
	extrapolateTrailing(pts, idx[len(idx)-1], lead)

	ratio := scalar.Round(float64(len(anchors))/float64(len(tripRows)), 2)
	res := &Result{
		Rows:          make([]Prediction, 0, len(tripRows)),
		Unresolved:    ip.trip.Unresolved(),
		Anchors:       len(anchors),
		CoverageRatio: ratio,
	}
	for _, p := range pts {
		if p.anchor {
			continue
		}
		res.Rows = append(res.Rows, Prediction{
			Row:                p.row,
			PredictedTimestamp: p.predicted,
			DistanceToAnchorKM: p.toKM,
			TimeToAnchorSec:    p.toSec,
			CoverageRatio:      ratio,
		})
	}
	return res, nil
}

// leadingPace is the pace of the first anchor, or the first pace defined
// further along when that anchor has none.
func leadingPace(pts []point) (float64, bool) {
	seen := false
	for _, p := range pts {
		if p.anchor {
			seen = true
		}
		if seen && p.pace.valid {
			return p.pace.value, true
		}
	}
	return 0, false
}

// interpolateRun fills the trip rows strictly between anchors lo and hi.
func interpolateRun(pts []point, weights []float64, lo, hi int) {
	span := pts[hi].known - pts[lo].known
	weight := floats.Sum(weights[lo:hi])
	spanKM := pts[hi].km - pts[lo].km
	paced := weight != 0 && !math.IsNaN(weight) && !math.IsInf(weight, 0)
	for r := lo + 1; r < hi && paced; r++ {
		paced = pts[r].pace.valid
	}

	for r := lo + 1; r < hi; r++ {
		prev, cur := &pts[r-1], &pts[r]
		step := cur.km - prev.km
		switch {
		case paced:
			cur.predicted = prev.predicted + span*prev.pace.value*step/weight
		case spanKM > 0:
			cur.predicted = prev.predicted + span*step/spanKM
		default:
			cur.predicted = pts[lo].known
		}
		cur.toKM = math.Min(math.Abs(pts[hi].km-cur.km), math.Abs(cur.km-pts[lo].km))
		cur.toSec = math.Min(math.Abs(pts[hi].known-cur.predicted), math.Abs(cur.predicted-pts[lo].known))
	}
}

// extrapolateLeading walks back from the first anchor at index first.
func extrapolateLeading(pts []point, first int, lead float64) {
	var accKM, accSec float64
	for r := first - 1; r >= 0; r-- {
		next, cur := &pts[r+1], &pts[r]
		step := next.km - cur.km
		cur.predicted = next.predicted - lead*step
		accKM += math.Abs(step)
		accSec += math.Abs(next.predicted - cur.predicted)
		cur.toKM, cur.toSec = accKM, accSec
	}
}

// extrapolateTrailing walks forward from the last anchor at index last.
func extrapolateTrailing(pts []point, last int, lead float64) {
	var accKM, accSec float64
	for r := last + 1; r < len(pts); r++ {
		prev, cur := &pts[r-1], &pts[r]
		p := lead
		if prev.pace.valid {
			p = prev.pace.value
		}
		step := cur.km - prev.km
		cur.predicted = prev.predicted + p*step
		accKM += math.Abs(step)
		accSec += math.Abs(cur.predicted - prev.predicted)
		cur.toKM, cur.toSec = accKM, accSec
	}
}
