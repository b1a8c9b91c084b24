package gtfs

import "gtfs-timestamp-predictor/internal/trace"

type Trip struct {
	TripID    string
	RouteID   string
	ShapeID   string
	ServiceID string
}

type StopTime struct {
	StopSequence      int
	ArrivalSec        int     // seconds since midnight (can exceed 24h)
	DepartureSec      int     // seconds since midnight (can exceed 24h)
	ShapeDistTraveled float64 // as published, unused by the predictor
	StopID            string
	StopLat           float64
	StopLon           float64
}

type ShapePoint struct {
	Lat          float64
	Lon          float64
	Sequence     int
	DistTraveled float64
}

// Position is an observed vehicle position. Time is invalid when the
// device did not report one.
type Position struct {
	Lat  float64
	Lon  float64
	Time trace.Timestamp
}
