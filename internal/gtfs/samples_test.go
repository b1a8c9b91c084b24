package gtfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-timestamp-predictor/internal/route"
	"gtfs-timestamp-predictor/internal/trace"
)

func TestParseDaySeconds(t *testing.T) {
	cases := map[string]int{
		"":          0,
		"08:30":     8*3600 + 30*60,
		"08:30:15":  8*3600 + 30*60 + 15,
		" 25:00:00": 25 * 3600,
		"garbage":   0,
		"-1:00:00":  0,
	}
	for in, want := range cases {
		assert.Equalf(t, want, ParseDaySeconds(in), "ParseDaySeconds(%q)", in)
	}
}

func TestMidnight(t *testing.T) {
	loc := time.FixedZone("X", 3600)
	got := Midnight(time.Date(2024, 3, 5, 17, 4, 5, 6, loc))
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, loc), got)
}

func TestShapeVertices(t *testing.T) {
	got := ShapeVertices([]ShapePoint{{Lat: 1, Lon: 2, Sequence: 1}, {Lat: 3, Lon: 4, Sequence: 2}})
	assert.Equal(t, []route.Vertex{{Lon: 2, Lat: 1}, {Lon: 4, Lat: 3}}, got)
}

func TestScheduleSamples(t *testing.T) {
	day := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	base := float64(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC).Unix())

	sts := []StopTime{
		{StopSequence: 1, ArrivalSec: 3600, DepartureSec: 3660, StopID: "a", StopLat: 1, StopLon: 1},
		{StopSequence: 2, ArrivalSec: 3700, DepartureSec: 3720, StopID: "b", StopLat: 1.1, StopLon: 1},
		{StopSequence: 3, StopID: "nowhere"},
		{StopSequence: 4, ArrivalSec: 3800, DepartureSec: 3800, StopID: "c", StopLat: 1.2, StopLon: 1},
		{StopSequence: 5, ArrivalSec: 3900, DepartureSec: 3950, StopID: "d", StopLat: 1.3, StopLon: 1},
	}
	got := ScheduleSamples(sts, day)

	want := []trace.Sample{
		{Position: route.Vertex{Lon: 1, Lat: 1}, Time: trace.At(base + 3660)},
		{Position: route.Vertex{Lon: 1, Lat: 1.1}, Time: trace.At(base + 3700)},
		{Position: route.Vertex{Lon: 1, Lat: 1.1}, Time: trace.At(base + 3720)},
		{Position: route.Vertex{Lon: 1, Lat: 1.2}, Time: trace.At(base + 3800)},
		{Position: route.Vertex{Lon: 1, Lat: 1.3}, Time: trace.At(base + 3900)},
	}
	assert.Equal(t, want, got)
}

func TestScheduleSamplesDropsBackwardTimes(t *testing.T) {
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	got := ScheduleSamples([]StopTime{
		{ArrivalSec: 100, StopLat: 1, StopLon: 1},
		{ArrivalSec: 50, StopLat: 2, StopLon: 1},
		{DepartureSec: 200, StopLat: 3, StopLon: 1},
	}, day)

	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].Position.Lat)
	assert.Equal(t, 3.0, got[1].Position.Lat)
}

func TestPositionSamples(t *testing.T) {
	got := PositionSamples([]Position{
		{Lat: 1, Lon: 2, Time: trace.At(1700000000.5)},
		{Lat: 3, Lon: 4},
	})

	require.Len(t, got, 2)
	assert.Equal(t, trace.At(1700000000.5), got[0].Time)
	assert.False(t, got[1].Time.Valid)
	assert.Equal(t, route.Vertex{Lon: 4, Lat: 3}, got[1].Position)
}
