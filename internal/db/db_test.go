package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-timestamp-predictor/internal/gtfs"
	"gtfs-timestamp-predictor/internal/predict"
	"gtfs-timestamp-predictor/internal/route"
	"gtfs-timestamp-predictor/internal/trace"
)

const fixture = `
CREATE TABLE trips (trip_id TEXT PRIMARY KEY, route_id TEXT NOT NULL, service_id TEXT, shape_id TEXT);
CREATE TABLE shapes (shape_id TEXT, shape_pt_lat REAL, shape_pt_lon REAL, shape_pt_sequence INTEGER, shape_dist_traveled REAL);
CREATE TABLE stops (stop_id TEXT PRIMARY KEY, stop_lat REAL, stop_lon REAL);
CREATE TABLE stop_times (trip_id TEXT, stop_id TEXT, stop_sequence INTEGER, arrival_time TEXT, departure_time TEXT, shape_dist_traveled REAL);
CREATE TABLE vehicle_positions (trip_id TEXT, position_seq INTEGER, lat REAL, lon REAL, observed_epoch REAL);

INSERT INTO trips VALUES ('t1', 'r1', 'weekday', 's1');
INSERT INTO shapes VALUES ('s1', 1.0, 0, 2, NULL), ('s1', 0.0, 0, 1, NULL), ('s1', 2.0, 0, 3, NULL);
INSERT INTO stops VALUES ('a', 0.0, 0.0001), ('b', 1.0, 0.0001), ('c', 2.0, 0.0001);
INSERT INTO stop_times VALUES
  ('t1', 'c', 3, '08:20:00', '08:20:00', NULL),
  ('t1', 'a', 1, '08:00:00', '08:00:00', NULL),
  ('t1', 'b', 2, '08:10:00', '08:11:00', 111.2);
INSERT INTO vehicle_positions VALUES
  ('t1', 2, 0.5, 0, NULL),
  ('t1', 1, 0.0, 0, 1700000000.25),
  ('t2', 1, 1.0, 0, NULL);
`

func openFixture(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	_, err = s.DB.Exec(fixture)
	require.NoError(t, err)
	return s
}

func TestDialectFor(t *testing.T) {
	cases := map[string]Dialect{
		":memory:":                          SQLite,
		"file:test.db?cache=shared":         SQLite,
		"/var/lib/gtfs.sqlite":              SQLite,
		"./madrid.db":                       SQLite,
		"postgres://u:p@localhost:5432/x":   Postgres,
		"host=localhost user=u dbname=gtfs": Postgres,
	}
	for dsn, want := range cases {
		assert.Equalf(t, want, DialectFor(dsn), "DialectFor(%q)", dsn)
	}
	assert.Equal(t, "sqlite", SQLite.String())
	assert.Equal(t, "postgres", Postgres.String())
}

func TestRebind(t *testing.T) {
	pg := &Store{Dialect: Postgres}
	assert.Equal(t, "a = $1 AND b IN ($2, $3)", pg.rebind("a = ? AND b IN (?, ?)"))
	lite := &Store{Dialect: SQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestFetchTrip(t *testing.T) {
	s := openFixture(t)
	ctx := context.Background()

	trip, err := s.FetchTrip(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, gtfs.Trip{TripID: "t1", RouteID: "r1", ShapeID: "s1", ServiceID: "weekday"}, trip)

	_, err = s.FetchTrip(ctx, "missing")
	assert.ErrorIs(t, err, ErrTripNotFound)
}

func TestFetchShapePoints(t *testing.T) {
	s := openFixture(t)
	pts, err := s.FetchShapePoints(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, pts, 3)
	for i, p := range pts {
		assert.Equal(t, i+1, p.Sequence)
		assert.Equal(t, float64(i), p.Lat)
	}

	none, err := s.FetchShapePoints(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFetchStopTimes(t *testing.T) {
	s := openFixture(t)
	sts, err := s.FetchStopTimes(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, sts, 3)

	assert.Equal(t, "a", sts[0].StopID)
	assert.Equal(t, 8*3600, sts[0].ArrivalSec)
	assert.Equal(t, "b", sts[1].StopID)
	assert.Equal(t, 8*3600+11*60, sts[1].DepartureSec)
	assert.Equal(t, 111.2, sts[1].ShapeDistTraveled)
	assert.Equal(t, 2.0, sts[2].StopLat)
	assert.Equal(t, 0.0001, sts[2].StopLon)
}

func TestFetchPositions(t *testing.T) {
	s := openFixture(t)
	ps, err := s.FetchPositions(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, ps, 2)

	assert.Equal(t, 0.0, ps[0].Lat)
	assert.Equal(t, trace.At(1700000000.25), ps[0].Time)
	assert.Equal(t, 0.5, ps[1].Lat)
	assert.False(t, ps[1].Time.Valid)
}

func TestListObservedTrips(t *testing.T) {
	s := openFixture(t)
	ids, err := s.ListObservedTrips(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, ids)
}

func TestHasColumns(t *testing.T) {
	s := openFixture(t)
	cols, err := s.hasColumns(context.Background(), "shapes", "shape_pt_lat", "shape_pt_loc")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"shape_pt_lat": true, "shape_pt_loc": false}, cols)
}

func sampleResult(t *testing.T) *predict.Result {
	t.Helper()
	path, err := route.NewPath([]route.Vertex{{Lat: 0}, {Lat: 1}, {Lat: 2}})
	require.NoError(t, err)
	schedule, err := trace.New([]trace.Sample{
		{Position: route.Vertex{Lat: 0}, Time: trace.At(0)},
		{Position: route.Vertex{Lat: 2}, Time: trace.At(200)},
	}, path)
	require.NoError(t, err)
	trip, err := trace.New([]trace.Sample{
		{Position: route.Vertex{Lat: 0.5}, Time: trace.At(40)},
		{Position: route.Vertex{Lat: 1.5}},
		{Position: route.Vertex{Lat: 0.2}},
	}, path)
	require.NoError(t, err)
	ip, err := predict.New(schedule, trip)
	require.NoError(t, err)
	res, err := ip.Predict()
	require.NoError(t, err)
	return res
}

func TestSavePredictions(t *testing.T) {
	s := openFixture(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureResultSchema(ctx))
	require.NoError(t, s.EnsureResultSchema(ctx), "schema creation is idempotent")

	res := sampleResult(t)
	require.Len(t, res.Rows, 2)
	require.Len(t, res.Unresolved, 1)
	require.NoError(t, s.SavePredictions(ctx, "run-1", "t1", res))

	var n, resolved int
	require.NoError(t, s.DB.QueryRow(`SELECT COUNT(*), SUM(resolved) FROM predicted_timestamps WHERE run_id = 'run-1'`).Scan(&n, &resolved))
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, resolved)

	var predicted sql.NullFloat64
	var observed sql.NullFloat64
	require.NoError(t, s.DB.QueryRow(`SELECT predicted_epoch, observed_epoch FROM predicted_timestamps WHERE row_index = 1`).Scan(&predicted, &observed))
	assert.True(t, predicted.Valid)
	assert.InDelta(t, 150, predicted.Float64, 1e-6)
	assert.False(t, observed.Valid)

	require.NoError(t, s.DB.QueryRow(`SELECT predicted_epoch FROM predicted_timestamps WHERE row_index = 2`).Scan(&predicted))
	assert.False(t, predicted.Valid)

	assert.Error(t, s.SavePredictions(ctx, "run-1", "t1", res), "duplicate run rows violate the primary key")
}

func TestWithDBName(t *testing.T) {
	got, err := WithDBName("postgres://u:p@localhost:5432/postgres?sslmode=disable", "gtfs_madrid_20240101")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@localhost:5432/gtfs_madrid_20240101?sslmode=disable", got)

	got, err = WithDBName("u@localhost/x", "/y")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u@localhost/y", got)

	_, err = WithDBName("", "x")
	assert.Error(t, err)
	_, err = WithDBName("mysql://localhost/x", "y")
	assert.Error(t, err)
}
