package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gtfs-timestamp-predictor/internal/gtfs"
	"gtfs-timestamp-predictor/internal/trace"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var ErrTripNotFound = errors.New("trip not found")

type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

// DialectFor picks the driver for a DSN: file paths, file: URIs and
// :memory: go to SQLite, everything else to Postgres.
func DialectFor(dsn string) Dialect {
	switch {
	case strings.HasPrefix(dsn, "file:"), dsn == ":memory:",
		strings.HasSuffix(dsn, ".db"), strings.HasSuffix(dsn, ".sqlite"):
		return SQLite
	}
	return Postgres
}

// Store wraps a GTFS database. Queries are written with ? placeholders and
// rebound for Postgres.
type Store struct {
	DB      *sql.DB
	Dialect Dialect
}

func Open(dsn string) (*Store, error) {
	d := DialectFor(dsn)
	driver := "pgx"
	if d == SQLite {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if d == SQLite {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	return &Store{DB: db, Dialect: d}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.DB.PingContext(ctx)
}

func (s *Store) rebind(q string) string {
	if s.Dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) FetchTrip(ctx context.Context, tripID string) (gtfs.Trip, error) {
	q := s.rebind(`SELECT trip_id, route_id, COALESCE(shape_id, ''), COALESCE(service_id, '') FROM trips WHERE trip_id = ?`)
	var t gtfs.Trip
	err := s.DB.QueryRowContext(ctx, q, tripID).Scan(&t.TripID, &t.RouteID, &t.ShapeID, &t.ServiceID)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("%w: %q", ErrTripNotFound, tripID)
	}
	if err != nil {
		return t, fmt.Errorf("query trip: %w", err)
	}
	return t, nil
}

// ListObservedTrips returns the trips that have recorded vehicle positions.
func (s *Store) ListObservedTrips(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT trip_id FROM vehicle_positions ORDER BY trip_id`)
	if err != nil {
		return nil, fmt.Errorf("query observed trips: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) FetchShapePoints(ctx context.Context, shapeID string) ([]gtfs.ShapePoint, error) {
	if shapeID == "" {
		return nil, nil
	}
	// Detect column layout: either shape_pt_lat/lon exist, or use PostGIS shape_pt_loc geography
	cols, err := s.hasColumns(ctx, "shapes", "shape_pt_lat", "shape_pt_lon", "shape_pt_loc")
	if err != nil {
		return nil, fmt.Errorf("introspect shapes columns: %w", err)
	}
	var q string
	switch {
	case cols["shape_pt_lat"] && cols["shape_pt_lon"]:
		q = `SELECT shape_pt_lat, shape_pt_lon, shape_pt_sequence, COALESCE(shape_dist_traveled, 0)
             FROM shapes WHERE shape_id = ? ORDER BY shape_pt_sequence`
	case cols["shape_pt_loc"] && s.Dialect == Postgres:
		q = `SELECT ST_Y(shape_pt_loc::geometry) AS lat,
                    ST_X(shape_pt_loc::geometry) AS lon,
                    shape_pt_sequence,
                    COALESCE(shape_dist_traveled, 0)
             FROM shapes WHERE shape_id = ? ORDER BY shape_pt_sequence`
	default:
		return nil, fmt.Errorf("shapes table missing expected columns (lat/lon or shape_pt_loc)")
	}
	rows, err := s.DB.QueryContext(ctx, s.rebind(q), shapeID)
	if err != nil {
		return nil, fmt.Errorf("query shapes: %w", err)
	}
	defer rows.Close()
	var pts []gtfs.ShapePoint
	for rows.Next() {
		var p gtfs.ShapePoint
		if err := rows.Scan(&p.Lat, &p.Lon, &p.Sequence, &p.DistTraveled); err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	return pts, rows.Err()
}

func (s *Store) FetchStopTimes(ctx context.Context, tripID string) ([]gtfs.StopTime, error) {
	// Prefer stop_lat/stop_lon, but support PostGIS stop_loc geography as fallback
	cols, err := s.hasColumns(ctx, "stops", "stop_lat", "stop_lon", "stop_loc")
	if err != nil {
		return nil, fmt.Errorf("introspect stops columns: %w", err)
	}
	var latlon string
	switch {
	case cols["stop_lat"] && cols["stop_lon"]:
		latlon = `COALESCE(s.stop_lat, 0), COALESCE(s.stop_lon, 0)`
	case cols["stop_loc"] && s.Dialect == Postgres:
		latlon = `COALESCE(ST_Y(s.stop_loc::geometry), 0), COALESCE(ST_X(s.stop_loc::geometry), 0)`
	default:
		return nil, fmt.Errorf("stops table missing expected columns (stop_lat/lon or stop_loc)")
	}
	q := `SELECT st.stop_sequence,
                    COALESCE(CAST(st.arrival_time AS TEXT), ''),
                    COALESCE(CAST(st.departure_time AS TEXT), ''),
                    COALESCE(st.shape_dist_traveled, 0),
                    st.stop_id, ` + latlon + `
             FROM stop_times st
             JOIN stops s ON s.stop_id = st.stop_id
             WHERE st.trip_id = ?
             ORDER BY st.stop_sequence`
	rows, err := s.DB.QueryContext(ctx, s.rebind(q), tripID)
	if err != nil {
		return nil, fmt.Errorf("query stop_times: %w", err)
	}
	defer rows.Close()

	var sts []gtfs.StopTime
	for rows.Next() {
		var st gtfs.StopTime
		var arr, dep string
		if err := rows.Scan(&st.StopSequence, &arr, &dep, &st.ShapeDistTraveled, &st.StopID, &st.StopLat, &st.StopLon); err != nil {
			return nil, err
		}
		st.ArrivalSec = gtfs.ParseDaySeconds(arr)
		st.DepartureSec = gtfs.ParseDaySeconds(dep)
		sts = append(sts, st)
	}
	return sts, rows.Err()
}

// FetchPositions returns the recorded positions of a trip in recording order.
func (s *Store) FetchPositions(ctx context.Context, tripID string) ([]gtfs.Position, error) {
	q := s.rebind(`SELECT lat, lon, observed_epoch FROM vehicle_positions
             WHERE trip_id = ? ORDER BY position_seq`)
	rows, err := s.DB.QueryContext(ctx, q, tripID)
	if err != nil {
		return nil, fmt.Errorf("query vehicle_positions: %w", err)
	}
	defer rows.Close()
	var out []gtfs.Position
	for rows.Next() {
		var p gtfs.Position
		var epoch sql.NullFloat64
		if err := rows.Scan(&p.Lat, &p.Lon, &epoch); err != nil {
			return nil, err
		}
		if epoch.Valid {
			p.Time = trace.At(epoch.Float64)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// hasColumns returns a map of requested column names to existence for the given table.
func (s *Store) hasColumns(ctx context.Context, table string, cols ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(cols))
	for _, c := range cols {
		res[c] = false
	}
	var (
		rows *sql.Rows
		err  error
	)
	if s.Dialect == SQLite {
		rows, err = s.DB.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	} else {
		rows, err = s.DB.QueryContext(ctx, `SELECT column_name FROM information_schema.columns
          WHERE table_schema = 'public' AND table_name = $1 AND column_name = ANY($2)`, table, cols)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if _, ok := res[name]; ok {
			res[name] = true
		}
	}
	return res, rows.Err()
}
