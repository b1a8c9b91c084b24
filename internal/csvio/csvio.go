// Package csvio reads route vertices and timed samples from delimited files
// and writes prediction results back out.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gtfs-timestamp-predictor/internal/predict"
	"gtfs-timestamp-predictor/internal/route"
	"gtfs-timestamp-predictor/internal/trace"
)

var ErrMissingColumn = errors.New("csv: missing column")

const (
	colLon = "longitude"
	colLat = "latitude"
	colTS  = "timestamp"
)

// ResultHeader is the column layout written by WriteResults.
var ResultHeader = []string{
	"longitude", "latitude", "timestamp", "distance_traveled",
	"predicted_timestamp", "dist_to_closest_ts", "time_to_closest_ts", "coverage_ratio",
}

type table struct {
	cols map[string]int
	rows [][]string
}

func readTable(r io.Reader, required ...string) (*table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty input", ErrMissingColumn)
	}
	if err != nil {
		return nil, err
	}
	t := &table{cols: make(map[string]int, len(header))}
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		t.cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range required {
		if _, ok := t.cols[c]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, c)
		}
	}
	t.rows, err = cr.ReadAll()
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *table) cell(row []string, col string) string {
	i, ok := t.cols[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (t *table) float(row []string, line int, col string) (float64, error) {
	v, err := strconv.ParseFloat(t.cell(row, col), 64)
	if err != nil {
		return 0, fmt.Errorf("line %d: %s: %w", line, col, err)
	}
	return v, nil
}

func (t *table) vertex(row []string, line int) (route.Vertex, error) {
	lon, err := t.float(row, line, colLon)
	if err != nil {
		return route.Vertex{}, err
	}
	lat, err := t.float(row, line, colLat)
	if err != nil {
		return route.Vertex{}, err
	}
	return route.Vertex{Lon: lon, Lat: lat}, nil
}

// ReadVertices reads an ordered route from longitude/latitude columns.
func ReadVertices(r io.Reader) ([]route.Vertex, error) {
	t, err := readTable(r, colLon, colLat)
	if err != nil {
		return nil, err
	}
	out := make([]route.Vertex, 0, len(t.rows))
	for i, row := range t.rows {
		v, err := t.vertex(row, i+2)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadSamples reads positions with an optional timestamp column. Empty
// timestamp cells, or a missing column, yield unknown times.
func ReadSamples(r io.Reader) ([]trace.Sample, error) {
	t, err := readTable(r, colLon, colLat)
	if err != nil {
		return nil, err
	}
	out := make([]trace.Sample, 0, len(t.rows))
	for i, row := range t.rows {
		line := i + 2
		v, err := t.vertex(row, line)
		if err != nil {
			return nil, err
		}
		s := trace.Sample{Position: v}
		if t.cell(row, colTS) != "" {
			sec, err := t.float(row, line, colTS)
			if err != nil {
				return nil, err
			}
			s.Time = trace.At(sec)
		}
		out = append(out, s)
	}
	return out, nil
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func formatTime(ts trace.Timestamp) string {
	if !ts.Valid {
		return ""
	}
	return formatFloat(ts.Seconds)
}

const colTrip = "trip_id"

// WriteResults writes one line per predicted row in distance order.
func WriteResults(w io.Writer, res *predict.Result) error {
	return writeResults(w, nil, res, true)
}

// WriteTripResults writes res with a leading trip_id column so that several
// trips can share one file. The header is written only when header is set.
func WriteTripResults(w io.Writer, tripID string, res *predict.Result, header bool) error {
	return writeResults(w, []string{tripID}, res, header)
}

func writeResults(w io.Writer, prefix []string, res *predict.Result, header bool) error {
	cw := csv.NewWriter(w)
	if header {
		if err := cw.Write(withTrip(prefix, ResultHeader)); err != nil {
			return err
		}
	}
	for _, p := range res.Rows {
		rec := append(append([]string(nil), prefix...),
			formatFloat(p.Sample.Position.Lon),
			formatFloat(p.Sample.Position.Lat),
			formatTime(p.Sample.Time),
			formatFloat(p.Distance.KM),
			formatFloat(p.PredictedTimestamp),
			formatFloat(p.DistanceToAnchorKM),
			formatFloat(p.TimeToAnchorSec),
			formatFloat(p.CoverageRatio),
		)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// withTrip prepends the trip_id column name when rows carry a trip ID.
func withTrip(prefix, header []string) []string {
	if len(prefix) == 0 {
		return header
	}
	return append([]string{colTrip}, header...)
}

var unresolvedHeader = []string{"row", colLon, colLat, colTS}

// WriteUnresolved lists rows that could not be placed on the route.
func WriteUnresolved(w io.Writer, rows []trace.Row) error {
	return writeUnresolved(w, nil, rows, true)
}

// WriteTripUnresolved is WriteUnresolved with a leading trip_id column.
func WriteTripUnresolved(w io.Writer, tripID string, rows []trace.Row, header bool) error {
	return writeUnresolved(w, []string{tripID}, rows, header)
}

func writeUnresolved(w io.Writer, prefix []string, rows []trace.Row, header bool) error {
	cw := csv.NewWriter(w)
	if header {
		if err := cw.Write(withTrip(prefix, unresolvedHeader)); err != nil {
			return err
		}
	}
	for _, r := range rows {
		rec := append(append([]string(nil), prefix...),
			strconv.Itoa(r.Index),
			formatFloat(r.Sample.Position.Lon),
			formatFloat(r.Sample.Position.Lat),
			formatTime(r.Sample.Time),
		)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Files holds the three inputs of a single prediction.
type Files struct {
	Shape    []route.Vertex
	Schedule []trace.Sample
	Trip     []trace.Sample
}

func LoadFiles(shapePath, schedulePath, tripPath string) (*Files, error) {
	var f Files
	var err error
	if f.Shape, err = readFile(shapePath, ReadVertices); err != nil {
		return nil, err
	}
	if f.Schedule, err = readFile(schedulePath, ReadSamples); err != nil {
		return nil, err
	}
	if f.Trip, err = readFile(tripPath, ReadSamples); err != nil {
		return nil, err
	}
	return &f, nil
}

func readFile[T any](path string, read func(io.Reader) ([]T, error)) ([]T, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	out, err := read(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}
