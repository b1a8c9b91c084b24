package db

import (
	"context"
	"database/sql"
	"fmt"

	"gtfs-timestamp-predictor/internal/predict"
	"gtfs-timestamp-predictor/internal/trace"
)

const resultSchema = `
CREATE TABLE IF NOT EXISTS predicted_timestamps (
  run_id             TEXT NOT NULL,
  trip_id            TEXT NOT NULL,
  row_index          INTEGER NOT NULL,
  lat                DOUBLE PRECISION NOT NULL,
  lon                DOUBLE PRECISION NOT NULL,
  observed_epoch     DOUBLE PRECISION,
  distance_km        DOUBLE PRECISION,
  predicted_epoch    DOUBLE PRECISION,
  dist_to_anchor_km  DOUBLE PRECISION,
  time_to_anchor_sec DOUBLE PRECISION,
  coverage_ratio     DOUBLE PRECISION,
  resolved           BOOLEAN NOT NULL,
  PRIMARY KEY (run_id, trip_id, row_index)
)`

func (s *Store) EnsureResultSchema(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, resultSchema); err != nil {
		return fmt.Errorf("create predicted_timestamps: %w", err)
	}
	return nil
}

// SavePredictions writes predicted and unresolved rows of one trip in a
// single transaction. Unresolved rows carry NULL distance and prediction.
func (s *Store) SavePredictions(ctx context.Context, runID, tripID string, res *predict.Result) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO predicted_timestamps
  (run_id, trip_id, row_index, lat, lon, observed_epoch, distance_km, predicted_epoch,
   dist_to_anchor_km, time_to_anchor_sec, coverage_ratio, resolved)
  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range res.Rows {
		_, err := stmt.ExecContext(ctx, runID, tripID, p.Index, p.Sample.Position.Lat, p.Sample.Position.Lon,
			observed(p.Row), p.Distance.KM, p.PredictedTimestamp,
			p.DistanceToAnchorKM, p.TimeToAnchorSec, p.CoverageRatio, true)
		if err != nil {
			return fmt.Errorf("insert row %d: %w", p.Index, err)
		}
	}
	for _, r := range res.Unresolved {
		_, err := stmt.ExecContext(ctx, runID, tripID, r.Index, r.Sample.Position.Lat, r.Sample.Position.Lon,
			observed(r), nil, nil, nil, nil, res.CoverageRatio, false)
		if err != nil {
			return fmt.Errorf("insert unresolved row %d: %w", r.Index, err)
		}
	}
	return tx.Commit()
}

func observed(r trace.Row) sql.NullFloat64 {
	return sql.NullFloat64{Float64: r.Sample.Time.Seconds, Valid: r.Sample.Time.Valid}
}
