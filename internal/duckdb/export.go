package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"evaltrack/internal/tracking"
)

// ExportInput is one experiment's history.
type ExportInput struct {
	Experiment  tracking.Experiment
	TrackingURI string
	Runs        []tracking.Run
	ExportedAt  time.Time
}

// ExportResult describes a completed export.
type ExportResult struct {
	ExportID string
	Runs     int
}

// MetricSummary aggregates one metric across exported runs.
type MetricSummary struct {
	Metric string
	Runs   int64
	Mean   float64
	Min    float64
	Max    float64
}

// Export writes runs into db, replacing rows for runs exported before.
func Export(ctx context.Context, db *sql.DB, in ExportInput) (ExportResult, error) {
	if ctx == nil {
		return ExportResult{}, errors.New("duckdb: context is nil")
	}
	if db == nil {
		return ExportResult{}, errors.New("duckdb: db is nil")
	}
	exportedAt := in.ExportedAt
	if exportedAt.IsZero() {
		exportedAt = time.Now().UTC()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return ExportResult{}, fmt.Errorf("begin export: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, run := range in.Runs {
		if err := insertRun(ctx, tx, run); err != nil {
			return ExportResult{}, err
		}
	}
	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO exports (export_id, experiment_id, experiment_name, tracking_uri, run_count, exported_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, in.Experiment.ID, in.Experiment.Name, in.TrackingURI, len(in.Runs), exportedAt,
	); err != nil {
		return ExportResult{}, fmt.Errorf("record export: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ExportResult{}, fmt.Errorf("commit export: %w", err)
	}
	return ExportResult{ExportID: id, Runs: len(in.Runs)}, nil
}

func insertRun(ctx context.Context, tx *sql.Tx, run tracking.Run) error {
	info := run.Info
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, experiment_id, run_name, status, start_time, end_time, artifact_uri, param_fingerprint)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		info.RunID,
		info.ExperimentID,
		nullableString(info.RunName),
		string(info.Status),
		nullableTime(info.StartTime),
		nullableTime(info.EndTime),
		nullableString(info.ArtifactURI),
		ParamFingerprint(run.Data.Params),
	); err != nil {
		return fmt.Errorf("insert run %s: %w", info.RunID, err)
	}
	for _, key := range sortedKeys(run.Data.Params) {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO run_params (run_id, key, value) VALUES (?, ?, ?)`,
			info.RunID, key, run.Data.Params[key],
		); err != nil {
			return fmt.Errorf("insert param %s of run %s: %w", key, info.RunID, err)
		}
	}
	for _, key := range sortedKeys(run.Data.Metrics) {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO run_metrics (run_id, key, value) VALUES (?, ?, ?)`,
			info.RunID, key, run.Data.Metrics[key],
		); err != nil {
			return fmt.Errorf("insert metric %s of run %s: %w", key, info.RunID, err)
		}
	}
	for _, key := range sortedKeys(run.Data.Tags) {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO run_tags (run_id, key, value) VALUES (?, ?, ?)`,
			info.RunID, key, run.Data.Tags[key],
		); err != nil {
			return fmt.Errorf("insert tag %s of run %s: %w", key, info.RunID, err)
		}
	}
	return nil
}

// WriteFile exports into the DuckDB file at path, creating it and its schema
// when missing.
func WriteFile(ctx context.Context, path string, in ExportInput) (ExportResult, error) {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return ExportResult{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer db.Close()
	if err := EnsureSchema(db); err != nil {
		return ExportResult{}, fmt.Errorf("apply schema: %w", err)
	}
	return Export(ctx, db, in)
}

// MetricSummaries reads per-metric aggregates, ordered by metric name.
func MetricSummaries(ctx context.Context, db *sql.DB) ([]MetricSummary, error) {
	rows, err := db.QueryContext(ctx, `SELECT metric, runs, mean, min_value, max_value FROM v_metric_summary ORDER BY metric`)
	if err != nil {
		return nil, fmt.Errorf("query metric summary: %w", err)
	}
	defer rows.Close()
	var out []MetricSummary
	for rows.Next() {
		var s MetricSummary
		if err := rows.Scan(&s.Metric, &s.Runs, &s.Mean, &s.Min, &s.Max); err != nil {
			return nil, fmt.Errorf("scan metric summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value.UTC()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
