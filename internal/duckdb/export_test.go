package duckdb_test

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"evaltrack/internal/duckdb"
	"evaltrack/internal/testutil"
	"evaltrack/internal/tracking"
)

func sampleRuns() []tracking.Run {
	start := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	return []tracking.Run{
		{
			Info: tracking.RunInfo{RunID: "run-a", ExperimentID: "1", RunName: "baseline", Status: tracking.RunStatusFinished, StartTime: start},
			Data: tracking.RunData{
				Params:  map[string]string{"epochs": "5", "learning_rate": "0.001"},
				Metrics: map[string]float64{"accuracy": 0.8, "loss": 0.4},
				Tags:    map[string]string{"mlflow.user": "ci"},
			},
		},
		{
			Info: tracking.RunInfo{RunID: "run-b", ExperimentID: "1", Status: tracking.RunStatusFinished, StartTime: start.Add(time.Hour)},
			Data: tracking.RunData{
				Params:  map[string]string{"learning_rate": "0.001", "epochs": "5"},
				Metrics: map[string]float64{"accuracy": 0.6},
			},
		},
	}
}

func TestSchemaObjectsExist(t *testing.T) {
	db, ctx := openTestDB(t)
	for _, table := range []string{"exports", "runs", "run_params", "run_metrics", "run_tags"} {
		if queryInt(t, ctx, db, "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = ?", table) != 1 {
			t.Fatalf("expected table %s to exist", table)
		}
	}
	if queryInt(t, ctx, db, "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'v_metric_summary' AND table_type = 'VIEW'") != 1 {
		t.Fatalf("expected view v_metric_summary to exist")
	}
}

func TestExportWritesSparseRows(t *testing.T) {
	db, ctx := openTestDB(t)
	result, err := duckdb.Export(ctx, db, duckdb.ExportInput{
		Experiment:  tracking.Experiment{ID: "1", Name: "chest-ct"},
		TrackingURI: "memory://local",
		Runs:        sampleRuns(),
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if result.Runs != 2 || result.ExportID == "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := queryInt(t, ctx, db, "SELECT COUNT(*) FROM runs"); got != 2 {
		t.Fatalf("expected 2 runs, got %d", got)
	}
	if got := queryInt(t, ctx, db, "SELECT COUNT(*) FROM run_metrics WHERE run_id = 'run-b'"); got != 1 {
		t.Fatalf("expected only the logged metric for run-b, got %d", got)
	}
	if got := queryInt(t, ctx, db, "SELECT COUNT(DISTINCT param_fingerprint) FROM runs"); got != 1 {
		t.Fatalf("expected identical params to share a fingerprint, got %d fingerprints", got)
	}
	if got := queryInt(t, ctx, db, "SELECT COUNT(*) FROM runs WHERE run_name IS NULL"); got != 1 {
		t.Fatalf("expected unnamed run stored as NULL, got %d", got)
	}
}

func TestExportIsRepeatable(t *testing.T) {
	db, ctx := openTestDB(t)
	in := duckdb.ExportInput{Experiment: tracking.Experiment{ID: "1", Name: "chest-ct"}, TrackingURI: "memory://local", Runs: sampleRuns()}
	for i := 0; i < 2; i++ {
		if _, err := duckdb.Export(ctx, db, in); err != nil {
			t.Fatalf("export %d: %v", i, err)
		}
	}
	if got := queryInt(t, ctx, db, "SELECT COUNT(*) FROM runs"); got != 2 {
		t.Fatalf("expected re-export to replace runs, got %d rows", got)
	}
	if got := queryInt(t, ctx, db, "SELECT COUNT(*) FROM exports"); got != 2 {
		t.Fatalf("expected one export record per call, got %d", got)
	}
}

func TestMetricSummaries(t *testing.T) {
	db, ctx := openTestDB(t)
	if _, err := duckdb.Export(ctx, db, duckdb.ExportInput{Experiment: tracking.Experiment{ID: "1"}, Runs: sampleRuns()}); err != nil {
		t.Fatalf("export: %v", err)
	}
	summaries, err := duckdb.MetricSummaries(ctx, db)
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(summaries) != 2 || summaries[0].Metric != "accuracy" || summaries[1].Metric != "loss" {
		t.Fatalf("unexpected summaries %+v", summaries)
	}
	acc := summaries[0]
	if acc.Runs != 2 || math.Abs(acc.Mean-0.7) > 1e-9 || acc.Min != 0.6 || acc.Max != 0.8 {
		t.Fatalf("unexpected accuracy summary %+v", acc)
	}
}

func TestWriteFileCreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.duckdb")
	ctx := testutil.Context(t, testTimeout)
	if _, err := duckdb.WriteFile(ctx, path, duckdb.ExportInput{Experiment: tracking.Experiment{ID: "1"}, Runs: sampleRuns()}); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := duckdb.WriteFile(ctx, path, duckdb.ExportInput{Experiment: tracking.Experiment{ID: "1"}, Runs: sampleRuns()[:1]}); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}
}

func TestParamFingerprintIgnoresOrder(t *testing.T) {
	a := duckdb.ParamFingerprint(map[string]string{"a": "1", "b": "2"})
	b := duckdb.ParamFingerprint(map[string]string{"b": "2", "a": "1"})
	c := duckdb.ParamFingerprint(map[string]string{"a": "1", "b": "3"})
	if a != b {
		t.Fatalf("expected equal fingerprints")
	}
	if a == c {
		t.Fatalf("expected distinct fingerprints for distinct values")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha-256, got %q", a)
	}
}
