package mlflow_test

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "evaltrack/internal/pkg/errors"
	"evaltrack/internal/testutil"
	"evaltrack/internal/tracking"
	"evaltrack/internal/tracking/mlflow"
	"evaltrack/internal/tracking/mlflow/mlflowtest"
)

func TestClientRunLifecycle(t *testing.T) {
	srv := mlflowtest.New(t)
	client := mlflow.New(srv.URL)
	ctx := testutil.Context(t, 0)

	expID, err := client.CreateExperiment(ctx, "chest-ct")
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	exp, err := client.GetExperimentByName(ctx, "chest-ct")
	if err != nil {
		t.Fatalf("get experiment: %v", err)
	}
	if exp.ID != expID {
		t.Fatalf("expected experiment %s, got %+v", expID, exp)
	}

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	info, err := client.CreateRun(ctx, tracking.CreateRunRequest{
		ExperimentID: expID,
		RunName:      "baseline",
		StartTime:    start,
		Tags:         []tracking.Tag{{Key: "mlflow.user", Value: "ci"}},
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if info.Status != tracking.RunStatusRunning || !info.StartTime.Equal(start) || info.RunName != "baseline" {
		t.Fatalf("unexpected run info %+v", info)
	}

	var batch tracking.Batch
	for i := 0; i < 250; i++ {
		batch.Params = append(batch.Params, tracking.Param{Key: fmt.Sprintf("p%03d", i), Value: fmt.Sprint(i)})
	}
	batch.Metrics = []tracking.Metric{{Key: "accuracy", Value: 0.75, Timestamp: start}}
	if err := client.LogBatch(ctx, info.RunID, batch); err != nil {
		t.Fatalf("log batch: %v", err)
	}
	if got := srv.Requests(mlflow.PathLogBatch); got != 3 {
		t.Fatalf("expected 3 log-batch requests, got %d", got)
	}

	finished, err := client.UpdateRun(ctx, info.RunID, tracking.RunStatusFinished, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("update run: %v", err)
	}
	if finished.Status != tracking.RunStatusFinished {
		t.Fatalf("expected FINISHED, got %s", finished.Status)
	}

	run, err := client.GetRun(ctx, info.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if len(run.Data.Params) != 250 || run.Data.Params["p042"] != "42" {
		t.Fatalf("unexpected params: %d", len(run.Data.Params))
	}
	if run.Data.Metrics["accuracy"] != 0.75 {
		t.Fatalf("unexpected metrics %v", run.Data.Metrics)
	}

	page, err := client.SearchRuns(ctx, tracking.SearchRequest{
		ExperimentIDs: []string{expID},
		OrderBy:       []string{tracking.OrderByStartTimeDesc},
		MaxResults:    10,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(page.Runs) != 1 || page.Runs[0].Info.RunID != info.RunID {
		t.Fatalf("unexpected search page %+v", page)
	}
}

func TestClientMissingExperimentIsNotFound(t *testing.T) {
	srv := mlflowtest.New(t)
	_, err := mlflow.New(srv.URL).GetExperimentByName(testutil.Context(t, 0), "missing")
	if !apperrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClientRejectedCredentialsAreRemoteAuthErrors(t *testing.T) {
	srv := mlflowtest.New(t, mlflowtest.RequireToken("s3cret"))
	ctx := testutil.Context(t, 0)

	_, err := mlflow.New(srv.URL, mlflow.WithCredentials(tracking.Credentials{Token: "wrong"})).GetExperimentByName(ctx, "Default")
	if !apperrors.IsRemoteAuth(err) {
		t.Fatalf("expected remote auth error, got %v", err)
	}

	exp, err := mlflow.New(srv.URL, mlflow.WithCredentials(tracking.Credentials{Token: "s3cret"})).GetExperimentByName(ctx, "Default")
	if err != nil {
		t.Fatalf("authorized lookup: %v", err)
	}
	if exp.ID != "0" {
		t.Fatalf("unexpected experiment %+v", exp)
	}
}

func TestClientBasicAuth(t *testing.T) {
	srv := mlflowtest.New(t, mlflowtest.RequireBasicAuth("alice", "pw"))
	client := mlflow.New(srv.URL, mlflow.WithCredentials(tracking.Credentials{Username: "alice", Password: "pw"}))
	if _, err := client.GetExperimentByName(testutil.Context(t, 0), "Default"); err != nil {
		t.Fatalf("basic auth lookup: %v", err)
	}
}

func TestClientUploadsArtifactsThroughProxy(t *testing.T) {
	srv := mlflowtest.New(t)
	client := mlflow.New(srv.URL)
	ctx := testutil.Context(t, 0)

	info, err := client.CreateRun(ctx, tracking.CreateRunRequest{ExperimentID: "0"})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	local := filepath.Join(t.TempDir(), "scores.json")
	if err := os.WriteFile(local, []byte(`{"loss": 0.1}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := client.LogArtifact(ctx, info, local, "evaluation_metrics"); err != nil {
		t.Fatalf("log artifact: %v", err)
	}
	data, ok := srv.Store.Artifact(info.RunID, "evaluation_metrics/scores.json")
	if !ok || string(data) != `{"loss": 0.1}` {
		t.Fatalf("unexpected stored artifact %q (found=%v)", data, ok)
	}

	files, err := client.ListArtifacts(ctx, info.RunID, "")
	if err != nil {
		t.Fatalf("list artifacts: %v", err)
	}
	if len(files) != 1 || files[0].Path != "evaluation_metrics" || !files[0].IsDir {
		t.Fatalf("unexpected listing %+v", files)
	}
}

func TestClientUploadToFinishedRunFails(t *testing.T) {
	srv := mlflowtest.New(t)
	client := mlflow.New(srv.URL)
	ctx := testutil.Context(t, 0)

	info, err := client.CreateRun(ctx, tracking.CreateRunRequest{ExperimentID: "0"})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if _, err := client.UpdateRun(ctx, info.RunID, tracking.RunStatusFinished, time.Time{}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	local := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(local, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := client.LogArtifact(ctx, info, local, "model_artifacts"); !apperrors.IsArtifactUpload(err) {
		t.Fatalf("expected artifact upload error, got %v", err)
	}
}

func TestClientRejectsUnsupportedArtifactRoot(t *testing.T) {
	client := mlflow.New("http://127.0.0.1:1")
	local := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(local, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	run := tracking.RunInfo{RunID: "abc", ArtifactURI: "s3://bucket/0/abc/artifacts"}
	err := client.LogArtifact(testutil.Context(t, 0), run, local, "model_artifacts")
	if !apperrors.IsArtifactUpload(err) {
		t.Fatalf("expected artifact upload error, got %v", err)
	}
}

func TestArtifactRootPath(t *testing.T) {
	cases := map[string]string{
		"mlflow-artifacts:/1/abc/artifacts":           "1/abc/artifacts",
		"mlflow-artifacts://host:5000/1/abc/artifacts": "1/abc/artifacts",
	}
	for uri, want := range cases {
		got, err := mlflow.ArtifactRootPath(uri)
		if err != nil {
			t.Fatalf("%s: %v", uri, err)
		}
		if got != want {
			t.Fatalf("%s: expected %q, got %q", uri, want, got)
		}
	}
	if _, err := mlflow.ArtifactRootPath("file:///tmp/mlruns"); err == nil {
		t.Fatalf("expected error for file root")
	}
}

func TestWireNumbersAcceptStrings(t *testing.T) {
	var metric mlflow.MetricJSON
	if err := json.Unmarshal([]byte(`{"key":"loss","value":"NaN","timestamp":"1709294400000","step":"3"}`), &metric); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !math.IsNaN(float64(metric.Value)) || metric.Timestamp != 1709294400000 || metric.Step != 3 {
		t.Fatalf("unexpected metric %+v", metric)
	}
}
