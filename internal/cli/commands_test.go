package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"evaltrack/internal/config"
	"evaltrack/internal/pipeline"
	apperrors "evaltrack/internal/pkg/errors"
	"evaltrack/internal/reportserver"
	"evaltrack/internal/testutil"
	"evaltrack/internal/tracking"
	"evaltrack/internal/tracking/memory"
)

func clearTrackingEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MLFLOW_TRACKING_URI", "MLFLOW_REGISTRY_URI", "MLFLOW_EXPERIMENT_NAME",
		"MLFLOW_TRACKING_USERNAME", "MLFLOW_TRACKING_PASSWORD", "MLFLOW_TRACKING_TOKEN",
		"EVALTRACK_LOG_LEVEL", "EVALTRACK_LOG_FORMAT", "EVALTRACK_PUSHGATEWAY_URL",
		"EVALTRACK_KAFKA_BROKERS", "ONNXRUNTIME_SHARED_LIBRARY_PATH",
	} {
		t.Setenv(key, "")
	}
}

// testWorkspace is a scaffolded repo backed by one shared in-memory store.
type testWorkspace struct {
	root       string
	configPath string
	modelPath  string
	store      *memory.Store
}

func newTestWorkspace(t *testing.T) testWorkspace {
	t.Helper()
	clearTrackingEnv(t)
	root := t.TempDir()
	testutil.WriteImageTree(t, filepath.Join(root, "data"), []string{"adenocarcinoma", "normal"}, 50, 32)
	modelPath := filepath.Join(root, "model.json")
	testutil.WritePooledModel(t, modelPath)

	configPath := config.ConfigPath(root)
	if err := config.Scaffold(configPath, config.ScaffoldOptions{
		ModelPath:   "model.json",
		DataDir:     "data",
		TrackingURI: "memory://local",
		Experiment:  "cli",
	}); err != nil {
		t.Fatalf("scaffold: %v", err)
	}

	store := memory.New()
	original := dialStore
	dialStore = func(config.TrackingSection) (tracking.Store, error) { return store, nil }
	t.Cleanup(func() { dialStore = original })

	return testWorkspace{root: root, configPath: configPath, modelPath: modelPath, store: store}
}

func (w testWorkspace) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{args[0], "--config", w.configPath}, args[1:]...)
	code := Run(full, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func runIDFrom(t *testing.T, stdout string) string {
	t.Helper()
	for _, line := range strings.Split(stdout, "\n") {
		if value, ok := strings.CutPrefix(line, "Run ID:"); ok {
			return strings.TrimSpace(value)
		}
	}
	t.Fatalf("no run id in output %q", stdout)
	return ""
}

func TestEvaluateThenQueryCommands(t *testing.T) {
	w := newTestWorkspace(t)

	code, stdout, stderr := w.run(t, "evaluate", "--ui", "plain", "--param", "epochs=3")
	if code != ExitOK {
		t.Fatalf("evaluate: exit %d, stderr %q", code, stderr)
	}
	first := runIDFrom(t, stdout)
	if !strings.Contains(stderr, "log_run done") {
		t.Fatalf("expected plain stage lines on stderr, got %q", stderr)
	}

	code, stdout, stderr = w.run(t, "evaluate", "--ui", "plain", "--param", "epochs=5", "--run-name", "second")
	if code != ExitOK {
		t.Fatalf("second evaluate: exit %d, stderr %q", code, stderr)
	}
	second := runIDFrom(t, stdout)
	if first == second {
		t.Fatalf("expected distinct run ids, got %q twice", first)
	}

	code, stdout, stderr = w.run(t, "scores")
	if code != ExitOK || !strings.Contains(stdout, "Accuracy:") {
		t.Fatalf("scores: exit %d, stdout %q, stderr %q", code, stdout, stderr)
	}

	code, stdout, _ = w.run(t, "runs", "--limit", "1", "--no-color")
	if code != ExitOK {
		t.Fatalf("runs: exit %d", code)
	}
	if !strings.Contains(stdout, "Run "+second+" (second)") || strings.Contains(stdout, first) {
		t.Fatalf("expected only the latest run, got %q", stdout)
	}
	if !strings.Contains(stdout, "Status:   FINISHED") {
		t.Fatalf("expected finished status, got %q", stdout)
	}

	code, stdout, _ = w.run(t, "summary", "--no-color")
	if code != ExitOK {
		t.Fatalf("summary: exit %d", code)
	}
	if !strings.Contains(stdout, "accuracy: runs 2") || !strings.Contains(stdout, "loss: runs 2") {
		t.Fatalf("unexpected summary %q", stdout)
	}

	code, stdout, _ = w.run(t, "compare", "--base", first, "--head", second, "--no-color")
	if code != ExitOK {
		t.Fatalf("compare: exit %d", code)
	}
	if !strings.Contains(stdout, "param epochs: 3 -> 5") {
		t.Fatalf("expected epochs change, got %q", stdout)
	}
}

func TestEvaluateMissingModelLogsNothing(t *testing.T) {
	w := newTestWorkspace(t)
	if err := os.Remove(w.modelPath); err != nil {
		t.Fatalf("remove model: %v", err)
	}

	code, _, stderr := w.run(t, "evaluate", "--ui", "plain")
	if code != ExitError {
		t.Fatalf("expected exit %d, got %d", ExitError, code)
	}
	if !strings.Contains(stderr, "load_model failed") {
		t.Fatalf("expected failed load stage, got %q", stderr)
	}

	code, stdout, _ := w.run(t, "runs")
	if code != ExitOK || !strings.Contains(stdout, "No runs found") {
		t.Fatalf("expected no runs, got exit %d and %q", code, stdout)
	}
	if _, err := os.Stat(filepath.Join(w.root, "scores.json")); !os.IsNotExist(err) {
		t.Fatalf("expected no scores.json, stat err %v", err)
	}
}

func TestEvaluateReportsPartiallyLoggedRun(t *testing.T) {
	w := newTestWorkspace(t)
	original := runPipeline
	runPipeline = func(context.Context, config.EvaluationConfig, pipeline.Deps) (pipeline.Result, error) {
		return pipeline.Result{RunID: "run-7"}, errors.New("upload artifact: connection reset")
	}
	t.Cleanup(func() { runPipeline = original })

	code, stdout, stderr := w.run(t, "evaluate", "--ui", "plain")
	if code != ExitError {
		t.Fatalf("expected exit %d, got %d", ExitError, code)
	}
	if !strings.Contains(stderr, "Run run-7 was logged FINISHED with partial data.") {
		t.Fatalf("expected partial run notice, got %q", stderr)
	}
	if !strings.Contains(stderr, "Evaluation failed: upload artifact: connection reset") {
		t.Fatalf("expected failure line, got %q", stderr)
	}
	if strings.Contains(stdout, "Run ID:") {
		t.Fatalf("expected no success output, got %q", stdout)
	}
}

func TestSummaryWithoutRuns(t *testing.T) {
	w := newTestWorkspace(t)
	if err := os.Remove(w.modelPath); err != nil {
		t.Fatalf("remove model: %v", err)
	}
	if code, _, _ := w.run(t, "evaluate", "--ui", "plain"); code != ExitError {
		t.Fatalf("expected failed evaluation, got exit %d", code)
	}

	code, stdout, _ := w.run(t, "summary", "--no-color")
	if code != ExitOK {
		t.Fatalf("expected exit %d, got %d", ExitOK, code)
	}
	if !strings.Contains(stdout, "accuracy: no runs have logged this metric") {
		t.Fatalf("unexpected summary %q", stdout)
	}
}

func TestQueryCommandsDoNotCreateExperiment(t *testing.T) {
	w := newTestWorkspace(t)
	for _, args := range [][]string{{"runs"}, {"summary", "--no-color"}} {
		code, stdout, stderr := w.run(t, args...)
		if code != ExitOK {
			t.Fatalf("%s: exit %d, stderr %q", args[0], code, stderr)
		}
		if !strings.Contains(stdout, "No runs found") {
			t.Fatalf("%s: expected no runs message, got %q", args[0], stdout)
		}
	}
	code, _, stderr := w.run(t, "export")
	if code != ExitError || !strings.Contains(stderr, "evaltrack evaluate") {
		t.Fatalf("export: expected failure with hint, got %d %q", code, stderr)
	}
	if _, err := w.store.GetExperimentByName(testutil.Context(t, 0), "cli"); !apperrors.IsNotFound(err) {
		t.Fatalf("expected experiment to stay missing, got %v", err)
	}
}

func TestScoresMissingSuggestsEvaluate(t *testing.T) {
	w := newTestWorkspace(t)
	code, _, stderr := w.run(t, "scores")
	if code != ExitError {
		t.Fatalf("expected exit %d, got %d", ExitError, code)
	}
	if !strings.Contains(stderr, "evaltrack evaluate") {
		t.Fatalf("expected hint, got %q", stderr)
	}
}

func TestCompareRequiresBothRuns(t *testing.T) {
	w := newTestWorkspace(t)
	code, _, stderr := w.run(t, "compare", "--base", "abc")
	if code != ExitUsage {
		t.Fatalf("expected exit %d, got %d", ExitUsage, code)
	}
	if !strings.Contains(stderr, "--base and --head are required") {
		t.Fatalf("unexpected stderr %q", stderr)
	}
}

func TestRunsRejectsNonPositiveLimit(t *testing.T) {
	w := newTestWorkspace(t)
	if code, _, _ := w.run(t, "runs", "--limit", "0"); code != ExitUsage {
		t.Fatalf("expected exit %d, got %d", ExitUsage, code)
	}
}

func TestEvaluateRejectsMalformedParam(t *testing.T) {
	w := newTestWorkspace(t)
	code, _, stderr := w.run(t, "evaluate", "--param", "epochs")
	if code != ExitUsage {
		t.Fatalf("expected exit %d, got %d", ExitUsage, code)
	}
	if !strings.Contains(stderr, "expected key=value") {
		t.Fatalf("unexpected stderr %q", stderr)
	}
}

func TestParamFlagsKeepTypes(t *testing.T) {
	params := paramFlags{}
	for _, value := range []string{"epochs=5", "learning_rate=0.001", "augment=true", "optimizer=adam"} {
		if err := params.Set(value); err != nil {
			t.Fatalf("set %q: %v", value, err)
		}
	}
	if params["epochs"] != 5 || params["learning_rate"] != 0.001 || params["augment"] != true || params["optimizer"] != "adam" {
		t.Fatalf("unexpected params %#v", params)
	}
}

func TestValidateReportsProblems(t *testing.T) {
	clearTrackingEnv(t)
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("version: 1\nevaluation:\n  batch_size: -1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	var stdout, stderr bytes.Buffer
	code := Run([]string{"validate", "--config", path}, &stdout, &stderr)
	if code != ExitError {
		t.Fatalf("expected exit %d, got %d", ExitError, code)
	}
	if !strings.Contains(stderr.String(), "evaluation.model_path") {
		t.Fatalf("expected model path issue, got %q", stderr.String())
	}
}

func TestInitWritesLoadableConfig(t *testing.T) {
	clearTrackingEnv(t)
	path := filepath.Join(t.TempDir(), ".evaltrack", "config.yml")
	original := initInput
	initInput = strings.NewReader("models/model.onnx\n\nmemory://local\nlung\n")
	t.Cleanup(func() { initInput = original })

	var stdout, stderr bytes.Buffer
	if code := Run([]string{"init", "--config", path}, &stdout, &stderr); code != ExitOK {
		t.Fatalf("init: exit %d, stderr %q", code, stderr.String())
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load scaffolded config: %v", err)
	}
	if cfg.Evaluation.ModelPath != "models/model.onnx" || cfg.Tracking.Experiment != "lung" {
		t.Fatalf("unexpected config %#v", cfg)
	}
	if cfg.Evaluation.DataDir != config.DefaultScaffoldOptions().DataDir {
		t.Fatalf("expected default data dir, got %q", cfg.Evaluation.DataDir)
	}

	stdout.Reset()
	if code := Run([]string{"validate", "--config", path}, &stdout, &stderr); code != ExitOK {
		t.Fatalf("validate: exit %d, stderr %q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Config OK") {
		t.Fatalf("expected Config OK, got %q", stdout.String())
	}
}

func TestInitRefusesToOverwrite(t *testing.T) {
	clearTrackingEnv(t)
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("version: 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	var stdout, stderr bytes.Buffer
	if code := Run([]string{"init", "--config", path}, &stdout, &stderr); code != ExitError {
		t.Fatalf("expected exit %d, got %d", ExitError, code)
	}
	if !strings.Contains(stderr.String(), "already exists") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestServeExportsBeforeServing(t *testing.T) {
	w := newTestWorkspace(t)
	if code, _, stderr := w.run(t, "evaluate", "--ui", "plain"); code != ExitOK {
		t.Fatalf("evaluate: exit %d, stderr %q", code, stderr)
	}

	var served reportserver.Config
	original := serveReport
	serveReport = func(_ context.Context, cfg reportserver.Config) error {
		served = cfg
		return nil
	}
	t.Cleanup(func() { serveReport = original })

	code, stdout, stderr := w.run(t, "serve", "--addr", "127.0.0.1:0")
	if code != ExitOK {
		t.Fatalf("serve: exit %d, stderr %q", code, stderr)
	}
	want := filepath.Join(w.root, config.ConfigDirName, defaultExportName)
	if served.DBPath != want {
		t.Fatalf("expected db %q, got %q", want, served.DBPath)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected export file: %v", err)
	}
	if !strings.Contains(stdout, "Exported 1 runs") {
		t.Fatalf("unexpected stdout %q", stdout)
	}

	page, err := served.Page(testutil.Context(t, 0))
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if page.Experiment != "cli" || len(page.Runs) != 1 || page.DataURL != reportserver.DataPath {
		t.Fatalf("unexpected page data %#v", page)
	}
}

func TestServeMissingDatabase(t *testing.T) {
	w := newTestWorkspace(t)
	code, _, stderr := w.run(t, "serve", filepath.Join(w.root, "missing.duckdb"))
	if code != ExitError || !strings.Contains(stderr, "Database not found") {
		t.Fatalf("expected missing database error, got %d %q", code, stderr)
	}
}
