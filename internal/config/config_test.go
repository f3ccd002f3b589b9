package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `version: 1
evaluation:
  model_path: artifacts/model.onnx
  data_dir: data
  image_size: [224, 224]
  batch_size: 16
tracking:
  uri: https://dagshub.com/acme/chest-ct.mlflow/
  experiment: chest-ct
  timeout: 45s
params:
  epochs: 1
  lr: 0.0001
`

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

func writeConfig(t *testing.T, contents string) (root, path string) {
	t.Helper()
	root = t.TempDir()
	path = ConfigPath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return root, path
}

func TestLoadAppliesDefaultsAndResolvesPaths(t *testing.T) {
	clearTrackingEnv(t)
	root, path := writeConfig(t, sampleConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tracking.URI != "https://dagshub.com/acme/chest-ct.mlflow" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Tracking.URI)
	}
	if cfg.Tracking.RegistryURI != cfg.Tracking.URI {
		t.Fatalf("expected registry uri to default to tracking uri, got %q", cfg.Tracking.RegistryURI)
	}

	eval := cfg.Resolve(root)
	if eval.ModelPath != filepath.Join(root, "artifacts", "model.onnx") {
		t.Fatalf("unexpected model path %q", eval.ModelPath)
	}
	if eval.ValidationDataPath != filepath.Join(root, "data") {
		t.Fatalf("unexpected data path %q", eval.ValidationDataPath)
	}
	if eval.ScoresPath != filepath.Join(root, DefaultScoresPath) {
		t.Fatalf("unexpected scores path %q", eval.ScoresPath)
	}
	if eval.ImageSize != (ImageSize{Height: 224, Width: 224, Channels: 3}) {
		t.Fatalf("unexpected image size %+v", eval.ImageSize)
	}
	if eval.ValidationSplit != DefaultValidationSplit || eval.Rescale != DefaultRescale {
		t.Fatalf("unexpected split/rescale %v/%v", eval.ValidationSplit, eval.Rescale)
	}
	if eval.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %v", eval.Timeout)
	}
	params := eval.Params()
	if len(params) != 2 || params["epochs"] != 1 || params["lr"] != 0.0001 {
		t.Fatalf("unexpected params %#v", params)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := ParseConfig([]byte("version: 1\nevaluation:\n  modelpath: x\n"))
	if err == nil || !strings.Contains(err.Error(), "modelpath") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestParseRejectsCredentialsInFile(t *testing.T) {
	_, err := ParseConfig([]byte("version: 1\ntracking:\n  password: hunter2\n"))
	if err == nil {
		t.Fatalf("expected credentials in file to be rejected")
	}
}

func TestParseRejectsMultipleDocuments(t *testing.T) {
	for _, doc := range []string{
		"version: 1\n---\nversion: 1\n",
		"version: 1\n---\ntracking:\n  uri: memory://local\n",
		"version: 1\n---\n- a\n",
	} {
		_, err := ParseConfig([]byte(doc))
		if err == nil || !strings.Contains(err.Error(), "multiple YAML documents") {
			t.Fatalf("%q: expected multiple document error, got %v", doc, err)
		}
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearTrackingEnv(t)
	t.Setenv("MLFLOW_TRACKING_URI", "http://mlflow.internal:5000")
	t.Setenv("MLFLOW_TRACKING_USERNAME", "ci")
	t.Setenv("MLFLOW_TRACKING_PASSWORD", "secret")
	t.Setenv("EVALTRACK_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	_, path := writeConfig(t, sampleConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tracking.URI != "http://mlflow.internal:5000" {
		t.Fatalf("expected env tracking uri, got %q", cfg.Tracking.URI)
	}
	if cfg.Tracking.Username != "ci" || cfg.Tracking.Password != "secret" {
		t.Fatalf("expected credentials from env, got %q/%q", cfg.Tracking.Username, cfg.Tracking.Password)
	}
	if len(cfg.Notify.Kafka.Brokers) != 2 || cfg.Notify.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %#v", cfg.Notify.Kafka.Brokers)
	}
}

func TestValidateCollectsIssues(t *testing.T) {
	cfg := Default()
	cfg.Evaluation.ModelPath = "model.onnx"
	cfg.Evaluation.DataDir = "data"
	cfg.Evaluation.BatchSize = 0
	cfg.Evaluation.ValidationSplit = 1
	cfg.Tracking.URI = "https://dagshub.com/acme/repo.mlflow"
	cfg.Tracking.RegistryURI = "https://registry.example.com"
	cfg.Log.Format = "xml"

	err := Validate(&cfg)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := map[string]bool{}
	for _, issue := range validationErr.Issues {
		fields[issue.Field] = true
	}
	for _, field := range []string{"evaluation.batch_size", "evaluation.validation_split", "tracking.registry_uri", "log.format"} {
		if !fields[field] {
			t.Fatalf("expected issue for %s, got %v", field, validationErr.Issues)
		}
	}
}

func TestValidateRequiresTrackingURI(t *testing.T) {
	cfg := Default()
	cfg.Evaluation.ModelPath = "model.onnx"
	cfg.Evaluation.DataDir = "data"

	err := Validate(&cfg)
	if err == nil || !strings.Contains(err.Error(), "tracking.uri") {
		t.Fatalf("expected tracking.uri issue, got %v", err)
	}

	cfg.Tracking.URI = "ftp://example.com"
	err = Validate(&cfg)
	if err == nil || !strings.Contains(err.Error(), "unsupported scheme") {
		t.Fatalf("expected scheme issue, got %v", err)
	}

	cfg.Tracking.URI = "memory://local"
	if err := Validate(&cfg); err != nil {
		t.Fatalf("expected memory uri to validate, got %v", err)
	}
}

func TestEvaluationConfigParamsAreCopied(t *testing.T) {
	source := map[string]any{"epochs": 1}
	eval := EvaluationConfig{BatchSize: 16}.WithParams(source)

	source["epochs"] = 99
	if eval.Params()["epochs"] != 1 {
		t.Fatalf("expected params to be copied on construction")
	}

	view := eval.Params()
	view["lr"] = 0.1
	if _, ok := eval.Params()["lr"]; ok {
		t.Fatalf("expected params to be copied on read")
	}
}

func TestScaffoldLoadsCleanly(t *testing.T) {
	clearTrackingEnv(t)
	root := t.TempDir()
	path := ConfigPath(root)
	if err := Scaffold(path, DefaultScaffoldOptions()); err != nil {
		t.Fatalf("scaffold: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("load scaffold: %v", err)
	}
	if err := Scaffold(path, DefaultScaffoldOptions()); err == nil {
		t.Fatalf("expected scaffold to refuse overwrite")
	}
}

func TestFindConfigPathWalksUp(t *testing.T) {
	root, path := writeConfig(t, sampleConfig)
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	found, err := FindConfigPath(nested)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found != path {
		t.Fatalf("expected %q, got %q", path, found)
	}
	if RepoRootFromConfigPath(found) != root {
		t.Fatalf("expected repo root %q", root)
	}
}
