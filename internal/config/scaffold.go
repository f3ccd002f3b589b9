package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ScaffoldOptions fills the values prompted for by evaltrack init.
type ScaffoldOptions struct {
	ModelPath   string
	DataDir     string
	TrackingURI string
	Experiment  string
}

const scaffoldTemplate = `version: 1

evaluation:
  model_path: %s
  data_dir: %s
  image_size: [224, 224, 3]
  batch_size: 16
  validation_split: 0.30
  # Must match the normalization used at training time.
  rescale: 0.00392156862745098
  scores_path: scores.json

tracking:
  # Credentials come from MLFLOW_TRACKING_USERNAME/MLFLOW_TRACKING_PASSWORD
  # or MLFLOW_TRACKING_TOKEN.
  uri: %s
  experiment: %s

# Logged verbatim as run parameters.
params:
  epochs: 1
  learning_rate: 0.0001
  batch_size: 16
  image_size: [224, 224, 3]

log:
  level: info
  format: text
`

// DefaultScaffoldOptions returns the values offered by evaltrack init.
func DefaultScaffoldOptions() ScaffoldOptions {
	return ScaffoldOptions{
		ModelPath:   "artifacts/training/model.onnx",
		DataDir:     "artifacts/data_ingestion/data",
		TrackingURI: "http://127.0.0.1:5000",
		Experiment:  DefaultExperiment,
	}
}

// RenderScaffold returns the YAML written by Scaffold.
func RenderScaffold(opts ScaffoldOptions) string {
	return fmt.Sprintf(scaffoldTemplate,
		strconv.Quote(opts.ModelPath),
		strconv.Quote(opts.DataDir),
		strconv.Quote(opts.TrackingURI),
		strconv.Quote(opts.Experiment),
	)
}

// Scaffold writes a starter config file, refusing to overwrite.
func Scaffold(configPath string, opts ScaffoldOptions) error {
	if configPath == "" {
		return fmt.Errorf("config path is required")
	}
	if info, err := os.Stat(configPath); err == nil {
		if info.IsDir() {
			return fmt.Errorf("config path %q is a directory", configPath)
		}
		return fmt.Errorf("config file already exists at %q", configPath)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(RenderScaffold(opts)), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
