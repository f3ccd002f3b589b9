package config

import (
	"maps"
	"path/filepath"
	"time"
)

// ImageSize is the target input shape of the model, excluding the batch axis.
type ImageSize struct {
	Height   int
	Width    int
	Channels int
}

// EvaluationConfig is the immutable input of one evaluation invocation. Build
// it with Config.Resolve or WithParams; the parameter map is copied on the
// way in and on the way out so no holder can mutate another's view.
type EvaluationConfig struct {
	ModelPath          string
	ValidationDataPath string
	ImageSize          ImageSize
	BatchSize          int
	ValidationSplit    float64
	Rescale            float64
	ScoresPath         string

	TrackingURI string
	RegistryURI string
	Experiment  string
	RunName     string
	Timeout     time.Duration

	ONNX ONNXSection

	params map[string]any
}

// Resolve derives the evaluation config, resolving relative paths against
// repoRoot.
func (c Config) Resolve(repoRoot string) EvaluationConfig {
	eval := c.Evaluation
	size := ImageSize{Channels: 3}
	if len(eval.ImageSize) >= 2 {
		size.Height, size.Width = eval.ImageSize[0], eval.ImageSize[1]
	}
	if len(eval.ImageSize) == 3 {
		size.Channels = eval.ImageSize[2]
	}
	onnx := eval.ONNX
	if onnx.LibraryPath != "" {
		onnx.LibraryPath = resolvePath(repoRoot, onnx.LibraryPath)
	}
	return EvaluationConfig{
		ModelPath:          resolvePath(repoRoot, eval.ModelPath),
		ValidationDataPath: resolvePath(repoRoot, eval.DataDir),
		ImageSize:          size,
		BatchSize:          eval.BatchSize,
		ValidationSplit:    eval.ValidationSplit,
		Rescale:            eval.Rescale,
		ScoresPath:         resolvePath(repoRoot, eval.ScoresPath),
		TrackingURI:        c.Tracking.URI,
		RegistryURI:        c.Tracking.RegistryURI,
		Experiment:         c.Tracking.Experiment,
		RunName:            c.Tracking.RunName,
		Timeout:            c.Tracking.Timeout,
		ONNX:               onnx,
		params:             maps.Clone(c.Params),
	}
}

// WithParams returns a copy of e carrying a copy of params.
func (e EvaluationConfig) WithParams(params map[string]any) EvaluationConfig {
	e.params = maps.Clone(params)
	return e
}

// Params returns a copy of the passthrough hyperparameters.
func (e EvaluationConfig) Params() map[string]any {
	out := make(map[string]any, len(e.params))
	maps.Copy(out, e.params)
	return out
}

func resolvePath(root, path string) string {
	if path == "" || filepath.IsAbs(path) || root == "" {
		return path
	}
	return filepath.Join(root, path)
}
