// Package model loads trained classifiers and runs batched inference.
package model

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"evaltrack/internal/dataset"
	apperrors "evaltrack/internal/pkg/errors"
)

// Model produces one row of class scores per sample in a batch. A row of
// width one is a sigmoid output for the second class.
type Model interface {
	Predict(ctx context.Context, batch dataset.Batch) ([][]float64, error)
	Close() error
}

// Options tunes backend-specific loading.
type Options struct {
	// LibraryPath locates the ONNX Runtime shared library.
	LibraryPath string
	// Input and Output name the ONNX graph tensors; empty picks the first.
	Input  string
	Output string
}

// Load opens the model at path, choosing a backend by file extension.
func Load(path string, opts Options) (Model, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, apperrors.ModelLoadError(path, err)
	}
	if info.IsDir() {
		return nil, apperrors.ModelLoadError(path, fmt.Errorf("path is a directory"))
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".onnx":
		return loadONNX(path, opts)
	case ".json":
		return loadLogistic(path)
	default:
		return nil, apperrors.ModelLoadError(path, fmt.Errorf("unsupported model format %q (want .onnx or .json)", ext))
	}
}
