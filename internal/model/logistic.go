package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"evaltrack/internal/dataset"
	apperrors "evaltrack/internal/pkg/errors"
)

// Logistic is a binary logistic regression over either every input value or
// the per-channel means of a sample (global average pooling).
type Logistic struct {
	Weights []float64
	Bias    float64
}

type logisticFile struct {
	Format  string    `json:"format"`
	Classes []string  `json:"classes,omitempty"`
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

func loadLogistic(path string) (Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.ModelLoadError(path, err)
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	var file logisticFile
	if err := decoder.Decode(&file); err != nil {
		return nil, apperrors.ModelLoadError(path, fmt.Errorf("decode: %w", err))
	}
	if file.Format != "logistic" {
		return nil, apperrors.ModelLoadError(path, fmt.Errorf("unsupported format %q", file.Format))
	}
	if len(file.Weights) == 0 {
		return nil, apperrors.ModelLoadError(path, fmt.Errorf("weights are empty"))
	}
	return &Logistic{Weights: file.Weights, Bias: file.Bias}, nil
}

// Predict returns a single sigmoid probability per sample.
func (m *Logistic) Predict(ctx context.Context, batch dataset.Batch) ([][]float64, error) {
	size := batch.Shape.Size()
	if size == 0 || len(batch.Inputs) != size*batch.Len() {
		return nil, fmt.Errorf("batch inputs do not match shape %+v", batch.Shape)
	}
	pooled := len(m.Weights) == batch.Shape.Channels && len(m.Weights) != size
	if !pooled && len(m.Weights) != size {
		return nil, fmt.Errorf("model expects %d inputs, batch provides %d per sample", len(m.Weights), size)
	}

	rows := make([][]float64, batch.Len())
	for i := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sample := batch.Inputs[i*size : (i+1)*size]
		var features []float64
		if pooled {
			features = channelMeans(sample, batch.Shape.Channels)
		} else {
			features = make([]float64, size)
			for j, v := range sample {
				features[j] = float64(v)
			}
		}
		z := m.Bias
		for j, w := range m.Weights {
			z += w * features[j]
		}
		rows[i] = []float64{1 / (1 + math.Exp(-z))}
	}
	return rows, nil
}

// Close is a no-op.
func (m *Logistic) Close() error { return nil }

func channelMeans(sample []float32, channels int) []float64 {
	sums := make([]float64, channels)
	for j, v := range sample {
		sums[j%channels] += float64(v)
	}
	pixels := float64(len(sample) / channels)
	for c := range sums {
		sums[c] /= pixels
	}
	return sums
}
