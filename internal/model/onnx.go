//go:build cgo

package model

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"evaltrack/internal/dataset"
	apperrors "evaltrack/internal/pkg/errors"
)

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// initRuntime initializes the process-wide ONNX Runtime environment once.
func initRuntime(libraryPath string) error {
	runtimeOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		runtimeErr = ort.InitializeEnvironment()
	})
	return runtimeErr
}

// onnxModel runs an exported classifier that takes NHWC float32 input.
type onnxModel struct {
	session *ort.DynamicAdvancedSession
	input   string
	output  string
}

func loadONNX(path string, opts Options) (Model, error) {
	if err := initRuntime(opts.LibraryPath); err != nil {
		return nil, apperrors.ModelLoadError(path, fmt.Errorf("initialize onnx runtime: %w", err))
	}
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, apperrors.ModelLoadError(path, fmt.Errorf("probe graph: %w", err))
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, apperrors.ModelLoadError(path, fmt.Errorf("graph has no inputs or outputs"))
	}
	input, output := opts.Input, opts.Output
	if input == "" {
		input = inputs[0].Name
	}
	if output == "" {
		output = outputs[0].Name
	}

	session, err := ort.NewDynamicAdvancedSession(path, []string{input}, []string{output}, nil)
	if err != nil {
		return nil, apperrors.ModelLoadError(path, fmt.Errorf("create session: %w", err))
	}
	return &onnxModel{session: session, input: input, output: output}, nil
}

// Predict runs the batch through the graph and returns one row per sample.
func (m *onnxModel) Predict(ctx context.Context, batch dataset.Batch) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := batch.Len()
	shape := ort.NewShape(int64(n), int64(batch.Shape.Height), int64(batch.Shape.Width), int64(batch.Shape.Channels))
	tensor, err := ort.NewTensor(shape, batch.Inputs)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer tensor.Destroy()

	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{tensor}, outputs); err != nil {
		return nil, fmt.Errorf("run %s: %w", m.output, err)
	}
	defer outputs[0].Destroy()

	var data []float64
	switch out := outputs[0].(type) {
	case *ort.Tensor[float32]:
		for _, v := range out.GetData() {
			data = append(data, float64(v))
		}
	case *ort.Tensor[float64]:
		data = append(data, out.GetData()...)
	default:
		return nil, fmt.Errorf("unsupported output tensor type %T", outputs[0])
	}
	if n == 0 || len(data)%n != 0 {
		return nil, fmt.Errorf("output has %d values for %d samples", len(data), n)
	}
	width := len(data) / n
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = data[i*width : (i+1)*width]
	}
	return rows, nil
}

// Close releases the ONNX session.
func (m *onnxModel) Close() error {
	return m.session.Destroy()
}
