package scorer

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"evaltrack/internal/config"
	"evaltrack/internal/dataset"
	"evaltrack/internal/model"
	apperrors "evaltrack/internal/pkg/errors"
	"evaltrack/internal/testutil"
)

func fixture(t *testing.T, perClass int) (config.EvaluationConfig, model.Model) {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	testutil.WriteImageTree(t, dataDir, []string{"adenocarcinoma", "normal"}, perClass, 8)
	modelPath := filepath.Join(root, "model.json")
	testutil.WritePooledModel(t, modelPath)
	m, err := model.Load(modelPath, model.Options{})
	if err != nil {
		t.Fatalf("load model: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	cfg := config.EvaluationConfig{
		ModelPath:          modelPath,
		ValidationDataPath: dataDir,
		ImageSize:          config.ImageSize{Height: 8, Width: 8, Channels: 3},
		BatchSize:          16,
		ValidationSplit:    config.DefaultValidationSplit,
		Rescale:            config.DefaultRescale,
	}
	return cfg, m
}

func TestEvaluateIsDeterministic(t *testing.T) {
	cfg, m := fixture(t, 50)
	ctx := testutil.Context(t, 0)

	first, err := Evaluate(ctx, cfg, m)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	second, err := Evaluate(ctx, cfg, m)
	if err != nil {
		t.Fatalf("evaluate again: %v", err)
	}
	if math.Float64bits(first.Loss) != math.Float64bits(second.Loss) ||
		math.Float64bits(first.Accuracy) != math.Float64bits(second.Accuracy) {
		t.Fatalf("expected bit-identical records, got %#v and %#v", first, second)
	}
	if first.Accuracy != 1 {
		t.Fatalf("expected separable fixture to score 1.0, got %v", first.Accuracy)
	}
	if first.Loss <= 0 {
		t.Fatalf("expected positive loss, got %v", first.Loss)
	}
}

// constantModel predicts p for the second class on every sample.
type constantModel struct {
	p       float64
	batches []int
	err     error
}

func (m *constantModel) Predict(_ context.Context, batch dataset.Batch) ([][]float64, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.batches = append(m.batches, batch.Len())
	rows := make([][]float64, batch.Len())
	for i := range rows {
		rows[i] = []float64{m.p}
	}
	return rows, nil
}

func (m *constantModel) Close() error { return nil }

func TestEvaluateWeightsFinalBatchBySampleCount(t *testing.T) {
	cfg, _ := fixture(t, 50)
	stub := &constantModel{p: 0.8}

	record, err := Evaluate(testutil.Context(t, 0), cfg, stub)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(stub.batches) != 2 || stub.batches[0] != 16 || stub.batches[1] != 14 {
		t.Fatalf("expected batches [16 14], got %v", stub.batches)
	}
	p0 := math.Max(0.2, Epsilon)
	want := (15*-math.Log(p0) + 15*-math.Log(0.8)) / 30
	if math.Abs(record.Loss-want) > 1e-12 {
		t.Fatalf("expected sample-weighted loss %v, got %v", want, record.Loss)
	}
	if record.Accuracy != 0.5 {
		t.Fatalf("expected accuracy 0.5, got %v", record.Accuracy)
	}
}

type recordingObserver struct {
	total    int
	progress []Progress
}

func (o *recordingObserver) OnEvaluationStart(total, _ int) { o.total = total }
func (o *recordingObserver) OnBatch(p Progress)              { o.progress = append(o.progress, p) }

func TestEvaluateReportsProgress(t *testing.T) {
	cfg, m := fixture(t, 50)
	observer := &recordingObserver{}
	if _, err := Evaluate(testutil.Context(t, 0), cfg, m, WithObserver(observer)); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if observer.total != 30 || len(observer.progress) != 2 {
		t.Fatalf("unexpected progress %d %+v", observer.total, observer.progress)
	}
	if last := observer.progress[1]; last.Samples != 30 || last.Batch != 2 {
		t.Fatalf("unexpected final progress %+v", last)
	}
}

func TestEvaluateDataSourceErrors(t *testing.T) {
	cfg, m := fixture(t, 10)
	cfg.ValidationDataPath = filepath.Join(t.TempDir(), "missing")
	_, err := Evaluate(testutil.Context(t, 0), cfg, m)
	if !apperrors.IsDataSource(err) {
		t.Fatalf("expected data source error, got %v", err)
	}
}

func TestEvaluateRejectsNonPositiveBatchSize(t *testing.T) {
	cfg, m := fixture(t, 10)
	for _, size := range []int{0, -4} {
		cfg.BatchSize = size
		_, err := Evaluate(testutil.Context(t, 0), cfg, m)
		if !apperrors.IsValidation(err) {
			t.Fatalf("batch size %d: expected validation error, got %v", size, err)
		}
	}
}

func TestEvaluatePredictFailure(t *testing.T) {
	cfg, _ := fixture(t, 10)
	_, err := Evaluate(testutil.Context(t, 0), cfg, &constantModel{err: errors.New("boom")})
	if apperrors.CodeOf(err) != apperrors.CodeEvaluation {
		t.Fatalf("expected evaluation error, got %v", err)
	}
}

func TestSampleLoss(t *testing.T) {
	cases := []struct {
		name      string
		row       []float64
		label     int
		loss      float64
		predicted int
	}{
		{name: "two class", row: []float64{0.3, 0.7}, label: 1, loss: -math.Log(0.7), predicted: 1},
		{name: "sigmoid", row: []float64{0.25}, label: 0, loss: -math.Log(0.75), predicted: 0},
		{name: "clipped", row: []float64{0, 1}, label: 0, loss: -math.Log(Epsilon), predicted: 1},
		{name: "unnormalized", row: []float64{2, 2}, label: 1, loss: -math.Log(0.5), predicted: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loss, predicted, err := SampleLoss(tc.row, tc.label)
			if err != nil {
				t.Fatalf("sample loss: %v", err)
			}
			if math.Abs(loss-tc.loss) > 1e-12 || predicted != tc.predicted {
				t.Fatalf("expected (%v, %d), got (%v, %d)", tc.loss, tc.predicted, loss, predicted)
			}
		})
	}
	if _, _, err := SampleLoss([]float64{0.5, 0.5}, 2); err == nil {
		t.Fatalf("expected label range error")
	}
}
