// Package scorer evaluates a model over the validation split of a dataset.
package scorer

import (
	"context"
	"fmt"
	"math"

	"evaltrack/internal/config"
	"evaltrack/internal/dataset"
	"evaltrack/internal/model"
	apperrors "evaltrack/internal/pkg/errors"
	"evaltrack/internal/pkg/logger"
	"evaltrack/internal/scores"
)

// Epsilon clips probabilities before taking logarithms.
const Epsilon = 1e-7

// Progress describes evaluation progress after a batch.
type Progress struct {
	Batch   int
	Batches int
	Samples int
	Total   int
}

// Observer receives progress updates. Implementations must not block.
type Observer interface {
	OnEvaluationStart(total, batches int)
	OnBatch(progress Progress)
}

type options struct {
	observer Observer
	log      *logger.Logger
}

// Option configures Evaluate.
type Option func(*options)

// WithObserver reports progress to observer.
func WithObserver(observer Observer) Option {
	return func(o *options) { o.observer = observer }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// Evaluate scores m over the validation split configured in cfg. Batches are
// processed in a fixed order and accumulated in float64, so repeated calls over
// the same data and model return identical records. Loss and accuracy are
// means over samples, which weights a short final batch by its size.
func Evaluate(ctx context.Context, cfg config.EvaluationConfig, m model.Model, opts ...Option) (scores.Record, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.OrDiscard(o.log).WithComponent("scorer")

	if m == nil {
		return scores.Record{}, apperrors.ModelLoadError(cfg.ModelPath, fmt.Errorf("model is nil"))
	}
	if cfg.BatchSize <= 0 {
		return scores.Record{}, apperrors.ValidationError(fmt.Sprintf("batch size must be > 0, got %d", cfg.BatchSize))
	}

	source, err := dataset.Open(cfg.ValidationDataPath, cfg.ValidationSplit)
	if err != nil {
		return scores.Record{}, err
	}
	loader := dataset.Loader{
		Shape: dataset.Shape{
			Height:   cfg.ImageSize.Height,
			Width:    cfg.ImageSize.Width,
			Channels: cfg.ImageSize.Channels,
		},
		Rescale: cfg.Rescale,
	}

	batches := source.NumBatches(cfg.BatchSize)
	log.Info("evaluating",
		"samples", source.Len(),
		"images", source.Total,
		"classes", source.Classes,
		"batches", batches,
	)
	if o.observer != nil {
		o.observer.OnEvaluationStart(source.Len(), batches)
	}

	var acc accumulator
	for i := 0; i < batches; i++ {
		batch, err := loader.Batch(ctx, source, i, cfg.BatchSize)
		if err != nil {
			return scores.Record{}, err
		}
		rows, err := m.Predict(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return scores.Record{}, ctx.Err()
			}
			return scores.Record{}, apperrors.EvaluationError(fmt.Sprintf("predict batch %d", i), err)
		}
		if err := acc.add(rows, batch.Labels); err != nil {
			return scores.Record{}, apperrors.EvaluationError(fmt.Sprintf("score batch %d", i), err)
		}
		log.Debug("batch scored", "batch", i+1, "of", batches, "samples", batch.Len())
		if o.observer != nil {
			o.observer.OnBatch(Progress{Batch: i + 1, Batches: batches, Samples: acc.count, Total: source.Len()})
		}
	}

	record := acc.record()
	if math.IsNaN(record.Loss) || math.IsInf(record.Loss, 0) {
		return scores.Record{}, apperrors.EvaluationError("loss is not finite", nil)
	}
	log.Info("evaluation complete", "loss", record.Loss, "accuracy", record.Accuracy)
	return record, nil
}

// accumulator sums per-sample loss and correct predictions.
type accumulator struct {
	lossSum float64
	correct int
	count   int
}

func (a *accumulator) add(rows [][]float64, labels []int) error {
	if len(rows) != len(labels) {
		return fmt.Errorf("model returned %d rows for %d samples", len(rows), len(labels))
	}
	for i, row := range rows {
		loss, predicted, err := SampleLoss(row, labels[i])
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		a.lossSum += loss
		if predicted == labels[i] {
			a.correct++
		}
		a.count++
	}
	return nil
}

func (a *accumulator) record() scores.Record {
	if a.count == 0 {
		return scores.Record{}
	}
	return scores.Record{
		Loss:     a.lossSum / float64(a.count),
		Accuracy: float64(a.correct) / float64(a.count),
	}
}

// SampleLoss returns the categorical cross-entropy of one prediction row and
// its argmax class. A single-value row p is read as [1-p, p]. Rows are
// normalized to sum to one, then clipped to [Epsilon, 1-Epsilon].
func SampleLoss(row []float64, label int) (float64, int, error) {
	probs := row
	if len(row) == 1 {
		probs = []float64{1 - row[0], row[0]}
	}
	if len(probs) < 2 {
		return 0, 0, fmt.Errorf("empty prediction row")
	}
	if label < 0 || label >= len(probs) {
		return 0, 0, fmt.Errorf("label %d outside %d classes", label, len(probs))
	}

	sum := 0.0
	predicted := 0
	for j, p := range probs {
		if math.IsNaN(p) || p < 0 {
			return 0, 0, fmt.Errorf("invalid probability %v", p)
		}
		sum += p
		if p > probs[predicted] {
			predicted = j
		}
	}
	p := probs[label]
	if sum > 0 {
		p /= sum
	}
	p = math.Min(math.Max(p, Epsilon), 1-Epsilon)
	return -math.Log(p), predicted, nil
}
