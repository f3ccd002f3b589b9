// Package pipeline runs one evaluation end to end: load the model, score the
// validation split, persist scores.json, log the run, then announce it.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"evaltrack/internal/config"
	"evaltrack/internal/metrics"
	"evaltrack/internal/model"
	"evaltrack/internal/notify"
	"evaltrack/internal/pkg/logger"
	"evaltrack/internal/runlog"
	"evaltrack/internal/scorer"
	"evaltrack/internal/scores"
)

// RunLogger records a finished evaluation in the tracking store.
type RunLogger interface {
	LogRun(ctx context.Context, cfg config.EvaluationConfig, record scores.Record, artifacts []runlog.Artifact) (string, error)
}

// MetricsSink receives the outcome of a logged run.
type MetricsSink interface {
	Push(ctx context.Context, rep metrics.Report) error
}

// EventPublisher announces a logged run.
type EventPublisher interface {
	Publish(ctx context.Context, ev notify.RunLogged) error
}

// ModelLoader opens the model named by cfg.
type ModelLoader func(cfg config.EvaluationConfig) (model.Model, error)

// LoadModel is the default ModelLoader.
func LoadModel(cfg config.EvaluationConfig) (model.Model, error) {
	return model.Load(cfg.ModelPath, model.Options{
		LibraryPath: cfg.ONNX.LibraryPath,
		Input:       cfg.ONNX.Input,
		Output:      cfg.ONNX.Output,
	})
}

// Deps wires the collaborators of Run. RunLogger is required; Metrics and
// Events are optional.
type Deps struct {
	RunLogger RunLogger
	LoadModel ModelLoader
	Metrics   MetricsSink
	Events    EventPublisher
	Observer  Observer
	Logger    *logger.Logger
	Now       func() time.Time
	// ExperimentID and TrackingURI are copied into published events.
	ExperimentID string
	TrackingURI  string
}

// Result describes a completed pipeline run.
type Result struct {
	Record     scores.Record
	ScoresPath string
	RunID      string
	Samples    int
	Duration   time.Duration
	// Warnings lists failures of optional stages.
	Warnings []string
}

// Run executes every stage in order. Failures before the run is logged abort
// without touching the tracking store. Metrics and event failures are
// reported in Result.Warnings and do not fail the run.
func Run(ctx context.Context, cfg config.EvaluationConfig, deps Deps) (result Result, err error) {
	if deps.RunLogger == nil {
		return Result{}, fmt.Errorf("pipeline: run logger is required")
	}
	load := deps.LoadModel
	if load == nil {
		load = LoadModel
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	log := logger.OrDiscard(deps.Logger).WithComponent("pipeline")
	emit := notifier{observer: deps.Observer, now: now}
	started := now()
	result.ScoresPath = cfg.ScoresPath
	defer func() { emit.end(result, err) }()

	emit.stage(StageLoadModel, StatusRunning, "")
	m, err := load(cfg)
	if err != nil {
		emit.stage(StageLoadModel, StatusFailed, err.Error())
		return result, err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			log.Warn("close model", "error", closeErr)
		}
	}()
	emit.stage(StageLoadModel, StatusDone, cfg.ModelPath)

	emit.stage(StageEvaluate, StatusRunning, "")
	progress := &progressAdapter{notifier: emit}
	record, err := scorer.Evaluate(ctx, cfg, m, scorer.WithObserver(progress), scorer.WithLogger(deps.Logger))
	if err != nil {
		emit.stage(StageEvaluate, StatusFailed, err.Error())
		return result, err
	}
	result.Record = record
	result.Samples = progress.total
	emit.stage(StageEvaluate, StatusDone, fmt.Sprintf("loss=%.4f accuracy=%.4f", record.Loss, record.Accuracy))

	emit.stage(StagePersist, StatusRunning, "")
	if err := scores.Persist(record, cfg.ScoresPath); err != nil {
		emit.stage(StagePersist, StatusFailed, err.Error())
		return result, err
	}
	emit.stage(StagePersist, StatusDone, cfg.ScoresPath)

	emit.stage(StageLogRun, StatusRunning, "")
	artifacts := []runlog.Artifact{runlog.ModelArtifact(cfg.ModelPath), runlog.ScoresArtifact(cfg.ScoresPath)}
	runID, err := deps.RunLogger.LogRun(ctx, cfg, record, artifacts)
	result.RunID = runID
	if err != nil {
		emit.stage(StageLogRun, StatusFailed, err.Error())
		return result, err
	}
	emit.stage(StageLogRun, StatusDone, runID)
	result.Duration = now().Sub(started)

	if deps.Metrics != nil {
		emit.stage(StagePushMetrics, StatusRunning, "")
		rep := metrics.Report{
			Experiment: cfg.Experiment,
			RunID:      runID,
			Record:     record,
			Samples:    result.Samples,
			Duration:   result.Duration,
			FinishedAt: now(),
		}
		if err := deps.Metrics.Push(ctx, rep); err != nil {
			log.Warn("metrics push failed", "error", err)
			result.Warnings = append(result.Warnings, err.Error())
			emit.stage(StagePushMetrics, StatusFailed, err.Error())
		} else {
			emit.stage(StagePushMetrics, StatusDone, "")
		}
	}

	if deps.Events != nil {
		emit.stage(StagePublish, StatusRunning, "")
		ev := notify.RunLogged{
			RunID:        runID,
			Experiment:   cfg.Experiment,
			ExperimentID: deps.ExperimentID,
			TrackingURI:  deps.TrackingURI,
			Loss:         record.Loss,
			Accuracy:     record.Accuracy,
			Params:       formatParams(cfg.Params()),
			LoggedAt:     now(),
		}
		if err := deps.Events.Publish(ctx, ev); err != nil {
			log.Warn("event publish failed", "error", err)
			result.Warnings = append(result.Warnings, err.Error())
			emit.stage(StagePublish, StatusFailed, err.Error())
		} else {
			emit.stage(StagePublish, StatusDone, "")
		}
	}

	log.Info("pipeline complete", "run_id", runID, "duration", result.Duration)
	return result, nil
}

func formatParams(params map[string]any) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for key, value := range params {
		out[key] = runlog.FormatParam(value)
	}
	return out
}
