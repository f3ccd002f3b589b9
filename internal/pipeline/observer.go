package pipeline

import (
	"time"

	"evaltrack/internal/scorer"
)

// Stage names one step of the pipeline.
type Stage string

const (
	StageLoadModel   Stage = "load_model"
	StageEvaluate    Stage = "evaluate"
	StagePersist     Stage = "persist"
	StageLogRun      Stage = "log_run"
	StagePushMetrics Stage = "push_metrics"
	StagePublish     Stage = "publish"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageLoadModel, StageEvaluate, StagePersist, StageLogRun, StagePushMetrics, StagePublish}

// StageStatus is the state of a stage.
type StageStatus string

const (
	// StatusPending marks a stage not yet reached.
	StatusPending StageStatus = "pending"
	// StatusRunning marks the active stage.
	StatusRunning StageStatus = "running"
	// StatusDone marks a completed stage.
	StatusDone StageStatus = "done"
	// StatusFailed marks a failed stage.
	StatusFailed StageStatus = "failed"
)

// StageEvent carries a single status update for a stage.
type StageEvent struct {
	Stage     Stage
	Status    StageStatus
	Detail    string
	EmittedAt time.Time
}

// Observer receives pipeline events for UI or logging. Calls are made on the
// pipeline goroutine; implementations must not block.
type Observer interface {
	// OnStage delivers a stage status update.
	OnStage(event StageEvent)
	// OnProgress delivers evaluation progress after each batch.
	OnProgress(progress scorer.Progress)
	// OnEnd signals completion; err is nil on success.
	OnEnd(result Result, err error)
}

// notifier forwards to an optional observer.
type notifier struct {
	observer Observer
	now      func() time.Time
}

func (n notifier) stage(stage Stage, status StageStatus, detail string) {
	if n.observer == nil {
		return
	}
	n.observer.OnStage(StageEvent{Stage: stage, Status: status, Detail: detail, EmittedAt: n.now()})
}

func (n notifier) progress(progress scorer.Progress) {
	if n.observer == nil {
		return
	}
	n.observer.OnProgress(progress)
}

func (n notifier) end(result Result, err error) {
	if n.observer == nil {
		return
	}
	n.observer.OnEnd(result, err)
}

// progressAdapter implements scorer.Observer.
type progressAdapter struct {
	notifier notifier
	total    int
}

func (a *progressAdapter) OnEvaluationStart(total, batches int) {
	a.total = total
	a.notifier.progress(scorer.Progress{Batches: batches, Total: total})
}

func (a *progressAdapter) OnBatch(progress scorer.Progress) {
	a.notifier.progress(progress)
}
