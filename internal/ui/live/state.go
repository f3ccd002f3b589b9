package live

import (
	"time"

	"evaltrack/internal/pipeline"
	"evaltrack/internal/scorer"
)

// StageRow holds UI state for a single pipeline stage.
type StageRow struct {
	Stage      pipeline.Stage
	Status     pipeline.StageStatus
	Detail     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// State captures the live UI state for one evaluation.
type State struct {
	Experiment string
	ModelPath  string
	StartedAt  time.Time
	Rows       []StageRow
	Progress   scorer.Progress
	RunID      string
	Warnings   []string
	Error      string
	Finished   bool
	LastEvent  string
}

// NewState returns a state with every stage pending.
func NewState(experiment, modelPath string) State {
	rows := make([]StageRow, len(pipeline.Stages))
	for i, stage := range pipeline.Stages {
		rows[i] = StageRow{Stage: stage, Status: pipeline.StatusPending}
	}
	return State{Experiment: experiment, ModelPath: modelPath, Rows: rows}
}

// Fraction reports evaluation progress in [0, 1].
func (s State) Fraction() float64 {
	if s.Progress.Total <= 0 {
		return 0
	}
	return min(float64(s.Progress.Samples)/float64(s.Progress.Total), 1)
}
