package live

import (
	"evaltrack/internal/pipeline"
	"evaltrack/internal/scorer"
)

// EventKind identifies the type of live UI event.
type EventKind int

const (
	// EventStage delivers a stage status update.
	EventStage EventKind = iota
	// EventProgress delivers evaluation progress.
	EventProgress
	// EventEnd signals pipeline completion.
	EventEnd
)

// Event carries a UI update payload.
type Event struct {
	Kind     EventKind
	Stage    pipeline.StageEvent
	Progress scorer.Progress
	RunID    string
	Warnings []string
	Error    string
}
