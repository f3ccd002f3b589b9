package live

import (
	"fmt"

	"evaltrack/internal/pipeline"
)

// Reduce applies an event to the UI state.
func Reduce(state State, event Event) State {
	switch event.Kind {
	case EventStage:
		state = applyStage(state, event.Stage)
	case EventProgress:
		state.Progress = event.Progress
		if event.Progress.Batch > 0 {
			state.LastEvent = fmt.Sprintf("batch %d/%d scored", event.Progress.Batch, event.Progress.Batches)
		}
	case EventEnd:
		state.Finished = true
		state.RunID = event.RunID
		state.Warnings = event.Warnings
		state.Error = event.Error
		if event.Error != "" {
			state.LastEvent = "failed: " + event.Error
		} else {
			state.LastEvent = "run " + event.RunID + " logged"
		}
	}
	return state
}

// applyStage updates the row of the event's stage, adding one for unknown
// stages.
func applyStage(state State, event pipeline.StageEvent) State {
	index := -1
	for i, row := range state.Rows {
		if row.Stage == event.Stage {
			index = i
			break
		}
	}
	if index < 0 {
		state.Rows = append(state.Rows, StageRow{Stage: event.Stage})
		index = len(state.Rows) - 1
	}
	row := state.Rows[index]
	row.Status = event.Status
	if event.Detail != "" {
		row.Detail = event.Detail
	}
	switch event.Status {
	case pipeline.StatusRunning:
		row.StartedAt = event.EmittedAt
		if state.StartedAt.IsZero() {
			state.StartedAt = event.EmittedAt
		}
	case pipeline.StatusDone, pipeline.StatusFailed:
		row.FinishedAt = event.EmittedAt
	}
	state.Rows[index] = row
	state.LastEvent = formatStageEvent(event)
	return state
}

func formatStageEvent(event pipeline.StageEvent) string {
	switch event.Status {
	case pipeline.StatusFailed:
		return fmt.Sprintf("%s failed: %s", event.Stage, event.Detail)
	case pipeline.StatusDone:
		return fmt.Sprintf("%s done", event.Stage)
	default:
		return fmt.Sprintf("%s %s", event.Stage, event.Status)
	}
}
