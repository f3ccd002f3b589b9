package live

import (
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"evaltrack/internal/pipeline"
	"evaltrack/internal/scorer"
)

// Controller runs the live UI and implements pipeline.Observer.
type Controller struct {
	events    chan Event
	program   *tea.Program
	done      chan struct{}
	closeOnce sync.Once
}

// Start launches a live UI controller that writes to stdout.
func Start(stdout io.Writer, opts Options) *Controller {
	if stdout == nil {
		stdout = os.Stdout
	}
	events := make(chan Event, 256)
	model := NewModel(events, opts)
	program := tea.NewProgram(model, tea.WithOutput(stdout), tea.WithInput(nil))
	controller := &Controller{
		events:  events,
		program: program,
		done:    make(chan struct{}),
	}
	go func() {
		_, _ = program.Run()
		close(controller.done)
	}()
	return controller
}

// Close signals the UI to stop.
func (c *Controller) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.events)
	})
}

// Wait blocks until the UI has exited.
func (c *Controller) Wait() {
	if c == nil {
		return
	}
	<-c.done
}

// OnStage forwards stage updates to the UI.
func (c *Controller) OnStage(event pipeline.StageEvent) {
	c.send(Event{Kind: EventStage, Stage: event})
}

// OnProgress forwards evaluation progress to the UI.
func (c *Controller) OnProgress(progress scorer.Progress) {
	c.send(Event{Kind: EventProgress, Progress: progress})
}

// OnEnd forwards completion to the UI and closes it.
func (c *Controller) OnEnd(result pipeline.Result, err error) {
	event := Event{Kind: EventEnd, RunID: result.RunID, Warnings: result.Warnings}
	if err != nil {
		event.Error = err.Error()
	}
	c.send(event)
	c.Close()
}

// send enqueues an event without blocking the caller.
func (c *Controller) send(event Event) {
	if c == nil {
		return
	}
	select {
	case c.events <- event:
	default:
	}
}
