// Package report renders run history for the terminal and as an HTML page.
package report

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"evaltrack/internal/runquery"
)

// NoRunsMessage is printed when an experiment has no runs.
const NoRunsMessage = "No runs found. Run `evaltrack evaluate` first."

// WriteRuns prints one block per run: id and name, status, start time,
// accuracy and loss, and the first parameters.
func WriteRuns(w io.Writer, runs []runquery.RunView, opts Options) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, NoRunsMessage)
		return err
	}
	for i, run := range runs {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		title := "Run " + run.Info.RunID
		if run.Info.RunName != "" {
			title += " (" + run.Info.RunName + ")"
		}
		accuracy, hasAccuracy := run.Metric("accuracy")
		loss, hasLoss := run.Metric("loss")
		lines := []string{
			bold(title, opts.NoColor),
			"  Status:   " + statusText(string(run.Info.Status), opts.NoColor),
			"  Start:    " + formatTime(run.Info.StartTime),
			"  Accuracy: " + formatMetric(accuracy, hasAccuracy),
			"  Loss:     " + formatMetric(loss, hasLoss),
			"  Params:   " + formatParams(run),
		}
		for _, line := range lines {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}

func statusText(status string, noColor bool) string {
	color := lipgloss.Color("246")
	switch status {
	case "FINISHED":
		color = lipgloss.Color("42")
	case "FAILED", "KILLED":
		color = lipgloss.Color("196")
	case "RUNNING":
		color = lipgloss.Color("33")
	}
	return stylize(status, noColor, color)
}
