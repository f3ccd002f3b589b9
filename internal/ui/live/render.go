package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// renderHeader renders the evaluation header line.
func renderHeader(state State, now time.Time, noColor bool) string {
	line := "Evaluating"
	if state.ModelPath != "" {
		line += " " + state.ModelPath
	}
	if state.Experiment != "" {
		line += " | Experiment: " + state.Experiment
	}
	if !state.StartedAt.IsZero() {
		line += " | Elapsed: " + now.Sub(state.StartedAt).Round(100*time.Millisecond).String()
	}
	return stylize(line, noColor, lipgloss.Color("33"))
}

func newProgressBar(noColor bool) progress.Model {
	if noColor {
		return progress.New(progress.WithSolidFill("7"), progress.WithWidth(40))
	}
	return progress.New(progress.WithDefaultGradient(), progress.WithWidth(40))
}

// renderProgress renders the sample progress bar.
func renderProgress(state State, bar progress.Model, noColor bool) string {
	if state.Progress.Total == 0 {
		return ""
	}
	counts := fmt.Sprintf(" %d/%d samples", state.Progress.Samples, state.Progress.Total)
	if noColor {
		return plainBar(state.Fraction(), bar.Width) + counts
	}
	return bar.ViewAs(state.Fraction()) + stylize(counts, noColor, lipgloss.Color("242"))
}

// plainBar draws an uncolored bar of width cells.
func plainBar(fraction float64, width int) string {
	if width <= 0 {
		width = 40
	}
	filled := int(fraction * float64(width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

// renderFooter renders the last event line and any warnings.
func renderFooter(state State, noColor bool) string {
	lines := make([]string, 0, 1+len(state.Warnings))
	if state.LastEvent != "" {
		lines = append(lines, stylize("Last event: "+state.LastEvent, noColor, lipgloss.Color("244")))
	}
	for _, warning := range state.Warnings {
		lines = append(lines, stylize("warning: "+warning, noColor, lipgloss.Color("220")))
	}
	return strings.Join(lines, "\n")
}

// stylize applies optional color styling.
func stylize(text string, noColor bool, color lipgloss.Color) string {
	if noColor {
		return text
	}
	return lipgloss.NewStyle().Foreground(color).Render(text)
}
