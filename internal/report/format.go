package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"evaltrack/internal/runquery"
)

// ParamLimit is the number of parameters shown per run.
const ParamLimit = 5

// Options controls text rendering.
type Options struct {
	NoColor bool
}

// formatMetric renders a metric value to 4 decimals, or "-" when absent.
func formatMetric(value float64, ok bool) string {
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.4f", value)
}

// formatTime renders a run timestamp in UTC.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// formatParams renders the first ParamLimit parameters in name order.
func formatParams(run runquery.RunView) string {
	names := run.ParamNames()
	if len(names) == 0 {
		return "-"
	}
	shown := names[:min(len(names), ParamLimit)]
	parts := make([]string, 0, len(shown)+1)
	for _, name := range shown {
		value, _ := run.Param(name)
		parts = append(parts, name+"="+value)
	}
	if extra := len(names) - len(shown); extra > 0 {
		parts = append(parts, fmt.Sprintf("(+%d more)", extra))
	}
	return strings.Join(parts, " ")
}

// stylize applies optional color styling.
func stylize(text string, noColor bool, color lipgloss.Color) string {
	if noColor {
		return text
	}
	return lipgloss.NewStyle().Foreground(color).Render(text)
}

func bold(text string, noColor bool) string {
	if noColor {
		return text
	}
	return lipgloss.NewStyle().Bold(true).Render(text)
}
