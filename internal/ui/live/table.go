package live

import (
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"evaltrack/internal/pipeline"
)

// tableStyles returns table styles for the UI.
func tableStyles(noColor bool) table.Styles {
	if noColor {
		return table.DefaultStyles()
	}
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Foreground(lipgloss.Color("252"))
	return styles
}

// columnsForWidth sizes the detail column to the terminal width.
func columnsForWidth(width int) []table.Column {
	detail := 48
	if width > 0 {
		detail = max(width-14-10-10-6, 16)
	}
	return []table.Column{
		{Title: "Stage", Width: 14},
		{Title: "Status", Width: 10},
		{Title: "Time", Width: 10},
		{Title: "Detail", Width: detail},
	}
}

// rowsForState converts UI state into table rows.
func rowsForState(state State, now time.Time, noColor bool) []table.Row {
	rows := make([]table.Row, 0, len(state.Rows))
	for _, row := range state.Rows {
		rows = append(rows, table.Row{
			string(row.Stage),
			stylizeStatus(string(row.Status), row.Status, noColor),
			formatRowDuration(row, now),
			row.Detail,
		})
	}
	return rows
}

// formatRowDuration returns elapsed or total time for a row.
func formatRowDuration(row StageRow, now time.Time) string {
	if row.StartedAt.IsZero() {
		return ""
	}
	end := now
	if !row.FinishedAt.IsZero() {
		end = row.FinishedAt
	}
	return end.Sub(row.StartedAt).Round(100 * time.Millisecond).String()
}

// stylizeStatus applies status coloring when enabled.
func stylizeStatus(text string, status pipeline.StageStatus, noColor bool) string {
	if noColor {
		return text
	}
	color := lipgloss.Color("246")
	switch status {
	case pipeline.StatusRunning:
		color = lipgloss.Color("33")
	case pipeline.StatusDone:
		color = lipgloss.Color("42")
	case pipeline.StatusFailed:
		color = lipgloss.Color("196")
	}
	return lipgloss.NewStyle().Foreground(color).Render(text)
}
