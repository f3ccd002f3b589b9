package report

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	apperrors "evaltrack/internal/pkg/errors"
	"evaltrack/internal/runquery"
)

// MetricGoal says which extreme of a metric is better.
type MetricGoal int

const (
	// HigherIsBetter marks metrics such as accuracy.
	HigherIsBetter MetricGoal = iota
	// LowerIsBetter marks metrics such as loss.
	LowerIsBetter
)

// SummaryMetric names a metric and its goal.
type SummaryMetric struct {
	Name string
	Goal MetricGoal
}

// DefaultSummaryMetrics are the metrics every evaluation logs.
var DefaultSummaryMetrics = []SummaryMetric{
	{Name: "accuracy", Goal: HigherIsBetter},
	{Name: "loss", Goal: LowerIsBetter},
}

// MetricSummary is one metric's aggregate with best and worst resolved by
// goal. NoData is set when no run logged the metric.
type MetricSummary struct {
	runquery.Summary
	Goal   MetricGoal
	Best   float64
	Worst  float64
	NoData bool
}

// Summarize aggregates each metric over runs. Missing metrics produce a
// NoData entry; any other error is returned.
func Summarize(runs []runquery.RunView, metrics []SummaryMetric) ([]MetricSummary, error) {
	out := make([]MetricSummary, 0, len(metrics))
	for _, metric := range metrics {
		summary, err := runquery.Summarize(runs, metric.Name)
		if apperrors.IsNoData(err) {
			out = append(out, MetricSummary{Summary: runquery.Summary{Metric: metric.Name}, Goal: metric.Goal, NoData: true})
			continue
		}
		if err != nil {
			return nil, err
		}
		entry := MetricSummary{Summary: summary, Goal: metric.Goal, Best: summary.Max, Worst: summary.Min}
		if metric.Goal == LowerIsBetter {
			entry.Best, entry.Worst = summary.Min, summary.Max
		}
		out = append(out, entry)
	}
	return out, nil
}

// WriteSummary prints one line per metric.
func WriteSummary(w io.Writer, summaries []MetricSummary, opts Options) error {
	for _, s := range summaries {
		var line string
		if s.NoData {
			line = fmt.Sprintf("%s: no runs have logged this metric", s.Metric)
			line = stylize(line, opts.NoColor, lipgloss.Color("220"))
		} else {
			line = fmt.Sprintf("%s: runs %d mean %.4f best %.4f worst %.4f",
				bold(s.Metric, opts.NoColor), s.Count, s.Mean, s.Best, s.Worst)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
