// Package runquery reads the run history of an experiment back as sparse,
// name-keyed views.
package runquery

import (
	"context"
	"fmt"
	"sort"

	apperrors "evaltrack/internal/pkg/errors"
	"evaltrack/internal/tracking"
)

// pageSize is the search page size used when scanning the whole history.
const pageSize = 500

// RunView is one run with its parameters and metrics addressable by name.
type RunView struct {
	tracking.Run
}

// Metric returns the metric value and whether the run logged it.
func (v RunView) Metric(name string) (float64, bool) {
	value, ok := v.Data.Metrics[name]
	return value, ok
}

// Param returns the parameter value and whether the run logged it.
func (v RunView) Param(name string) (string, bool) {
	value, ok := v.Data.Params[name]
	return value, ok
}

// ParamNames returns the run's parameter names in sorted order.
func (v RunView) ParamNames() []string {
	return sortedKeys(v.Data.Params)
}

// MetricNames returns the run's metric names in sorted order.
func (v RunView) MetricNames() []string {
	return sortedKeys(v.Data.Metrics)
}

// Summary aggregates one metric over the runs that logged it.
type Summary struct {
	Metric string
	Count  int
	Mean   float64
	Min    float64
	Max    float64
}

// Query reads runs through a session.
type Query struct {
	session *tracking.Session
}

// New returns a Query over session's experiment.
func New(session *tracking.Session) *Query {
	return &Query{session: session}
}

// ListRecent returns up to limit runs, most recent start first. Runs with
// equal start times keep the order the store returned.
func (q *Query) ListRecent(ctx context.Context, limit int) ([]RunView, error) {
	if limit <= 0 {
		return nil, apperrors.ValidationError(fmt.Sprintf("limit must be positive, got %d", limit))
	}
	page, err := q.session.SearchRuns(ctx, []string{tracking.OrderByStartTimeDesc}, limit, "")
	if err != nil {
		return nil, fmt.Errorf("search runs: %w", err)
	}
	runs := page.Runs
	tracking.SortByStartDesc(runs)
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return views(runs), nil
}

// All returns every run of the experiment, most recent first.
func (q *Query) All(ctx context.Context) ([]RunView, error) {
	var runs []tracking.Run
	token := ""
	for {
		page, err := q.session.SearchRuns(ctx, []string{tracking.OrderByStartTimeDesc}, pageSize, token)
		if err != nil {
			return nil, fmt.Errorf("search runs: %w", err)
		}
		runs = append(runs, page.Runs...)
		if page.NextPageToken == "" || len(page.Runs) == 0 {
			break
		}
		token = page.NextPageToken
	}
	tracking.SortByStartDesc(runs)
	return views(runs), nil
}

// Summarize aggregates metric over every run that logged it. Runs without the
// metric are skipped rather than counted as zero; NO_DATA is returned when no
// run has it.
func (q *Query) Summarize(ctx context.Context, metric string) (Summary, error) {
	runs, err := q.All(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(runs, metric)
}

// Summarize aggregates metric over runs.
func Summarize(runs []RunView, metric string) (Summary, error) {
	summary := Summary{Metric: metric}
	var sum float64
	for _, run := range runs {
		value, ok := run.Metric(metric)
		if !ok {
			continue
		}
		if summary.Count == 0 || value < summary.Min {
			summary.Min = value
		}
		if summary.Count == 0 || value > summary.Max {
			summary.Max = value
		}
		sum += value
		summary.Count++
	}
	if summary.Count == 0 {
		return Summary{}, apperrors.NoDataError(metric)
	}
	summary.Mean = sum / float64(summary.Count)
	return summary, nil
}

func views(runs []tracking.Run) []RunView {
	out := make([]RunView, len(runs))
	for i, run := range runs {
		out[i] = RunView{Run: run}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
