package runquery

import (
	"context"
	"strconv"
	"strings"
)

// Column prefixes of a projection.
const (
	MetricPrefix = "metrics."
	ParamPrefix  = "params."
)

// Cell is one projected value. Present is false when the run never logged the
// column.
type Cell struct {
	Value   string
	Present bool
}

// Projection is a sparse table of runs against the union of their metric and
// parameter names.
type Projection struct {
	Columns []string
	Runs    []RunView
}

// Projection returns every run of the experiment as a sparse table.
func (q *Query) Projection(ctx context.Context) (Projection, error) {
	runs, err := q.All(ctx)
	if err != nil {
		return Projection{}, err
	}
	return Project(runs), nil
}

// Project builds the column union for runs: metric columns first, then
// parameter columns, each sorted by name.
func Project(runs []RunView) Projection {
	metrics := map[string]struct{}{}
	params := map[string]struct{}{}
	for _, run := range runs {
		for name := range run.Data.Metrics {
			metrics[name] = struct{}{}
		}
		for name := range run.Data.Params {
			params[name] = struct{}{}
		}
	}
	columns := make([]string, 0, len(metrics)+len(params))
	for _, name := range sortedKeys(metrics) {
		columns = append(columns, MetricPrefix+name)
	}
	for _, name := range sortedKeys(params) {
		columns = append(columns, ParamPrefix+name)
	}
	return Projection{Columns: columns, Runs: runs}
}

// Cell returns the value of column for run i.
func (p Projection) Cell(i int, column string) Cell {
	run := p.Runs[i]
	if name, ok := strings.CutPrefix(column, MetricPrefix); ok {
		if value, present := run.Metric(name); present {
			return Cell{Value: strconv.FormatFloat(value, 'g', -1, 64), Present: true}
		}
		return Cell{}
	}
	if name, ok := strings.CutPrefix(column, ParamPrefix); ok {
		if value, present := run.Param(name); present {
			return Cell{Value: value, Present: true}
		}
	}
	return Cell{}
}
