package report

import (
	"fmt"
	"io"
	"sort"

	"evaltrack/internal/runquery"
)

// MetricDelta compares one metric across two runs.
type MetricDelta struct {
	Name       string
	Base, Head float64
	InBase     bool
	InHead     bool
}

// Delta returns head minus base; ok is false unless both runs logged it.
func (d MetricDelta) Delta() (float64, bool) {
	if !d.InBase || !d.InHead {
		return 0, false
	}
	return d.Head - d.Base, true
}

// ParamChange is a parameter whose value differs between two runs. An empty
// side means the run did not log it.
type ParamChange struct {
	Name       string
	Base, Head string
}

// Comparison is the difference between a base and a head run.
type Comparison struct {
	Base    runquery.RunView
	Head    runquery.RunView
	Metrics []MetricDelta
	Params  []ParamChange
}

// Compare diffs the metrics and parameters of two runs.
func Compare(base, head runquery.RunView) Comparison {
	cmp := Comparison{Base: base, Head: head}
	for _, name := range unionNames(base.MetricNames(), head.MetricNames()) {
		b, inBase := base.Metric(name)
		h, inHead := head.Metric(name)
		cmp.Metrics = append(cmp.Metrics, MetricDelta{Name: name, Base: b, Head: h, InBase: inBase, InHead: inHead})
	}
	for _, name := range unionNames(base.ParamNames(), head.ParamNames()) {
		b, _ := base.Param(name)
		h, _ := head.Param(name)
		if b != h {
			cmp.Params = append(cmp.Params, ParamChange{Name: name, Base: b, Head: h})
		}
	}
	return cmp
}

// WriteComparison prints metric deltas followed by changed parameters.
func WriteComparison(w io.Writer, cmp Comparison, opts Options) error {
	lines := []string{
		bold("Base "+cmp.Base.Info.RunID, opts.NoColor) + " started " + formatTime(cmp.Base.Info.StartTime),
		bold("Head "+cmp.Head.Info.RunID, opts.NoColor) + " started " + formatTime(cmp.Head.Info.StartTime),
	}
	for _, m := range cmp.Metrics {
		delta := "n/a"
		if d, ok := m.Delta(); ok {
			delta = fmt.Sprintf("%+.4f", d)
		}
		lines = append(lines, fmt.Sprintf("  %s: %s -> %s (%s)", m.Name, formatMetric(m.Base, m.InBase), formatMetric(m.Head, m.InHead), delta))
	}
	if len(cmp.Params) == 0 {
		lines = append(lines, "  params: unchanged")
	}
	for _, p := range cmp.Params {
		lines = append(lines, fmt.Sprintf("  param %s: %s -> %s", p.Name, orDash(p.Base), orDash(p.Head)))
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

func unionNames(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, name := range list {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
