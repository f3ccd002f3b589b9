package report

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"evaltrack/internal/runquery"
	"evaltrack/internal/tracking"
)

func view(id string, start time.Time, metrics map[string]float64, params map[string]string) runquery.RunView {
	return runquery.RunView{Run: tracking.Run{
		Info: tracking.RunInfo{RunID: id, Status: tracking.RunStatusFinished, StartTime: start},
		Data: tracking.RunData{Metrics: metrics, Params: params},
	}}
}

var start = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// TestWriteRunsFormatsMetricsAndParams verifies 4-decimal metrics and the
// parameter limit.
func TestWriteRunsFormatsMetricsAndParams(t *testing.T) {
	params := map[string]string{"a": "1", "b": "2", "c": "3", "d": "4", "e": "5", "f": "6", "g": "7"}
	runs := []runquery.RunView{
		view("run-1", start, map[string]float64{"accuracy": 0.912345, "loss": 0.25}, params),
		view("run-2", start, map[string]float64{"loss": 0.5}, nil),
	}
	var out bytes.Buffer
	if err := WriteRuns(&out, runs, Options{NoColor: true}); err != nil {
		t.Fatalf("write runs: %v", err)
	}
	text := out.String()
	for _, want := range []string{
		"Run run-1",
		"Status:   FINISHED",
		"Start:    2024-05-01 09:00:00",
		"Accuracy: 0.9123",
		"Loss:     0.2500",
		"Params:   a=1 b=2 c=3 d=4 e=5 (+2 more)",
		"Accuracy: -",
		"Params:   -",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
	if strings.Contains(text, "f=6") {
		t.Fatalf("expected params beyond the limit to be hidden:\n%s", text)
	}
}

// TestWriteRunsEmpty verifies the empty-history hint.
func TestWriteRunsEmpty(t *testing.T) {
	var out bytes.Buffer
	if err := WriteRuns(&out, nil, Options{NoColor: true}); err != nil {
		t.Fatalf("write runs: %v", err)
	}
	if strings.TrimSpace(out.String()) != NoRunsMessage {
		t.Fatalf("unexpected output %q", out.String())
	}
}

// TestSummarizeResolvesBestByGoal verifies accuracy prefers max and loss min.
func TestSummarizeResolvesBestByGoal(t *testing.T) {
	runs := []runquery.RunView{
		view("r1", start, map[string]float64{"accuracy": 0.1, "loss": 0.9}, nil),
		view("r2", start, map[string]float64{"accuracy": 0.5, "loss": 0.4}, nil),
		view("r3", start, map[string]float64{"accuracy": 0.9, "loss": 0.2}, nil),
	}
	summaries, err := Summarize(runs, append(DefaultSummaryMetrics, SummaryMetric{Name: "auc"}))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(summaries))
	}
	accuracy, loss, auc := summaries[0], summaries[1], summaries[2]
	if accuracy.Best != 0.9 || accuracy.Worst != 0.1 || accuracy.Count != 3 {
		t.Fatalf("unexpected accuracy summary %#v", accuracy)
	}
	if loss.Best != 0.2 || loss.Worst != 0.9 {
		t.Fatalf("unexpected loss summary %#v", loss)
	}
	if !auc.NoData {
		t.Fatalf("expected auc to have no data")
	}

	var out bytes.Buffer
	if err := WriteSummary(&out, summaries, Options{NoColor: true}); err != nil {
		t.Fatalf("write summary: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "accuracy: runs 3 mean 0.5000 best 0.9000 worst 0.1000") {
		t.Fatalf("unexpected summary output:\n%s", text)
	}
	if !strings.Contains(text, "auc: no runs have logged this metric") {
		t.Fatalf("expected no-data message:\n%s", text)
	}
}

// TestCompareReportsDeltas verifies metric deltas and changed params.
func TestCompareReportsDeltas(t *testing.T) {
	base := view("base", start, map[string]float64{"accuracy": 0.8, "loss": 0.4}, map[string]string{"epochs": "5", "lr": "0.01"})
	head := view("head", start.Add(time.Hour), map[string]float64{"accuracy": 0.85}, map[string]string{"epochs": "10", "lr": "0.01", "seed": "7"})

	cmp := Compare(base, head)
	if len(cmp.Metrics) != 2 {
		t.Fatalf("expected 2 metrics, got %#v", cmp.Metrics)
	}
	if d, ok := cmp.Metrics[0].Delta(); !ok || d < 0.0499 || d > 0.0501 {
		t.Fatalf("unexpected accuracy delta %v %v", d, ok)
	}
	if _, ok := cmp.Metrics[1].Delta(); ok {
		t.Fatalf("expected loss delta to be unavailable")
	}
	if len(cmp.Params) != 2 || cmp.Params[0].Name != "epochs" || cmp.Params[1].Name != "seed" {
		t.Fatalf("unexpected param changes %#v", cmp.Params)
	}

	var out bytes.Buffer
	if err := WriteComparison(&out, cmp, Options{NoColor: true}); err != nil {
		t.Fatalf("write comparison: %v", err)
	}
	for _, want := range []string{"accuracy: 0.8000 -> 0.8500 (+0.0500)", "loss: 0.4000 -> - (n/a)", "param seed: - -> 7"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in:\n%s", want, out.String())
		}
	}
}

// TestRenderHTMLEscapesAndMarksMissing verifies the HTML page content.
func TestRenderHTMLEscapesAndMarksMissing(t *testing.T) {
	runs := []runquery.RunView{
		view("run-1", start, map[string]float64{"accuracy": 0.9}, map[string]string{"optimizer": "<adam>"}),
		view("run-2", start, map[string]float64{"loss": 0.3}, nil),
	}
	summaries, err := Summarize(runs, DefaultSummaryMetrics)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	html, err := RenderHTML(context.Background(), PageData{
		Experiment: "chest-ct",
		Runs:       runs,
		Summaries:  summaries,
		DataURL:    "/data/runs.duckdb",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, token := range []string{"<table", "run-1", "run-2", "metrics.accuracy", "params.optimizer", "&lt;adam&gt;", `class="missing"`, "/data/runs.duckdb"} {
		if !strings.Contains(html, token) {
			t.Fatalf("expected report to include %s", token)
		}
	}
	if strings.Contains(html, "<adam>") {
		t.Fatalf("expected param values to be escaped")
	}
}

// TestReportPageSummaryAndEmptyHistory verifies the summary table and the
// empty run list.
func TestReportPageSummaryAndEmptyHistory(t *testing.T) {
	var out strings.Builder
	err := ReportPage(PageData{
		Experiment:  "chest-ct",
		TrackingURI: "http://tracking:5000",
		GeneratedAt: start,
		Summaries: []MetricSummary{
			{Summary: runquery.Summary{Metric: "accuracy", Count: 2, Mean: 0.85}, Best: 0.9, Worst: 0.8},
			{Summary: runquery.Summary{Metric: "loss"}, NoData: true},
		},
	}).Render(context.Background(), &out)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	html := out.String()
	for _, token := range []string{
		"<title>evaltrack: chest-ct</title>",
		"0 runs from http://tracking:5000, generated 2024-05-01 09:00:00",
		"<td>accuracy</td><td>2</td><td>0.8500</td><td>0.9000</td><td>0.8000</td>",
		`<td>loss</td><td colspan="4" class="missing">no data</td>`,
		"<h2>Runs</h2><p>" + NoRunsMessage + "</p>",
	} {
		if !strings.Contains(html, token) {
			t.Fatalf("expected %q in:\n%s", token, html)
		}
	}
	if strings.Contains(html, "Download DuckDB export") {
		t.Fatalf("expected no export link without a data URL")
	}
}

// TestReportPageSanitizesDataURL verifies unsafe export links are replaced.
func TestReportPageSanitizesDataURL(t *testing.T) {
	html, err := RenderHTML(context.Background(), PageData{Experiment: "x", DataURL: "javascript:alert(1)"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(html, "javascript:") {
		t.Fatalf("expected the data URL to be sanitized:\n%s", html)
	}
	if !strings.Contains(html, "about:invalid#TemplFailedSanitizationURL") {
		t.Fatalf("expected the sanitized placeholder:\n%s", html)
	}
}
