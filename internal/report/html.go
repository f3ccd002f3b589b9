package report

//go:generate go run github.com/a-h/templ/cmd/templ@v0.3.977 generate -f page.templ

import (
	"context"
	"fmt"
	"strings"
	"time"

	"evaltrack/internal/runquery"
)

// PageData is the content of the HTML report.
type PageData struct {
	Experiment  string
	TrackingURI string
	GeneratedAt time.Time
	Runs        []runquery.RunView
	Summaries   []MetricSummary
	// DataURL links the DuckDB export when set.
	DataURL string
}

func headline(data PageData) string {
	return fmt.Sprintf("%d runs from %s, generated %s", len(data.Runs), data.TrackingURI, formatTime(data.GeneratedAt))
}

func decimal(value float64) string {
	return fmt.Sprintf("%.4f", value)
}

// RenderHTML renders the report page into a string.
func RenderHTML(ctx context.Context, data PageData) (string, error) {
	var builder strings.Builder
	if err := ReportPage(data).Render(ctx, &builder); err != nil {
		return "", err
	}
	return builder.String(), nil
}
