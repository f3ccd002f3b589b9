package reportserver

import (
	"errors"
	"net/http"

	apperrors "evaltrack/internal/pkg/errors"
	"evaltrack/internal/pkg/logger"
	"evaltrack/internal/report"
)

// DataPath is where the DuckDB export is served.
const DataPath = "/data/runs.duckdb"

// NewHandler builds the HTTP handler for serving the report page and DuckDB file.
func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("reportserver: db path is required")
	}
	if cfg.Page == nil {
		return nil, errors.New("reportserver: page source is required")
	}
	log := logger.OrDiscard(cfg.Logger).WithComponent("reportserver")

	mux := http.NewServeMux()
	mux.Handle("GET /{$}", serveIndex(cfg.Page, log))
	mux.Handle(DataPath, serveDatabase(cfg.DBPath))
	return mux, nil
}

// serveIndex renders the report page from the current run history.
func serveIndex(page PageSource, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := page(r.Context())
		if err != nil {
			log.Warn("build report page", "error", err)
			apperrors.WriteError(w, err)
			return
		}
		if data.DataURL == "" {
			data.DataURL = DataPath
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := report.ReportPage(data).Render(r.Context(), w); err != nil {
			log.Warn("render report page", "error", err)
		}
	})
}

// serveDatabase serves the DuckDB file from disk for download.
func serveDatabase(dbPath string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, dbPath)
	})
}
