// Package reportserver serves the HTML run report and the DuckDB export over
// HTTP.
package reportserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"evaltrack/internal/pkg/logger"
	"evaltrack/internal/report"
)

// PageSource builds the report content for one request.
type PageSource func(ctx context.Context) (report.PageData, error)

// Config captures the settings for serving a report.
type Config struct {
	Addr   string
	DBPath string
	Page   PageSource
	Logger *logger.Logger
}

// Serve starts an HTTP server that hosts the report and data endpoints and
// shuts it down when ctx is cancelled.
func Serve(ctx context.Context, cfg Config) error {
	if ctx == nil {
		return errors.New("reportserver: context is nil")
	}
	if cfg.Addr == "" {
		return errors.New("reportserver: addr is required")
	}
	handler, err := NewHandler(cfg)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.OrDiscard(cfg.Logger).WithComponent("reportserver").Info("serving report", "addr", cfg.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		err := <-errCh
		if errors.Is(err, http.ErrServerClosed) || err == nil {
			return nil
		}
		return err
	}
}
