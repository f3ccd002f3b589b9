package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"evaltrack/internal/config"
	"evaltrack/internal/duckdb"
	"evaltrack/internal/runquery"
	"evaltrack/internal/tracking"
)

// defaultExportName is the DuckDB file written under .evaltrack.
const defaultExportName = "runs.duckdb"

// runExport builds the handler for the export command.
func runExport(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}

		flags := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		flags.SetOutput(stderr)
		configPath := flags.String("config", "", "Path to config file (default: search for .evaltrack/config.yml)")
		output := flags.String("output", "", "DuckDB file to write (default: .evaltrack/runs.duckdb)")
		if code, ok := parseFlags(cmd, flags, args, 0, stdout, stderr); !ok {
			return code
		}

		ws, err := loadWorkspace(*configPath, false, stderr)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
			return ExitError
		}
		ctx, stop := commandContext()
		defer stop()

		session, err := ws.openReadSession(ctx)
		if err != nil {
			return reportFailure(stderr, "Export", err)
		}
		path := ws.exportPath(*output)
		result, err := exportRuns(ctx, session, path)
		if err != nil {
			return reportFailure(stderr, "Export", err)
		}
		fmt.Fprintf(stdout, "Exported %d runs to %s (export %s)\n", result.Runs, path, result.ExportID)
		return ExitOK
	}
}

// exportPath resolves the DuckDB destination, defaulting to .evaltrack.
func (w workspace) exportPath(output string) string {
	value := strings.TrimSpace(output)
	if value == "" {
		return filepath.Join(config.ConfigDir(w.repoRoot), defaultExportName)
	}
	if filepath.IsAbs(value) {
		return value
	}
	if abs, err := filepath.Abs(value); err == nil {
		return abs
	}
	return value
}

// exportRuns copies the full run history of the session's experiment into the
// DuckDB file at path.
func exportRuns(ctx context.Context, session *tracking.Session, path string) (duckdb.ExportResult, error) {
	views, err := runquery.New(session).All(ctx)
	if err != nil {
		return duckdb.ExportResult{}, err
	}
	runs := make([]tracking.Run, len(views))
	for i, view := range views {
		runs[i] = view.Run
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return duckdb.ExportResult{}, fmt.Errorf("create export dir: %w", err)
	}
	return duckdb.WriteFile(ctx, path, duckdb.ExportInput{
		Experiment:  session.Experiment(),
		TrackingURI: session.TrackingURI(),
		Runs:        runs,
		ExportedAt:  time.Now().UTC(),
	})
}
