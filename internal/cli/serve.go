package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"evaltrack/internal/report"
	"evaltrack/internal/reportserver"
	"evaltrack/internal/runquery"
	"evaltrack/internal/tracking"
)

// serveReport is a test seam for running the report server.
var serveReport = reportserver.Serve

// runServe builds the handler for the serve command.
func runServe(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}

		fs := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		fs.SetOutput(stderr)
		configPath := fs.String("config", "", "Path to config file (default: search for .evaltrack/config.yml)")
		addr := fs.String("addr", "127.0.0.1:5000", "Address to listen on")
		if code, ok := parseFlags(cmd, fs, args, 1, stdout, stderr); !ok {
			return code
		}
		if *addr == "" {
			fmt.Fprintln(stderr, "Missing --addr")
			return ExitUsage
		}

		ws, err := loadWorkspace(*configPath, false, stderr)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
			return ExitError
		}

		dbPath := fs.Arg(0)
		if dbPath != "" {
			if _, err := os.Stat(dbPath); err != nil {
				fmt.Fprintf(stderr, "Database not found: %v\n", err)
				return ExitError
			}
		}

		ctx, stop := commandContext()
		defer stop()

		session, err := ws.openReadSession(ctx)
		if err != nil {
			return reportFailure(stderr, "Serve", err)
		}

		if dbPath == "" {
			dbPath = ws.exportPath("")
			result, err := exportRuns(ctx, session, dbPath)
			if err != nil {
				return reportFailure(stderr, "Serve", err)
			}
			fmt.Fprintf(stdout, "Exported %d runs to %s\n", result.Runs, dbPath)
		}

		cfg := reportserver.Config{
			Addr:   *addr,
			DBPath: dbPath,
			Page:   sessionPage(session),
			Logger: ws.log,
		}
		fmt.Fprintf(stdout, "Serving report at http://%s\n", cfg.Addr)
		if err := serveReport(ctx, cfg); err != nil {
			fmt.Fprintf(stderr, "Server error: %v\n", err)
			return ExitError
		}
		return ExitOK
	}
}

// sessionPage reads the run history fresh on every request.
func sessionPage(session *tracking.Session) reportserver.PageSource {
	query := runquery.New(session)
	return func(ctx context.Context) (report.PageData, error) {
		runs, err := query.All(ctx)
		if err != nil {
			return report.PageData{}, err
		}
		summaries, err := report.Summarize(runs, report.DefaultSummaryMetrics)
		if err != nil {
			return report.PageData{}, err
		}
		return report.PageData{
			Experiment:  session.Experiment().Name,
			TrackingURI: session.TrackingURI(),
			GeneratedAt: time.Now().UTC(),
			Runs:        runs,
			Summaries:   summaries,
			DataURL:     reportserver.DataPath,
		}, nil
	}
}
