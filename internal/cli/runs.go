package cli

import (
	"flag"
	"fmt"
	"io"

	apperrors "evaltrack/internal/pkg/errors"
	"evaltrack/internal/report"
	"evaltrack/internal/runquery"
)

// defaultRunsLimit is the number of runs listed when --limit is absent.
const defaultRunsLimit = 5

// runRuns builds the handler for the runs command.
func runRuns(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}

		flags := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		flags.SetOutput(stderr)
		configPath := flags.String("config", "", "Path to config file (default: search for .evaltrack/config.yml)")
		limit := flags.Int("limit", defaultRunsLimit, "Number of runs to list")
		noColor := flags.Bool("no-color", false, "Disable ANSI colors")
		if code, ok := parseFlags(cmd, flags, args, 0, stdout, stderr); !ok {
			return code
		}
		if *limit <= 0 {
			fmt.Fprintf(stderr, "invalid arguments: --limit must be positive\n")
			return ExitUsage
		}

		ws, err := loadWorkspace(*configPath, false, stderr)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
			return ExitError
		}
		ctx, stop := commandContext()
		defer stop()

		session, err := ws.openReadSession(ctx)
		if apperrors.IsNotFound(err) {
			fmt.Fprintln(stdout, report.NoRunsMessage)
			return ExitOK
		}
		if err != nil {
			return reportFailure(stderr, "Runs", err)
		}
		runs, err := runquery.New(session).ListRecent(ctx, *limit)
		if err != nil {
			return reportFailure(stderr, "Runs", err)
		}
		if err := report.WriteRuns(stdout, runs, report.Options{NoColor: *noColor}); err != nil {
			return reportFailure(stderr, "Runs", err)
		}
		return ExitOK
	}
}
