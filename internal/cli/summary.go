package cli

import (
	"flag"
	"fmt"
	"io"

	apperrors "evaltrack/internal/pkg/errors"
	"evaltrack/internal/report"
	"evaltrack/internal/runquery"
)

// runSummary builds the handler for the summary command.
func runSummary(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}

		flags := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		flags.SetOutput(stderr)
		configPath := flags.String("config", "", "Path to config file (default: search for .evaltrack/config.yml)")
		noColor := flags.Bool("no-color", false, "Disable ANSI colors")
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
		if apperrors.IsNotFound(err) {
			fmt.Fprintln(stdout, report.NoRunsMessage)
			return ExitOK
		}
		if err != nil {
			return reportFailure(stderr, "Summary", err)
		}
		runs, err := runquery.New(session).All(ctx)
		if err != nil {
			return reportFailure(stderr, "Summary", err)
		}
		summaries, err := report.Summarize(runs, report.DefaultSummaryMetrics)
		if err != nil {
			return reportFailure(stderr, "Summary", err)
		}
		fmt.Fprintf(stdout, "Experiment %s (%d runs)\n", session.Experiment().Name, len(runs))
		if err := report.WriteSummary(stdout, summaries, report.Options{NoColor: *noColor}); err != nil {
			return reportFailure(stderr, "Summary", err)
		}
		return ExitOK
	}
}
