package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"evaltrack/internal/report"
	"evaltrack/internal/runquery"
)

// runCompare builds the handler for the compare command.
func runCompare(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}

		flags := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		flags.SetOutput(stderr)
		configPath := flags.String("config", "", "Path to config file (default: search for .evaltrack/config.yml)")
		baseID := flags.String("base", "", "Base run id")
		headID := flags.String("head", "", "Head run id")
		noColor := flags.Bool("no-color", false, "Disable ANSI colors")
		if code, ok := parseFlags(cmd, flags, args, 0, stdout, stderr); !ok {
			return code
		}
		base, head := strings.TrimSpace(*baseID), strings.TrimSpace(*headID)
		if base == "" || head == "" {
			fmt.Fprintln(stderr, "invalid arguments: --base and --head are required")
			printCommandUsage(cmd, stderr)
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
		if err != nil {
			return reportFailure(stderr, "Compare", err)
		}
		baseRun, err := session.GetRun(ctx, base)
		if err != nil {
			return reportFailure(stderr, "Compare", err)
		}
		headRun, err := session.GetRun(ctx, head)
		if err != nil {
			return reportFailure(stderr, "Compare", err)
		}

		cmp := report.Compare(runquery.RunView{Run: baseRun}, runquery.RunView{Run: headRun})
		if err := report.WriteComparison(stdout, cmp, report.Options{NoColor: *noColor}); err != nil {
			return reportFailure(stderr, "Compare", err)
		}
		return ExitOK
	}
}
