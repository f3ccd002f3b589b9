package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"evaltrack/internal/scores"
)

// runScores builds the handler for the scores command.
func runScores(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}

		flags := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		flags.SetOutput(stderr)
		configPath := flags.String("config", "", "Path to config file (default: search for .evaltrack/config.yml)")
		asJSON := flags.Bool("json", false, "Print the raw scores document")
		if code, ok := parseFlags(cmd, flags, args, 0, stdout, stderr); !ok {
			return code
		}

		ws, err := loadWorkspace(*configPath, false, stderr)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
			return ExitError
		}
		path := ws.evaluation().ScoresPath
		record, err := scores.Load(path)
		if err != nil {
			return reportFailure(stderr, "Scores", err)
		}

		if *asJSON {
			encoder := json.NewEncoder(stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(record); err != nil {
				return reportFailure(stderr, "Scores", err)
			}
			return ExitOK
		}
		fmt.Fprintf(stdout, "Scores:   %s\n", path)
		fmt.Fprintf(stdout, "Loss:     %.4f\n", record.Loss)
		fmt.Fprintf(stdout, "Accuracy: %.4f\n", record.Accuracy)
		return ExitOK
	}
}
