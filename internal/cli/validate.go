package cli

import (
	"flag"
	"fmt"
	"io"

	"evaltrack/internal/config"
)

// runValidate builds the handler for the validate command.
func runValidate(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}

		flags := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		flags.SetOutput(stderr)
		configPath := flags.String("config", "", "Path to config file (default: search for .evaltrack/config.yml)")
		if code, ok := parseFlags(cmd, flags, args, 0, stdout, stderr); !ok {
			return code
		}

		resolved, err := resolveConfigPath(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Validation failed:\n%v\n", err)
			return ExitError
		}
		cfg, err := config.Load(resolved)
		if err != nil {
			fmt.Fprintf(stderr, "Validation failed:\n%s\n", err.Error())
			return ExitError
		}

		eval := cfg.Resolve(config.RepoRootFromConfigPath(resolved))
		fmt.Fprintln(stdout, "Config OK")
		fmt.Fprintf(stdout, "  model:      %s\n", eval.ModelPath)
		fmt.Fprintf(stdout, "  data:       %s\n", eval.ValidationDataPath)
		fmt.Fprintf(stdout, "  tracking:   %s (experiment %s)\n", cfg.Tracking.URI, cfg.Tracking.Experiment)
		fmt.Fprintf(stdout, "  params:     %d\n", len(cfg.Params))
		return ExitOK
	}
}
