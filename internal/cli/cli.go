package cli

import (
	"fmt"
	"io"
)

const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

type Command struct {
	Name    string
	Summary string
	Usage   []string
	Run     func(args []string, stdout, stderr io.Writer) int
}

func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stdout)
		return ExitUsage
	}
	if isHelpArg(args[0]) {
		printUsage(stdout)
		return ExitOK
	}

	cmd := findCommand(args[0])
	if cmd == nil {
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return ExitUsage
	}

	return cmd.Run(args[1:], stdout, stderr)
}

func findCommand(name string) *Command {
	for _, cmd := range commands {
		if cmd.Name == name {
			return cmd
		}
	}
	return nil
}

func isHelpArg(arg string) bool {
	switch arg {
	case "-h", "--help", "help":
		return true
	default:
		return false
	}
}

func wantsHelp(args []string) bool {
	for _, arg := range args {
		switch arg {
		case "-h", "--help":
			return true
		}
	}
	return false
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  evaltrack <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-9s %s\n", cmd.Name, cmd.Summary)
	}
	fmt.Fprintln(w, "\nUse \"evaltrack <command> --help\" for more information.")
}

func printCommandUsage(cmd *Command, w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	for _, line := range cmd.Usage {
		fmt.Fprintf(w, "  %s\n", line)
	}
	if cmd.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", cmd.Summary)
	}
}

func runNotImplemented(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}
		fmt.Fprintf(stderr, "evaltrack %s is not implemented yet\n", cmd.Name)
		return ExitError
	}
}

func command(name, summary string, usage []string, runner func(cmd *Command) func(args []string, stdout, stderr io.Writer) int) *Command {
	cmd := &Command{
		Name:    name,
		Summary: summary,
		Usage:   usage,
	}
	if runner == nil {
		cmd.Run = runNotImplemented(cmd)
	} else {
		cmd.Run = runner(cmd)
	}
	return cmd
}

var commands = []*Command{
	command("init", "Scaffold .evaltrack/config.yml", []string{
		"evaltrack init [--config <path>]",
	}, runInit),
	command("validate", "Validate the config file", []string{
		"evaltrack validate [--config <path>]",
	}, runValidate),
	command("evaluate", "Evaluate the model, write scores.json and log a run", []string{
		"evaltrack evaluate [--config <path>] [--param key=value]... [--ui auto|live|plain]",
	}, runEvaluate),
	command("scores", "Print the latest scores.json", []string{
		"evaltrack scores [--config <path>] [--json]",
	}, runScores),
	command("runs", "List the most recent runs", []string{
		"evaltrack runs [--config <path>] [--limit <n>]",
	}, runRuns),
	command("summary", "Summarize accuracy and loss across runs", []string{
		"evaltrack summary [--config <path>]",
	}, runSummary),
	command("compare", "Compare metrics and params of two runs", []string{
		"evaltrack compare --base <run-id> --head <run-id>",
	}, runCompare),
	command("export", "Export the run history to a DuckDB file", []string{
		"evaltrack export [--config <path>] [--output <runs.duckdb>]",
	}, runExport),
	command("serve", "Serve the HTML report and DuckDB export", []string{
		"evaltrack serve [--config <path>] [--addr <host:port>] [<runs.duckdb>]",
	}, runServe),
}
