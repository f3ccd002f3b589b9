package cli

import (
	"flag"
	"fmt"
	"io"
	"maps"
	"strconv"
	"strings"

	"evaltrack/internal/metrics"
	"evaltrack/internal/notify"
	"evaltrack/internal/pipeline"
	"evaltrack/internal/pkg/logger"
	"evaltrack/internal/runlog"
	"evaltrack/internal/scorer"
	"evaltrack/internal/ui/live"
	"evaltrack/internal/vcs"
)

// runPipeline allows tests to replace the evaluation pipeline.
var runPipeline = pipeline.Run

// dialPublisher allows tests to replace the Kafka producer.
var dialPublisher = func(cfg notify.KafkaConfig) (pipeline.EventPublisher, func() error, error) {
	publisher, err := notify.Dial(cfg)
	if err != nil {
		return nil, nil, err
	}
	return publisher, publisher.Close, nil
}

// paramFlags collects repeated --param key=value flags.
type paramFlags map[string]any

func (p paramFlags) String() string {
	return fmt.Sprint(map[string]any(p))
}

func (p paramFlags) Set(value string) error {
	key, raw, ok := strings.Cut(value, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	p[key] = parseParamValue(strings.TrimSpace(raw))
	return nil
}

// parseParamValue keeps numbers and booleans typed so they are formatted the
// same way as values read from the config file.
func parseParamValue(raw string) any {
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

// runEvaluate builds the handler for the evaluate command.
func runEvaluate(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}

		flags := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		flags.SetOutput(stderr)
		configPath := flags.String("config", "", "Path to config file (default: search for .evaltrack/config.yml)")
		runName := flags.String("run-name", "", "Run name (overrides tracking.run_name)")
		uiMode := flags.String("ui", "auto", "UI mode: auto|live|plain")
		noColor := flags.Bool("no-color", false, "Disable ANSI colors")
		verbose := flags.Bool("verbose", false, "Log debug output to stderr")
		overrides := paramFlags{}
		flags.Var(overrides, "param", "Run parameter key=value (repeatable)")
		if code, ok := parseFlags(cmd, flags, args, 0, stdout, stderr); !ok {
			return code
		}

		decision, err := resolveUIMode(*uiMode, *verbose, stdout)
		if err != nil {
			fmt.Fprintf(stderr, "invalid arguments: %v\n", err)
			printCommandUsage(cmd, stderr)
			return ExitUsage
		}
		if decision.warning != "" {
			fmt.Fprintln(stderr, decision.warning)
		}

		ws, err := loadWorkspace(*configPath, *verbose, stderr)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
			return ExitError
		}
		cfg := ws.evaluation()
		if len(overrides) > 0 {
			params := cfg.Params()
			if params == nil {
				params = map[string]any{}
			}
			maps.Copy(params, overrides)
			cfg = cfg.WithParams(params)
		}
		if value := strings.TrimSpace(*runName); value != "" {
			cfg.RunName = value
		}

		ctx, stop := commandContext()
		defer stop()

		session, err := ws.openSession(ctx)
		if err != nil {
			return reportFailure(stderr, "Evaluation", err)
		}

		deps := pipeline.Deps{
			RunLogger: runlog.New(session,
				runlog.WithLogger(ws.log),
				runlog.WithGit(vcs.NewClient(nil), ws.repoRoot),
			),
			Logger:       ws.log,
			ExperimentID: session.Experiment().ID,
			TrackingURI:  session.TrackingURI(),
		}
		if url := ws.cfg.Metrics.PushgatewayURL; url != "" {
			deps.Metrics = metrics.NewPusher(url, ws.cfg.Metrics.Job, metrics.NewRecorder())
		}
		if kafka := ws.cfg.Notify.Kafka; len(kafka.Brokers) > 0 {
			publisher, closePublisher, err := dialPublisher(notify.KafkaConfig{
				Brokers:  kafka.Brokers,
				Topic:    kafka.Topic,
				ClientID: kafka.ClientID,
				Timeout:  ws.cfg.Tracking.Timeout,
			})
			if err != nil {
				ws.log.Warn("kafka unavailable; runs will not be announced", "error", err)
			} else {
				deps.Events = publisher
				defer func() {
					if err := closePublisher(); err != nil {
						ws.log.Warn("close kafka producer", "error", err)
					}
				}()
			}
		}

		var controller *live.Controller
		if decision.useLive {
			controller = live.Start(stdout, live.Options{
				NoColor:    *noColor,
				Experiment: cfg.Experiment,
				ModelPath:  cfg.ModelPath,
			})
			deps.Observer = controller
		} else {
			deps.Observer = plainObserver{log: ws.log, out: stderr}
		}

		result, err := runPipeline(ctx, cfg, deps)
		if controller != nil {
			controller.Wait()
		}
		if err != nil {
			if result.RunID != "" {
				fmt.Fprintf(stderr, "Run %s was logged FINISHED with partial data.\n", result.RunID)
			}
			return reportFailure(stderr, "Evaluation", err)
		}

		fmt.Fprintf(stdout, "Run ID:   %s\n", result.RunID)
		fmt.Fprintf(stdout, "Loss:     %.4f\n", result.Record.Loss)
		fmt.Fprintf(stdout, "Accuracy: %.4f\n", result.Record.Accuracy)
		fmt.Fprintf(stdout, "Scores:   %s\n", result.ScoresPath)
		for _, warning := range result.Warnings {
			fmt.Fprintf(stderr, "Warning: %s\n", warning)
		}
		return ExitOK
	}
}

// plainObserver prints stage transitions as lines.
type plainObserver struct {
	log *logger.Logger
	out io.Writer
}

func (o plainObserver) OnStage(event pipeline.StageEvent) {
	switch event.Status {
	case pipeline.StatusRunning:
		fmt.Fprintf(o.out, "%s...\n", event.Stage)
	case pipeline.StatusDone:
		if event.Detail != "" {
			fmt.Fprintf(o.out, "%s done: %s\n", event.Stage, event.Detail)
		} else {
			fmt.Fprintf(o.out, "%s done\n", event.Stage)
		}
	case pipeline.StatusFailed:
		fmt.Fprintf(o.out, "%s failed: %s\n", event.Stage, event.Detail)
	}
}

func (o plainObserver) OnProgress(progress scorer.Progress) {
	if progress.Batch == 0 {
		return
	}
	o.log.Debug("batch scored", "batch", progress.Batch, "batches", progress.Batches, "samples", progress.Samples)
}

func (plainObserver) OnEnd(pipeline.Result, error) {}
