package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"evaltrack/internal/config"
	apperrors "evaltrack/internal/pkg/errors"
	"evaltrack/internal/pkg/logger"
	"evaltrack/internal/tracking"
	"evaltrack/internal/tracking/memory"
	"evaltrack/internal/tracking/mlflow"
)

// workspace is a loaded config and the settings derived from it.
type workspace struct {
	configPath string
	repoRoot   string
	cfg        config.Config
	log        *logger.Logger
}

// loadWorkspace finds, loads and validates the config. Diagnostics are logged
// to stderr.
func loadWorkspace(configPath string, verbose bool, stderr io.Writer) (workspace, error) {
	resolved, err := resolveConfigPath(configPath)
	if err != nil {
		return workspace{}, err
	}
	cfg, err := config.Load(resolved)
	if err != nil {
		return workspace{}, err
	}
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	return workspace{
		configPath: resolved,
		repoRoot:   config.RepoRootFromConfigPath(resolved),
		cfg:        cfg,
		log:        logger.New(level, cfg.Log.Format, stderr),
	}, nil
}

// evaluation returns the evaluation config with paths resolved against the
// repo root.
func (w workspace) evaluation() config.EvaluationConfig {
	return w.cfg.Resolve(w.repoRoot)
}

// dialStore is a test seam for connecting to the tracking store.
var dialStore = defaultDialStore

// defaultDialStore picks a store implementation by tracking URI scheme.
func defaultDialStore(section config.TrackingSection) (tracking.Store, error) {
	parsed, err := url.Parse(section.URI)
	if err != nil {
		return nil, apperrors.ValidationError(fmt.Sprintf("invalid tracking uri %q: %v", section.URI, err))
	}
	switch parsed.Scheme {
	case "memory":
		return memory.New(), nil
	case "http", "https":
		opts := []mlflow.Option{mlflow.WithCredentials(tracking.Credentials{
			Username: section.Username,
			Password: section.Password,
			Token:    section.Token,
		})}
		if section.Timeout > 0 {
			opts = append(opts, mlflow.WithTimeout(section.Timeout))
		}
		return mlflow.New(section.URI, opts...), nil
	default:
		return nil, apperrors.ValidationError(fmt.Sprintf("unsupported tracking uri scheme %q", parsed.Scheme))
	}
}

// openSession connects to the tracking store and resolves the experiment,
// creating it when missing.
func (w workspace) openSession(ctx context.Context) (*tracking.Session, error) {
	return w.dial(ctx, false)
}

// openReadSession is openSession for commands that only query. A missing
// experiment is a NotFound error.
func (w workspace) openReadSession(ctx context.Context) (*tracking.Session, error) {
	return w.dial(ctx, true)
}

func (w workspace) dial(ctx context.Context, resolveOnly bool) (*tracking.Session, error) {
	store, err := dialStore(w.cfg.Tracking)
	if err != nil {
		return nil, err
	}
	return tracking.Open(ctx, store, tracking.SessionConfig{
		TrackingURI: w.cfg.Tracking.URI,
		RegistryURI: w.cfg.Tracking.RegistryURI,
		Experiment:  w.cfg.Tracking.Experiment,
		ResolveOnly: resolveOnly,
		Logger:      w.log,
	})
}

// commandContext is cancelled by SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// parseFlags parses args and rejects positional arguments beyond maxArgs.
// ok is false when the caller should return code.
func parseFlags(cmd *Command, fs *flag.FlagSet, args []string, maxArgs int, stdout, stderr io.Writer) (code int, ok bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printCommandUsage(cmd, stdout)
			return ExitOK, false
		}
		fmt.Fprintf(stderr, "invalid arguments: %v\n", err)
		printCommandUsage(cmd, stderr)
		return ExitUsage, false
	}
	if fs.NArg() > maxArgs {
		fmt.Fprintf(stderr, "unexpected arguments: %s\n", strings.Join(fs.Args()[maxArgs:], " "))
		printCommandUsage(cmd, stderr)
		return ExitUsage, false
	}
	return ExitOK, true
}

// reportFailure prints err with a hint and returns ExitError.
func reportFailure(stderr io.Writer, action string, err error) int {
	fmt.Fprintf(stderr, "%s failed: %v\n", action, err)
	if hint := failureHint(err); hint != "" {
		fmt.Fprintln(stderr, hint)
	}
	return ExitError
}

// failureHint suggests a next step for common failures.
func failureHint(err error) string {
	switch {
	case apperrors.IsRemoteAuth(err):
		return "Hint: check MLFLOW_TRACKING_TOKEN or MLFLOW_TRACKING_USERNAME/MLFLOW_TRACKING_PASSWORD."
	case apperrors.IsNotFound(err), apperrors.IsNoData(err), errors.Is(err, os.ErrNotExist):
		return "Hint: run `evaltrack evaluate` first."
	default:
		return ""
	}
}
