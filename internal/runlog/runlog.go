// Package runlog records one evaluation as a run in the tracking store.
package runlog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"evaltrack/internal/config"
	apperrors "evaltrack/internal/pkg/errors"
	"evaltrack/internal/pkg/logger"
	"evaltrack/internal/scores"
	"evaltrack/internal/tracking"
	"evaltrack/internal/vcs"
)

// Artifact groups under the run's artifact root.
const (
	GroupModel  = "model_artifacts"
	GroupScores = "evaluation_metrics"
	GroupNotes  = "notes"

	NoteFileName = "model_info.txt"
)

// Run tags.
const (
	TagRunName   = "mlflow.runName"
	TagSource    = "mlflow.source.name"
	TagUser      = "mlflow.user"
	TagGitCommit = "mlflow.source.git.commit"
	TagGitBranch = "mlflow.source.git.branch"
	TagGitDirty  = "evaltrack.git.dirty"
)

// Artifact is a local file or directory uploaded into Group.
type Artifact struct {
	Path  string
	Group string
}

// ModelArtifact uploads the model under model_artifacts.
func ModelArtifact(path string) Artifact {
	return Artifact{Path: path, Group: GroupModel}
}

// ScoresArtifact uploads the score document under evaluation_metrics.
func ScoresArtifact(path string) Artifact {
	return Artifact{Path: path, Group: GroupScores}
}

// Logger writes runs through a tracking session.
type Logger struct {
	session *tracking.Session
	now     func() time.Time
	log     *logger.Logger
	source  string
	user    string
	git     *vcs.Client
	gitDir  string
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock sets the clock used for start, metric and end timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// WithLogger sets the diagnostic logger.
func WithLogger(log *logger.Logger) Option {
	return func(l *Logger) { l.log = logger.OrDiscard(log) }
}

// WithSourceName overrides the mlflow.source.name tag.
func WithSourceName(name string) Option {
	return func(l *Logger) { l.source = name }
}

// WithUser overrides the mlflow.user tag.
func WithUser(name string) Option {
	return func(l *Logger) { l.user = name }
}

// WithGit tags runs with the revision of the repository containing dir.
func WithGit(client vcs.Client, dir string) Option {
	return func(l *Logger) {
		l.git = &client
		l.gitDir = dir
	}
}

// New returns a Logger bound to session.
func New(session *tracking.Session, opts ...Option) *Logger {
	l := &Logger{
		session: session,
		now:     time.Now,
		log:     logger.Discard(),
		source:  filepath.Base(os.Args[0]),
		user:    currentUser(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.WithComponent("runlog")
	return l
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

// LogRun creates a run carrying cfg's parameters, record's metrics and the
// given artifacts, and returns its id. The run is closed FINISHED on every
// path once it exists; a failure to close is joined with any earlier error,
// and the run id is returned alongside errors that occur after creation.
func (l *Logger) LogRun(ctx context.Context, cfg config.EvaluationConfig, record scores.Record, artifacts []Artifact) (runID string, err error) {
	start := l.now()
	info, err := l.session.CreateRun(ctx, cfg.RunName, start, l.tags(ctx, cfg.RunName))
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	runID = info.RunID
	log := l.log.WithRun(runID)
	log.Info("run started", "run_name", info.RunName, "experiment_id", info.ExperimentID)

	defer func() {
		closeErr := l.session.Terminate(context.WithoutCancel(ctx), runID, tracking.RunStatusFinished, l.now())
		if closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close run %s: %w", runID, closeErr))
			return
		}
		log.Info("run finished")
	}()

	if err := l.session.LogBatch(ctx, runID, l.batch(cfg, record)); err != nil {
		return runID, fmt.Errorf("log params and metrics: %w", err)
	}
	for _, artifact := range artifacts {
		if err := l.upload(ctx, runID, artifact); err != nil {
			return runID, err
		}
	}
	if err := l.uploadNote(ctx, runID, cfg); err != nil {
		return runID, err
	}
	return runID, nil
}

func (l *Logger) tags(ctx context.Context, runName string) []tracking.Tag {
	var tags []tracking.Tag
	if runName != "" {
		tags = append(tags, tracking.Tag{Key: TagRunName, Value: runName})
	}
	if l.source != "" {
		tags = append(tags, tracking.Tag{Key: TagSource, Value: l.source})
	}
	if l.user != "" {
		tags = append(tags, tracking.Tag{Key: TagUser, Value: l.user})
	}
	if l.git == nil {
		return tags
	}
	meta, err := l.git.Describe(ctx, l.gitDir)
	if err != nil {
		l.log.Debug("skipping git tags", "error", err)
		return tags
	}
	return append(tags,
		tracking.Tag{Key: TagGitCommit, Value: meta.Commit},
		tracking.Tag{Key: TagGitBranch, Value: meta.Branch},
		tracking.Tag{Key: TagGitDirty, Value: strconv.FormatBool(meta.Dirty)},
	)
}

func (l *Logger) batch(cfg config.EvaluationConfig, record scores.Record) tracking.Batch {
	params := cfg.Params()
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var batch tracking.Batch
	for _, key := range keys {
		batch.Params = append(batch.Params, tracking.Param{Key: key, Value: FormatParam(params[key])})
	}
	stamp := l.now()
	for _, m := range record.Metrics() {
		batch.Metrics = append(batch.Metrics, tracking.Metric{Key: m.Name, Value: m.Value, Timestamp: stamp})
	}
	return batch
}

// upload sends a file, or every regular file below a directory, keeping the
// directory layout under the artifact's group.
func (l *Logger) upload(ctx context.Context, runID string, artifact Artifact) error {
	stat, err := os.Stat(artifact.Path)
	if err != nil {
		return apperrors.ArtifactUploadError(artifact.Path, err)
	}
	if !stat.IsDir() {
		l.log.Debug("uploading artifact", "path", artifact.Path, "group", artifact.Group)
		return l.session.LogArtifact(ctx, runID, artifact.Path, artifact.Group)
	}
	base := filepath.Base(artifact.Path)
	return filepath.WalkDir(artifact.Path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return apperrors.ArtifactUploadError(p, walkErr)
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(artifact.Path, filepath.Dir(p))
		if err != nil {
			return apperrors.ArtifactUploadError(p, err)
		}
		dest := path.Join(artifact.Group, base, filepath.ToSlash(rel))
		l.log.Debug("uploading artifact", "path", p, "group", dest)
		return l.session.LogArtifact(ctx, runID, p, dest)
	})
}

// NoteText describes the evaluation that produced a run.
func NoteText(cfg config.EvaluationConfig) string {
	return fmt.Sprintf("Model evaluated on %s with %d batch size", filepath.Base(cfg.ValidationDataPath), cfg.BatchSize)
}

func (l *Logger) uploadNote(ctx context.Context, runID string, cfg config.EvaluationConfig) error {
	dir, err := os.MkdirTemp("", "evaltrack-note-*")
	if err != nil {
		return apperrors.ArtifactUploadError(NoteFileName, err)
	}
	defer os.RemoveAll(dir)
	notePath := filepath.Join(dir, NoteFileName)
	if err := os.WriteFile(notePath, []byte(NoteText(cfg)), 0o644); err != nil {
		return apperrors.ArtifactUploadError(NoteFileName, err)
	}
	return l.session.LogArtifact(ctx, runID, notePath, GroupNotes)
}
