package tracking

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	apperrors "evaltrack/internal/pkg/errors"
	"evaltrack/internal/pkg/logger"
)

// SessionConfig fixes the identity of a session for its whole lifetime.
type SessionConfig struct {
	TrackingURI string
	// RegistryURI defaults to TrackingURI and must share its scheme and host.
	RegistryURI string
	Experiment  string
	// ResolveOnly refuses to create a missing experiment; Open returns a
	// NotFound error instead. Read-only callers set it.
	ResolveOnly bool
	Logger      *logger.Logger
}

// Session is an authenticated handle on one experiment of a tracking store.
// Runs may only be written through the session that created them, and only
// until they reach a terminal status.
type Session struct {
	store        Store
	trackingURI  string
	registryURI  string
	experiment   Experiment
	log          *logger.Logger
	mu           sync.Mutex
	runs         map[string]RunInfo
	closedStatus map[string]RunStatus
}

// Open verifies the URIs, then resolves the experiment, creating it unless
// ResolveOnly is set. The experiment lookup is the first remote call, so a
// rejected identity fails here before any run exists.
func Open(ctx context.Context, store Store, cfg SessionConfig) (*Session, error) {
	if store == nil {
		return nil, apperrors.ValidationError("tracking store is nil")
	}
	registryURI := cfg.RegistryURI
	if registryURI == "" {
		registryURI = cfg.TrackingURI
	}
	if err := checkConsistentURIs(cfg.TrackingURI, registryURI); err != nil {
		return nil, err
	}
	name := cfg.Experiment
	if name == "" {
		name = "Default"
	}
	log := logger.OrDiscard(cfg.Logger).WithComponent("tracking")

	experiment, err := store.GetExperimentByName(ctx, name)
	if apperrors.IsNotFound(err) && !cfg.ResolveOnly {
		log.Info("creating experiment", "experiment", name)
		id, createErr := store.CreateExperiment(ctx, name)
		if createErr != nil {
			return nil, fmt.Errorf("create experiment %q: %w", name, createErr)
		}
		experiment = Experiment{ID: id, Name: name}
	} else if err != nil {
		return nil, fmt.Errorf("resolve experiment %q: %w", name, err)
	}
	log.Debug("session opened", "tracking_uri", cfg.TrackingURI, "experiment_id", experiment.ID)

	return &Session{
		store:        store,
		trackingURI:  cfg.TrackingURI,
		registryURI:  registryURI,
		experiment:   experiment,
		log:          log,
		runs:         map[string]RunInfo{},
		closedStatus: map[string]RunStatus{},
	}, nil
}

func checkConsistentURIs(trackingURI, registryURI string) error {
	tracking, err := url.Parse(trackingURI)
	if err != nil || tracking.Scheme == "" {
		return apperrors.ValidationError(fmt.Sprintf("invalid tracking URI %q", trackingURI))
	}
	registry, err := url.Parse(registryURI)
	if err != nil || registry.Scheme == "" {
		return apperrors.ValidationError(fmt.Sprintf("invalid registry URI %q", registryURI))
	}
	if tracking.Scheme != registry.Scheme || tracking.Host != registry.Host {
		return apperrors.ValidationError(fmt.Sprintf("registry URI %q does not match tracking URI %q", registryURI, trackingURI))
	}
	return nil
}

// TrackingURI returns the tracking URI fixed at open.
func (s *Session) TrackingURI() string { return s.trackingURI }

// RegistryURI returns the registry URI fixed at open.
func (s *Session) RegistryURI() string { return s.registryURI }

// Experiment returns the resolved experiment.
func (s *Session) Experiment() Experiment { return s.experiment }

// CreateRun opens a new run in the session's experiment.
func (s *Session) CreateRun(ctx context.Context, name string, start time.Time, tags []Tag) (RunInfo, error) {
	info, err := s.store.CreateRun(ctx, CreateRunRequest{
		ExperimentID: s.experiment.ID,
		RunName:      name,
		StartTime:    start,
		Tags:         tags,
	})
	if err != nil {
		return RunInfo{}, err
	}
	if info.RunID == "" {
		return RunInfo{}, apperrors.TrackingError("store returned an empty run id", nil)
	}
	s.mu.Lock()
	s.runs[info.RunID] = info
	s.mu.Unlock()
	return info, nil
}

// writable returns the run info if this session opened the run and has not
// closed it.
func (s *Session) writable(runID string) (RunInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.runs[runID]
	if !ok {
		return RunInfo{}, apperrors.ValidationError(fmt.Sprintf("run %s was not opened by this session", runID))
	}
	if status, closed := s.closedStatus[runID]; closed {
		return RunInfo{}, apperrors.ValidationError(fmt.Sprintf("run %s is already %s", runID, status))
	}
	return info, nil
}

// LogBatch writes params, metrics and tags to an open run.
func (s *Session) LogBatch(ctx context.Context, runID string, batch Batch) error {
	if _, err := s.writable(runID); err != nil {
		return err
	}
	if batch.Empty() {
		return nil
	}
	return s.store.LogBatch(ctx, runID, batch)
}

// LogArtifact uploads a local file to an open run.
func (s *Session) LogArtifact(ctx context.Context, runID, localPath, artifactPath string) error {
	info, err := s.writable(runID)
	if err != nil {
		return err
	}
	return s.store.LogArtifact(ctx, info, localPath, artifactPath)
}

// Terminate moves an open run to a terminal status. Later writes are refused.
func (s *Session) Terminate(ctx context.Context, runID string, status RunStatus, end time.Time) error {
	if !status.Terminal() {
		return apperrors.ValidationError(fmt.Sprintf("status %s is not terminal", status))
	}
	if _, err := s.writable(runID); err != nil {
		return err
	}
	info, err := s.store.UpdateRun(ctx, runID, status, end)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if info.RunID != "" {
		s.runs[runID] = info
	}
	s.closedStatus[runID] = status
	s.mu.Unlock()
	return nil
}

// SearchRuns lists runs of the session's experiment.
func (s *Session) SearchRuns(ctx context.Context, orderBy []string, maxResults int, pageToken string) (SearchPage, error) {
	return s.store.SearchRuns(ctx, SearchRequest{
		ExperimentIDs: []string{s.experiment.ID},
		OrderBy:       orderBy,
		MaxResults:    maxResults,
		PageToken:     pageToken,
	})
}

// GetRun reads back a run with its full parameter, metric and tag set.
func (s *Session) GetRun(ctx context.Context, runID string) (Run, error) {
	return s.store.GetRun(ctx, runID)
}

// ListArtifacts lists artifact entries of a run under path ("" for the root).
func (s *Session) ListArtifacts(ctx context.Context, runID, path string) ([]FileInfo, error) {
	return s.store.ListArtifacts(ctx, runID, path)
}
