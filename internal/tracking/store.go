package tracking

import (
	"context"
	"time"
)

// Store is the subset of a remote tracking service used by the session.
// Implementations return apperrors codes: REMOTE_AUTH_ERROR when the service
// rejects the caller, NOT_FOUND for missing entities, TRACKING_ERROR otherwise.
type Store interface {
	GetExperimentByName(ctx context.Context, name string) (Experiment, error)
	CreateExperiment(ctx context.Context, name string) (string, error)
	CreateRun(ctx context.Context, req CreateRunRequest) (RunInfo, error)
	LogBatch(ctx context.Context, runID string, batch Batch) error
	// LogArtifact uploads localPath into artifactPath under the run's
	// artifact root, keeping the file's base name.
	LogArtifact(ctx context.Context, run RunInfo, localPath, artifactPath string) error
	UpdateRun(ctx context.Context, runID string, status RunStatus, endTime time.Time) (RunInfo, error)
	SearchRuns(ctx context.Context, req SearchRequest) (SearchPage, error)
	GetRun(ctx context.Context, runID string) (Run, error)
	ListArtifacts(ctx context.Context, runID, path string) ([]FileInfo, error)
}

// Credentials authenticate against a tracking service. Token takes precedence
// over username and password.
type Credentials struct {
	Username string
	Password string
	Token    string
}

// Empty reports whether no credentials are set.
func (c Credentials) Empty() bool {
	return c.Username == "" && c.Password == "" && c.Token == ""
}
