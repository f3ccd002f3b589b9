// Package memory is a process-local tracking store. It backs memory:// URIs and
// the fake MLflow server used in tests.
package memory

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "evaltrack/internal/pkg/errors"
	"evaltrack/internal/tracking"
)

// DefaultMaxResults caps search pages when the request sets no limit.
const DefaultMaxResults = 1000

// ArtifactHook runs before each upload; a non-nil error fails the upload.
type ArtifactHook func(runID, artifactPath string) error

type run struct {
	info      tracking.RunInfo
	params    map[string]string
	metrics   map[string]float64
	tags      map[string]string
	artifacts map[string][]byte
}

// Store keeps experiments and runs in memory. Runs are kept in insertion order,
// which is the tie-break for equal start times.
type Store struct {
	mu           sync.Mutex
	now          func() time.Time
	experiments  []tracking.Experiment
	runs         []*run
	byID         map[string]*run
	artifactHook ArtifactHook
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for default timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithArtifactHook installs a hook consulted before every upload.
func WithArtifactHook(hook ArtifactHook) Option {
	return func(s *Store) { s.artifactHook = hook }
}

// New returns an empty store with the "Default" experiment as id "0".
func New(opts ...Option) *Store {
	s := &Store{
		now:         time.Now,
		experiments: []tracking.Experiment{{ID: "0", Name: "Default", ArtifactLocation: "mlflow-artifacts:/0"}},
		byID:        map[string]*run{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetArtifactHook replaces the upload hook.
func (s *Store) SetArtifactHook(hook ArtifactHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifactHook = hook
}

func newRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GetExperimentByName implements tracking.Store.
func (s *Store) GetExperimentByName(_ context.Context, name string) (tracking.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, exp := range s.experiments {
		if exp.Name == name {
			return exp, nil
		}
	}
	return tracking.Experiment{}, apperrors.NotFoundError(fmt.Sprintf("experiment %q", name))
}

// CreateExperiment implements tracking.Store.
func (s *Store) CreateExperiment(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, exp := range s.experiments {
		if exp.Name == name {
			return "", apperrors.TrackingError(fmt.Sprintf("experiment %q already exists", name), nil)
		}
	}
	id := strconv.Itoa(len(s.experiments))
	s.experiments = append(s.experiments, tracking.Experiment{ID: id, Name: name, ArtifactLocation: "mlflow-artifacts:/" + id})
	return id, nil
}

func (s *Store) experimentExists(id string) bool {
	for _, exp := range s.experiments {
		if exp.ID == id {
			return true
		}
	}
	return false
}

// CreateRun implements tracking.Store.
func (s *Store) CreateRun(_ context.Context, req tracking.CreateRunRequest) (tracking.RunInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.experimentExists(req.ExperimentID) {
		return tracking.RunInfo{}, apperrors.NotFoundError(fmt.Sprintf("experiment %s", req.ExperimentID))
	}
	start := req.StartTime
	if start.IsZero() {
		start = s.now()
	}
	id := newRunID()
	tags := tracking.TagsToMap(req.Tags)
	name := req.RunName
	if name == "" {
		name = tags["mlflow.runName"]
	}
	if name == "" {
		name = id[:8]
	}
	tags["mlflow.runName"] = name
	r := &run{
		info: tracking.RunInfo{
			RunID:          id,
			ExperimentID:   req.ExperimentID,
			RunName:        name,
			UserID:         tags["mlflow.user"],
			Status:         tracking.RunStatusRunning,
			StartTime:      start,
			ArtifactURI:    fmt.Sprintf("mlflow-artifacts:/%s/%s/artifacts", req.ExperimentID, id),
			LifecycleStage: "active",
		},
		params:    map[string]string{},
		metrics:   map[string]float64{},
		tags:      tags,
		artifacts: map[string][]byte{},
	}
	s.runs = append(s.runs, r)
	s.byID[id] = r
	return r.info, nil
}

// Import appends a fully formed run, assigning an id when RunID is empty. It
// exists for seeding histories.
func (s *Store) Import(in tracking.Run) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := in.Info
	if info.RunID == "" {
		info.RunID = newRunID()
	}
	if info.ExperimentID == "" {
		info.ExperimentID = "0"
	}
	if info.Status == "" {
		info.Status = tracking.RunStatusFinished
	}
	if info.LifecycleStage == "" {
		info.LifecycleStage = "active"
	}
	if info.ArtifactURI == "" {
		info.ArtifactURI = fmt.Sprintf("mlflow-artifacts:/%s/%s/artifacts", info.ExperimentID, info.RunID)
	}
	r := &run{
		info:      info,
		params:    copyMap(in.Data.Params),
		metrics:   copyMap(in.Data.Metrics),
		tags:      copyMap(in.Data.Tags),
		artifacts: map[string][]byte{},
	}
	s.runs = append(s.runs, r)
	s.byID[info.RunID] = r
	return info.RunID
}

func (s *Store) openRun(runID string) (*run, error) {
	r, ok := s.byID[runID]
	if !ok {
		return nil, apperrors.NotFoundError(fmt.Sprintf("run %s", runID))
	}
	if r.info.Status.Terminal() {
		return nil, apperrors.TrackingError(fmt.Sprintf("run %s is %s and cannot be modified", runID, r.info.Status), nil)
	}
	return r, nil
}

// LogBatch implements tracking.Store. Later values for a key overwrite
// earlier ones.
func (s *Store) LogBatch(_ context.Context, runID string, batch tracking.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.openRun(runID)
	if err != nil {
		return err
	}
	for _, p := range batch.Params {
		r.params[p.Key] = p.Value
	}
	for _, m := range batch.Metrics {
		r.metrics[m.Key] = m.Value
	}
	for _, t := range batch.Tags {
		r.tags[t.Key] = t.Value
	}
	return nil
}

// LogArtifact implements tracking.Store.
func (s *Store) LogArtifact(_ context.Context, info tracking.RunInfo, localPath, artifactPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return apperrors.ArtifactUploadError(localPath, err)
	}
	return s.PutArtifact(info.RunID, path.Join(artifactPath, filepath.Base(localPath)), data)
}

// PutArtifact stores data at artifactPath of an open run.
func (s *Store) PutArtifact(runID, artifactPath string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.openRun(runID)
	if err != nil {
		return apperrors.ArtifactUploadError(artifactPath, err)
	}
	if s.artifactHook != nil {
		if err := s.artifactHook(runID, artifactPath); err != nil {
			return apperrors.ArtifactUploadError(artifactPath, err)
		}
	}
	r.artifacts[strings.TrimPrefix(path.Clean(artifactPath), "/")] = append([]byte(nil), data...)
	return nil
}

// Artifact returns the stored content of one artifact.
func (s *Store) Artifact(runID, artifactPath string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[runID]
	if !ok {
		return nil, false
	}
	data, ok := r.artifacts[artifactPath]
	return append([]byte(nil), data...), ok
}

// UpdateRun implements tracking.Store.
func (s *Store) UpdateRun(_ context.Context, runID string, status tracking.RunStatus, endTime time.Time) (tracking.RunInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.openRun(runID)
	if err != nil {
		return tracking.RunInfo{}, err
	}
	if endTime.IsZero() && status.Terminal() {
		endTime = s.now()
	}
	r.info.Status = status
	r.info.EndTime = endTime
	return r.info, nil
}

// GetRun implements tracking.Store.
func (s *Store) GetRun(_ context.Context, runID string) (tracking.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[runID]
	if !ok {
		return tracking.Run{}, apperrors.NotFoundError(fmt.Sprintf("run %s", runID))
	}
	return r.snapshot(), nil
}

// SearchRuns implements tracking.Store. Only start_time ordering is
// supported; the page token is an offset.
func (s *Store) SearchRuns(_ context.Context, req tracking.SearchRequest) (tracking.SearchPage, error) {
	descending, err := parseOrderBy(req.OrderBy)
	if err != nil {
		return tracking.SearchPage{}, err
	}
	offset := 0
	if req.PageToken != "" {
		offset, err = strconv.Atoi(req.PageToken)
		if err != nil || offset < 0 {
			return tracking.SearchPage{}, apperrors.TrackingError(fmt.Sprintf("invalid page token %q", req.PageToken), err)
		}
	}
	limit := req.MaxResults
	if limit <= 0 {
		limit = DefaultMaxResults
	}

	wanted := map[string]bool{}
	for _, id := range req.ExperimentIDs {
		wanted[id] = true
	}

	s.mu.Lock()
	var matched []tracking.Run
	for _, r := range s.runs {
		if len(wanted) > 0 && !wanted[r.info.ExperimentID] {
			continue
		}
		matched = append(matched, r.snapshot())
	}
	s.mu.Unlock()

	if descending {
		tracking.SortByStartDesc(matched)
	} else {
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].Info.StartTime.Before(matched[j].Info.StartTime)
		})
	}

	if offset >= len(matched) {
		return tracking.SearchPage{}, nil
	}
	end := min(offset+limit, len(matched))
	page := tracking.SearchPage{Runs: matched[offset:end]}
	if end < len(matched) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func parseOrderBy(orderBy []string) (bool, error) {
	if len(orderBy) == 0 {
		return true, nil
	}
	if len(orderBy) > 1 {
		return false, apperrors.TrackingError("memory store supports a single order_by clause", nil)
	}
	fields := strings.Fields(orderBy[0])
	if len(fields) == 0 {
		return true, nil
	}
	switch strings.TrimPrefix(fields[0], "attributes.") {
	case "start_time", "attribute.start_time":
	default:
		return false, apperrors.TrackingError(fmt.Sprintf("unsupported order_by %q", orderBy[0]), nil)
	}
	if len(fields) == 1 {
		return false, nil
	}
	switch strings.ToUpper(fields[1]) {
	case "DESC":
		return true, nil
	case "ASC":
		return false, nil
	default:
		return false, apperrors.TrackingError(fmt.Sprintf("unsupported order_by %q", orderBy[0]), nil)
	}
}

// ListArtifacts implements tracking.Store.
func (s *Store) ListArtifacts(_ context.Context, runID, dir string) ([]tracking.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[runID]
	if !ok {
		return nil, apperrors.NotFoundError(fmt.Sprintf("run %s", runID))
	}
	prefix := strings.Trim(dir, "/")
	if prefix != "" {
		prefix += "/"
	}
	seen := map[string]tracking.FileInfo{}
	for key, data := range r.artifacts {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if head, _, nested := strings.Cut(rest, "/"); nested {
			seen[prefix+head] = tracking.FileInfo{Path: prefix + head, IsDir: true}
			continue
		}
		seen[key] = tracking.FileInfo{Path: key, Size: int64(len(data))}
	}
	out := make([]tracking.FileInfo, 0, len(seen))
	for _, info := range seen {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (r *run) snapshot() tracking.Run {
	return tracking.Run{
		Info: r.info,
		Data: tracking.RunData{
			Params:  copyMap(r.params),
			Metrics: copyMap(r.metrics),
			Tags:    copyMap(r.tags),
		},
	}
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
