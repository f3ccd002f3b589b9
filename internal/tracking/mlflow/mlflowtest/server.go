// Package mlflowtest runs an in-process MLflow REST server backed by the
// memory store.
package mlflowtest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	apperrors "evaltrack/internal/pkg/errors"
	"evaltrack/internal/tracking"
	"evaltrack/internal/tracking/memory"
	"evaltrack/internal/tracking/mlflow"
)

// Server is a fake tracking server.
type Server struct {
	URL   string
	Store *memory.Store

	token    string
	username string
	password string

	mu       sync.Mutex
	requests map[string]int
}

// Option configures a Server.
type Option func(*Server)

// RequireToken rejects requests without the bearer token.
func RequireToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// RequireBasicAuth rejects requests without the given basic credentials.
func RequireBasicAuth(username, password string) Option {
	return func(s *Server) { s.username, s.password = username, password }
}

// WithStore serves an existing store.
func WithStore(store *memory.Store) Option {
	return func(s *Server) { s.Store = store }
}

// New starts a server that is closed when the test ends.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{requests: map[string]int{}}
	for _, opt := range opts {
		opt(s)
	}
	if s.Store == nil {
		s.Store = memory.New()
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	s.URL = srv.URL
	return s
}

// Requests returns how many requests hit a path.
func (s *Server) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

// Handler returns the REST routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+mlflow.PathGetExperimentByName, s.getExperimentByName)
	mux.HandleFunc("POST "+mlflow.PathCreateExperiment, s.createExperiment)
	mux.HandleFunc("POST "+mlflow.PathCreateRun, s.createRun)
	mux.HandleFunc("POST "+mlflow.PathLogBatch, s.logBatch)
	mux.HandleFunc("POST "+mlflow.PathUpdateRun, s.updateRun)
	mux.HandleFunc("POST "+mlflow.PathSearchRuns, s.searchRuns)
	mux.HandleFunc("GET "+mlflow.PathGetRun, s.getRun)
	mux.HandleFunc("GET "+mlflow.PathListArtifacts, s.listArtifacts)
	mux.HandleFunc("PUT "+mlflow.PathArtifactsProxy+"{rest...}", s.putArtifact)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if strings.HasPrefix(path, mlflow.PathArtifactsProxy) {
			path = mlflow.PathArtifactsProxy
		}
		s.mu.Lock()
		s.requests[path]++
		s.mu.Unlock()
		if !s.authorized(r) {
			writeError(w, http.StatusUnauthorized, mlflow.ErrorUnauthenticated, "credentials required")
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token != "" {
		return r.Header.Get("Authorization") == "Bearer "+s.token
	}
	if s.username != "" {
		user, pass, ok := r.BasicAuth()
		return ok && user == s.username && pass == s.password
	}
	return true
}

func (s *Server) getExperimentByName(w http.ResponseWriter, r *http.Request) {
	exp, err := s.Store.GetExperimentByName(r.Context(), r.URL.Query().Get("experiment_name"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, mlflow.GetExperimentResponse{Experiment: mlflow.ExperimentJSON{
		ExperimentID:     exp.ID,
		Name:             exp.Name,
		ArtifactLocation: exp.ArtifactLocation,
		LifecycleStage:   "active",
	}})
}

func (s *Server) createExperiment(w http.ResponseWriter, r *http.Request) {
	var req mlflow.CreateExperimentRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, mlflow.ErrorInvalidParameter, "missing name")
		return
	}
	id, err := s.Store.CreateExperiment(r.Context(), req.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, mlflow.ErrorResourceExists, err.Error())
		return
	}
	writeJSON(w, mlflow.CreateExperimentResponse{ExperimentID: id})
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req mlflow.CreateRunRequest
	if !decode(w, r, &req) {
		return
	}
	tags := make([]tracking.Tag, 0, len(req.Tags))
	for _, tag := range req.Tags {
		tags = append(tags, tracking.Tag{Key: tag.Key, Value: tag.Value})
	}
	info, err := s.Store.CreateRun(r.Context(), tracking.CreateRunRequest{
		ExperimentID: req.ExperimentID,
		RunName:      req.RunName,
		StartTime:    mlflow.FromMillis(req.StartTime),
		Tags:         tags,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	run, err := s.Store.GetRun(r.Context(), info.RunID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, mlflow.RunResponse{Run: mlflow.RunToJSON(run, run.Info.StartTime)})
}

func (s *Server) logBatch(w http.ResponseWriter, r *http.Request) {
	var req mlflow.LogBatchRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Params) > mlflow.MaxParamsPerBatch || len(req.Tags) > mlflow.MaxTagsPerBatch || len(req.Metrics) > mlflow.MaxMetricsPerBatch {
		writeError(w, http.StatusBadRequest, mlflow.ErrorInvalidParameter, "batch exceeds request limits")
		return
	}
	var batch tracking.Batch
	for _, p := range req.Params {
		batch.Params = append(batch.Params, tracking.Param{Key: p.Key, Value: p.Value})
	}
	for _, m := range req.Metrics {
		batch.Metrics = append(batch.Metrics, tracking.Metric{
			Key:       m.Key,
			Value:     float64(m.Value),
			Timestamp: mlflow.FromMillis(m.Timestamp),
			Step:      int64(m.Step),
		})
	}
	for _, tag := range req.Tags {
		batch.Tags = append(batch.Tags, tracking.Tag{Key: tag.Key, Value: tag.Value})
	}
	if err := s.Store.LogBatch(r.Context(), req.RunID, batch); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

func (s *Server) updateRun(w http.ResponseWriter, r *http.Request) {
	var req mlflow.UpdateRunRequest
	if !decode(w, r, &req) {
		return
	}
	info, err := s.Store.UpdateRun(r.Context(), req.RunID, tracking.RunStatus(req.Status), mlflow.FromMillis(req.EndTime))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, mlflow.UpdateRunResponse{RunInfo: mlflow.RunInfoToJSON(info)})
}

func (s *Server) searchRuns(w http.ResponseWriter, r *http.Request) {
	var req mlflow.SearchRunsRequest
	if !decode(w, r, &req) {
		return
	}
	page, err := s.Store.SearchRuns(r.Context(), tracking.SearchRequest{
		ExperimentIDs: req.ExperimentIDs,
		Filter:        req.Filter,
		OrderBy:       req.OrderBy,
		MaxResults:    req.MaxResults,
		PageToken:     req.PageToken,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	res := mlflow.SearchRunsResponse{NextPageToken: page.NextPageToken}
	for _, run := range page.Runs {
		res.Runs = append(res.Runs, mlflow.RunToJSON(run, run.Info.StartTime))
	}
	writeJSON(w, res)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.Store.GetRun(r.Context(), r.URL.Query().Get("run_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, mlflow.RunResponse{Run: mlflow.RunToJSON(run, run.Info.StartTime)})
}

func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	files, err := s.Store.ListArtifacts(r.Context(), query.Get("run_id"), query.Get("path"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	res := mlflow.ListArtifactsResponse{}
	for _, f := range files {
		res.Files = append(res.Files, mlflow.FileInfoJSON{Path: f.Path, IsDir: f.IsDir, FileSize: mlflow.Int64(f.Size)})
	}
	writeJSON(w, res)
}

// putArtifact accepts <experiment>/<run>/artifacts/<path>.
func (s *Server) putArtifact(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(r.PathValue("rest"), "/", 4)
	if len(parts) != 4 || parts[2] != "artifacts" || parts[3] == "" {
		writeError(w, http.StatusBadRequest, mlflow.ErrorInvalidParameter, "malformed artifact path")
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, mlflow.ErrorInvalidParameter, err.Error())
		return
	}
	if err := s.Store.PutArtifact(parts[1], parts[3], data); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

func decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, mlflow.ErrorInvalidParameter, err.Error())
		return false
	}
	return true
}

func writeStoreError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		writeError(w, http.StatusInternalServerError, mlflow.ErrorInternal, err.Error())
		return
	}
	switch {
	case apperrors.IsNotFound(err):
		writeError(w, http.StatusNotFound, mlflow.ErrorResourceDoesNotExist, err.Error())
	case apperrors.IsArtifactUpload(err):
		writeError(w, http.StatusInternalServerError, mlflow.ErrorInternal, err.Error())
	default:
		writeError(w, http.StatusBadRequest, mlflow.ErrorInvalidState, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(mlflow.ErrorResponse{ErrorCode: code, Message: message})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
