package mlflow

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"evaltrack/internal/tracking"
)

// REST endpoints, relative to the tracking URI.
const (
	PathGetExperimentByName = "/api/2.0/mlflow/experiments/get-by-name"
	PathCreateExperiment    = "/api/2.0/mlflow/experiments/create"
	PathCreateRun           = "/api/2.0/mlflow/runs/create"
	PathLogBatch            = "/api/2.0/mlflow/runs/log-batch"
	PathUpdateRun           = "/api/2.0/mlflow/runs/update"
	PathSearchRuns          = "/api/2.0/mlflow/runs/search"
	PathGetRun              = "/api/2.0/mlflow/runs/get"
	PathListArtifacts       = "/api/2.0/mlflow/artifacts/list"
	PathArtifactsProxy      = "/api/2.0/mlflow-artifacts/artifacts/"
)

// Per-request limits enforced by MLflow's log-batch endpoint.
const (
	MaxParamsPerBatch  = 100
	MaxTagsPerBatch    = 100
	MaxMetricsPerBatch = 1000
)

// Int64 decodes protobuf int64 fields, which may arrive as numbers or strings.
type Int64 int64

// UnmarshalJSON implements json.Unmarshaler.
func (v *Int64) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*v = 0
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*v = Int64(n)
	return nil
}

// Float encodes doubles the way protobuf JSON does, with NaN and infinities
// as strings.
type Float float64

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Infinity"`), nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Float) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"NaN"`:
		*f = Float(math.NaN())
		return nil
	case `"Infinity"`:
		*f = Float(math.Inf(1))
		return nil
	case `"-Infinity"`:
		*f = Float(math.Inf(-1))
		return nil
	}
	var v float64
	if err := json.Unmarshal(bytes.Trim(data, `"`), &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type MetricJSON struct {
	Key       string `json:"key"`
	Value     Float  `json:"value"`
	Timestamp Int64  `json:"timestamp"`
	Step      Int64  `json:"step"`
}

type RunInfoJSON struct {
	RunID          string `json:"run_id"`
	RunUUID        string `json:"run_uuid,omitempty"`
	ExperimentID   string `json:"experiment_id"`
	RunName        string `json:"run_name,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Status         string `json:"status"`
	StartTime      Int64  `json:"start_time,omitempty"`
	EndTime        Int64  `json:"end_time,omitempty"`
	ArtifactURI    string `json:"artifact_uri,omitempty"`
	LifecycleStage string `json:"lifecycle_stage,omitempty"`
}

type RunDataJSON struct {
	Metrics []MetricJSON `json:"metrics,omitempty"`
	Params  []KeyValue   `json:"params,omitempty"`
	Tags    []KeyValue   `json:"tags,omitempty"`
}

type RunJSON struct {
	Info RunInfoJSON `json:"info"`
	Data RunDataJSON `json:"data"`
}

type ExperimentJSON struct {
	ExperimentID     string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location,omitempty"`
	LifecycleStage   string `json:"lifecycle_stage,omitempty"`
}

type GetExperimentResponse struct {
	Experiment ExperimentJSON `json:"experiment"`
}

type CreateExperimentRequest struct {
	Name string `json:"name"`
}

type CreateExperimentResponse struct {
	ExperimentID string `json:"experiment_id"`
}

type CreateRunRequest struct {
	ExperimentID string     `json:"experiment_id"`
	RunName      string     `json:"run_name,omitempty"`
	StartTime    Int64      `json:"start_time,omitempty"`
	Tags         []KeyValue `json:"tags,omitempty"`
}

type RunResponse struct {
	Run RunJSON `json:"run"`
}

type LogBatchRequest struct {
	RunID   string       `json:"run_id"`
	Metrics []MetricJSON `json:"metrics,omitempty"`
	Params  []KeyValue   `json:"params,omitempty"`
	Tags    []KeyValue   `json:"tags,omitempty"`
}

type UpdateRunRequest struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	EndTime Int64  `json:"end_time,omitempty"`
}

type UpdateRunResponse struct {
	RunInfo RunInfoJSON `json:"run_info"`
}

type SearchRunsRequest struct {
	ExperimentIDs []string `json:"experiment_ids"`
	Filter        string   `json:"filter,omitempty"`
	RunViewType   string   `json:"run_view_type,omitempty"`
	MaxResults    int      `json:"max_results,omitempty"`
	OrderBy       []string `json:"order_by,omitempty"`
	PageToken     string   `json:"page_token,omitempty"`
}

type SearchRunsResponse struct {
	Runs          []RunJSON `json:"runs,omitempty"`
	NextPageToken string    `json:"next_page_token,omitempty"`
}

type FileInfoJSON struct {
	Path     string `json:"path"`
	IsDir    bool   `json:"is_dir"`
	FileSize Int64  `json:"file_size,omitempty"`
}

type ListArtifactsResponse struct {
	RootURI       string         `json:"root_uri,omitempty"`
	Files         []FileInfoJSON `json:"files,omitempty"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

// ErrorResponse is the error body MLflow returns with non-200 statuses.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// Error codes used by the MLflow server.
const (
	ErrorResourceDoesNotExist = "RESOURCE_DOES_NOT_EXIST"
	ErrorInvalidParameter     = "INVALID_PARAMETER_VALUE"
	ErrorInvalidState         = "INVALID_STATE"
	ErrorUnauthenticated      = "UNAUTHENTICATED"
	ErrorPermissionDenied     = "PERMISSION_DENIED"
	ErrorResourceExists       = "RESOURCE_ALREADY_EXISTS"
	ErrorInternal             = "INTERNAL_ERROR"
)

// Millis converts a time to epoch milliseconds, keeping zero as zero.
func Millis(t time.Time) Int64 {
	if t.IsZero() {
		return 0
	}
	return Int64(t.UnixMilli())
}

// FromMillis converts epoch milliseconds to UTC time, keeping zero as zero.
func FromMillis(ms Int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms)).UTC()
}

// RunInfoFromJSON converts the wire form.
func RunInfoFromJSON(in RunInfoJSON) tracking.RunInfo {
	id := in.RunID
	if id == "" {
		id = in.RunUUID
	}
	return tracking.RunInfo{
		RunID:          id,
		ExperimentID:   in.ExperimentID,
		RunName:        in.RunName,
		UserID:         in.UserID,
		Status:         tracking.RunStatus(in.Status),
		StartTime:      FromMillis(in.StartTime),
		EndTime:        FromMillis(in.EndTime),
		ArtifactURI:    in.ArtifactURI,
		LifecycleStage: in.LifecycleStage,
	}
}

// RunInfoToJSON converts to the wire form.
func RunInfoToJSON(in tracking.RunInfo) RunInfoJSON {
	return RunInfoJSON{
		RunID:          in.RunID,
		RunUUID:        in.RunID,
		ExperimentID:   in.ExperimentID,
		RunName:        in.RunName,
		UserID:         in.UserID,
		Status:         string(in.Status),
		StartTime:      Millis(in.StartTime),
		EndTime:        Millis(in.EndTime),
		ArtifactURI:    in.ArtifactURI,
		LifecycleStage: in.LifecycleStage,
	}
}

// RunFromJSON converts the wire form. Metrics logged more than once keep the
// value with the latest timestamp, then the highest step.
func RunFromJSON(in RunJSON) tracking.Run {
	data := tracking.RunData{
		Params:  make(map[string]string, len(in.Data.Params)),
		Metrics: make(map[string]float64, len(in.Data.Metrics)),
		Tags:    make(map[string]string, len(in.Data.Tags)),
	}
	for _, p := range in.Data.Params {
		data.Params[p.Key] = p.Value
	}
	latest := map[string]MetricJSON{}
	for _, m := range in.Data.Metrics {
		prev, seen := latest[m.Key]
		if !seen || m.Timestamp > prev.Timestamp || (m.Timestamp == prev.Timestamp && m.Step >= prev.Step) {
			latest[m.Key] = m
		}
	}
	for key, m := range latest {
		data.Metrics[key] = float64(m.Value)
	}
	for _, t := range in.Data.Tags {
		data.Tags[t.Key] = t.Value
	}
	return tracking.Run{Info: RunInfoFromJSON(in.Info), Data: data}
}

// RunToJSON converts to the wire form with keys in sorted order.
func RunToJSON(in tracking.Run, metricTime time.Time) RunJSON {
	out := RunJSON{Info: RunInfoToJSON(in.Info)}
	for _, key := range sortedKeys(in.Data.Params) {
		out.Data.Params = append(out.Data.Params, KeyValue{Key: key, Value: in.Data.Params[key]})
	}
	for _, key := range sortedKeys(in.Data.Metrics) {
		out.Data.Metrics = append(out.Data.Metrics, MetricJSON{Key: key, Value: Float(in.Data.Metrics[key]), Timestamp: Millis(metricTime)})
	}
	for _, key := range sortedKeys(in.Data.Tags) {
		out.Data.Tags = append(out.Data.Tags, KeyValue{Key: key, Value: in.Data.Tags[key]})
	}
	return out
}

func tagsToJSON(tags []tracking.Tag) []KeyValue {
	out := make([]KeyValue, 0, len(tags))
	for _, tag := range tags {
		out = append(out, KeyValue{Key: tag.Key, Value: tag.Value})
	}
	return out
}
