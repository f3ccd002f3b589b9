// Package tracking defines the remote run store contract and the session that
// scopes every write to it.
package tracking

import (
	"sort"
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "RUNNING"
	RunStatusFinished RunStatus = "FINISHED"
	RunStatusFailed   RunStatus = "FAILED"
	RunStatusKilled   RunStatus = "KILLED"
)

// Terminal reports whether no further writes are accepted in this state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusFinished, RunStatusFailed, RunStatusKilled:
		return true
	default:
		return false
	}
}

// Experiment groups runs.
type Experiment struct {
	ID               string
	Name             string
	ArtifactLocation string
}

// RunInfo holds the store-assigned identity and lifecycle of a run.
type RunInfo struct {
	RunID          string
	ExperimentID   string
	RunName        string
	UserID         string
	Status         RunStatus
	StartTime      time.Time
	EndTime        time.Time
	ArtifactURI    string
	LifecycleStage string
}

// RunData holds everything logged to a run, keyed by name.
type RunData struct {
	Params  map[string]string
	Metrics map[string]float64
	Tags    map[string]string
}

// Run is one logged execution.
type Run struct {
	Info RunInfo
	Data RunData
}

// Param is a logged parameter.
type Param struct {
	Key   string
	Value string
}

// Metric is a logged metric value.
type Metric struct {
	Key       string
	Value     float64
	Timestamp time.Time
	Step      int64
}

// Tag is a run tag.
type Tag struct {
	Key   string
	Value string
}

// Batch groups parameters, metrics and tags written in one call.
type Batch struct {
	Params  []Param
	Metrics []Metric
	Tags    []Tag
}

// Empty reports whether the batch carries nothing.
func (b Batch) Empty() bool {
	return len(b.Params) == 0 && len(b.Metrics) == 0 && len(b.Tags) == 0
}

// CreateRunRequest opens a run.
type CreateRunRequest struct {
	ExperimentID string
	RunName      string
	StartTime    time.Time
	Tags         []Tag
}

// SearchRequest lists runs of experiments. OrderBy uses store syntax, for
// example "attributes.start_time DESC".
type SearchRequest struct {
	ExperimentIDs []string
	Filter        string
	OrderBy       []string
	MaxResults    int
	PageToken     string
}

// SearchPage is one page of search results.
type SearchPage struct {
	Runs          []Run
	NextPageToken string
}

// FileInfo describes one artifact entry.
type FileInfo struct {
	Path  string
	IsDir bool
	Size  int64
}

// OrderByStartTimeDesc is the ordering used for recent-run listings.
const OrderByStartTimeDesc = "attributes.start_time DESC"

// SortByStartDesc orders runs most recent first. The sort is stable so runs
// with equal start times keep the order the store returned them in.
func SortByStartDesc(runs []Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Info.StartTime.After(runs[j].Info.StartTime)
	})
}

// TagsToMap converts a tag list, later keys overwriting earlier ones.
func TagsToMap(tags []Tag) map[string]string {
	out := make(map[string]string, len(tags))
	for _, tag := range tags {
		out[tag.Key] = tag.Value
	}
	return out
}
