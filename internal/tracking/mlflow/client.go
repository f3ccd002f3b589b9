// Package mlflow implements tracking.Store over the MLflow REST API.
package mlflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	apperrors "evaltrack/internal/pkg/errors"
	"evaltrack/internal/tracking"
)

// ArtifactScheme is the artifact root scheme served by the tracking server's
// artifact proxy.
const ArtifactScheme = "mlflow-artifacts"

// Client talks to an MLflow tracking server.
type Client struct {
	baseURL string
	client  *http.Client
	creds   tracking.Credentials
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithTimeout sets a per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.client = &http.Client{Timeout: timeout, Transport: c.client.Transport}
		}
	}
}

// WithCredentials authenticates every request.
func WithCredentials(creds tracking.Credentials) Option {
	return func(c *Client) { c.creds = creds }
}

// New constructs a client for the given tracking URI.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ tracking.Store = (*Client)(nil)

// GetExperimentByName implements tracking.Store.
func (c *Client) GetExperimentByName(ctx context.Context, name string) (tracking.Experiment, error) {
	var res GetExperimentResponse
	query := url.Values{"experiment_name": {name}}
	if err := c.call(ctx, http.MethodGet, PathGetExperimentByName, query, nil, &res); err != nil {
		return tracking.Experiment{}, err
	}
	return tracking.Experiment{
		ID:               res.Experiment.ExperimentID,
		Name:             res.Experiment.Name,
		ArtifactLocation: res.Experiment.ArtifactLocation,
	}, nil
}

// CreateExperiment implements tracking.Store.
func (c *Client) CreateExperiment(ctx context.Context, name string) (string, error) {
	var res CreateExperimentResponse
	if err := c.call(ctx, http.MethodPost, PathCreateExperiment, nil, CreateExperimentRequest{Name: name}, &res); err != nil {
		return "", err
	}
	return res.ExperimentID, nil
}

// CreateRun implements tracking.Store.
func (c *Client) CreateRun(ctx context.Context, req tracking.CreateRunRequest) (tracking.RunInfo, error) {
	payload := CreateRunRequest{
		ExperimentID: req.ExperimentID,
		RunName:      req.RunName,
		StartTime:    Millis(req.StartTime),
		Tags:         tagsToJSON(req.Tags),
	}
	var res RunResponse
	if err := c.call(ctx, http.MethodPost, PathCreateRun, nil, payload, &res); err != nil {
		return tracking.RunInfo{}, err
	}
	return RunInfoFromJSON(res.Run.Info), nil
}

// LogBatch implements tracking.Store. Batches larger than the server limits
// are split into several requests.
func (c *Client) LogBatch(ctx context.Context, runID string, batch tracking.Batch) error {
	for _, chunk := range splitBatch(batch) {
		payload := LogBatchRequest{RunID: runID, Tags: tagsToJSON(chunk.Tags)}
		for _, p := range chunk.Params {
			payload.Params = append(payload.Params, KeyValue{Key: p.Key, Value: p.Value})
		}
		for _, m := range chunk.Metrics {
			payload.Metrics = append(payload.Metrics, MetricJSON{
				Key:       m.Key,
				Value:     Float(m.Value),
				Timestamp: Millis(m.Timestamp),
				Step:      Int64(m.Step),
			})
		}
		if err := c.call(ctx, http.MethodPost, PathLogBatch, nil, payload, nil); err != nil {
			return err
		}
	}
	return nil
}

func splitBatch(batch tracking.Batch) []tracking.Batch {
	var chunks []tracking.Batch
	params, metrics, tags := batch.Params, batch.Metrics, batch.Tags
	for len(params) > 0 || len(metrics) > 0 || len(tags) > 0 {
		var chunk tracking.Batch
		n := min(len(params), MaxParamsPerBatch)
		chunk.Params, params = params[:n], params[n:]
		n = min(len(metrics), MaxMetricsPerBatch)
		chunk.Metrics, metrics = metrics[:n], metrics[n:]
		n = min(len(tags), MaxTagsPerBatch)
		chunk.Tags, tags = tags[:n], tags[n:]
		chunks = append(chunks, chunk)
	}
	return chunks
}

// UpdateRun implements tracking.Store.
func (c *Client) UpdateRun(ctx context.Context, runID string, status tracking.RunStatus, endTime time.Time) (tracking.RunInfo, error) {
	payload := UpdateRunRequest{RunID: runID, Status: string(status), EndTime: Millis(endTime)}
	var res UpdateRunResponse
	if err := c.call(ctx, http.MethodPost, PathUpdateRun, nil, payload, &res); err != nil {
		return tracking.RunInfo{}, err
	}
	return RunInfoFromJSON(res.RunInfo), nil
}

// SearchRuns implements tracking.Store.
func (c *Client) SearchRuns(ctx context.Context, req tracking.SearchRequest) (tracking.SearchPage, error) {
	payload := SearchRunsRequest{
		ExperimentIDs: req.ExperimentIDs,
		Filter:        req.Filter,
		RunViewType:   "ACTIVE_ONLY",
		MaxResults:    req.MaxResults,
		OrderBy:       req.OrderBy,
		PageToken:     req.PageToken,
	}
	var res SearchRunsResponse
	if err := c.call(ctx, http.MethodPost, PathSearchRuns, nil, payload, &res); err != nil {
		return tracking.SearchPage{}, err
	}
	page := tracking.SearchPage{NextPageToken: res.NextPageToken}
	for _, run := range res.Runs {
		page.Runs = append(page.Runs, RunFromJSON(run))
	}
	return page, nil
}

// GetRun implements tracking.Store.
func (c *Client) GetRun(ctx context.Context, runID string) (tracking.Run, error) {
	var res RunResponse
	if err := c.call(ctx, http.MethodGet, PathGetRun, url.Values{"run_id": {runID}}, nil, &res); err != nil {
		return tracking.Run{}, err
	}
	return RunFromJSON(res.Run), nil
}

// ListArtifacts implements tracking.Store.
func (c *Client) ListArtifacts(ctx context.Context, runID, dir string) ([]tracking.FileInfo, error) {
	query := url.Values{"run_id": {runID}}
	if dir != "" {
		query.Set("path", dir)
	}
	var res ListArtifactsResponse
	if err := c.call(ctx, http.MethodGet, PathListArtifacts, query, nil, &res); err != nil {
		return nil, err
	}
	out := make([]tracking.FileInfo, 0, len(res.Files))
	for _, f := range res.Files {
		out = append(out, tracking.FileInfo{Path: f.Path, IsDir: f.IsDir, Size: int64(f.FileSize)})
	}
	return out, nil
}

// LogArtifact implements tracking.Store by streaming the file through the
// server's artifact proxy. Only mlflow-artifacts roots are supported.
func (c *Client) LogArtifact(ctx context.Context, run tracking.RunInfo, localPath, artifactPath string) error {
	root, err := ArtifactRootPath(run.ArtifactURI)
	if err != nil {
		return apperrors.ArtifactUploadError(localPath, err)
	}
	file, err := os.Open(localPath)
	if err != nil {
		return apperrors.ArtifactUploadError(localPath, err)
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		return apperrors.ArtifactUploadError(localPath, err)
	}

	target := path.Join(root, artifactPath, filepath.Base(localPath))
	endpoint := c.baseURL + PathArtifactsProxy + escapePath(target)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, file)
	if err != nil {
		return apperrors.ArtifactUploadError(localPath, err)
	}
	req.ContentLength = stat.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	body, status, err := c.do(req)
	if err != nil {
		return apperrors.ArtifactUploadError(localPath, err)
	}
	if status != http.StatusOK {
		return apperrors.ArtifactUploadError(localPath, decodeHTTPError(status, body))
	}
	return nil
}

// ArtifactRootPath returns the proxy-relative path of an mlflow-artifacts URI,
// for example "1/abc/artifacts" for "mlflow-artifacts:/1/abc/artifacts".
func ArtifactRootPath(artifactURI string) (string, error) {
	parsed, err := url.Parse(artifactURI)
	if err != nil {
		return "", fmt.Errorf("parse artifact uri %q: %w", artifactURI, err)
	}
	if parsed.Scheme != ArtifactScheme {
		return "", fmt.Errorf("unsupported artifact root %q: only %s:/ roots can be uploaded through the tracking server", artifactURI, ArtifactScheme)
	}
	root := strings.Trim(parsed.Path, "/")
	if root == "" {
		root = strings.Trim(parsed.Opaque, "/")
	}
	if root == "" {
		return "", fmt.Errorf("artifact uri %q has no path", artifactURI)
	}
	return root, nil
}

func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

func (c *Client) call(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return apperrors.TrackingError("encode request", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return apperrors.TrackingError("build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	body, status, err := c.do(req)
	if err != nil {
		return apperrors.TrackingError(fmt.Sprintf("%s %s", method, endpoint), err)
	}
	if status != http.StatusOK {
		return decodeHTTPError(status, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.TrackingError(fmt.Sprintf("decode %s response", endpoint), err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	switch {
	case c.creds.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.creds.Token)
	case c.creds.Username != "" || c.creds.Password != "":
		req.SetBasicAuth(c.creds.Username, c.creds.Password)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func decodeHTTPError(status int, body []byte) error {
	var resp ErrorResponse
	message := fmt.Sprintf("http %d", status)
	if err := json.Unmarshal(body, &resp); err == nil && resp.ErrorCode != "" {
		message = fmt.Sprintf("http %d: %s: %s", status, resp.ErrorCode, resp.Message)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.RemoteAuthError(message, nil)
	case status == http.StatusNotFound || resp.ErrorCode == ErrorResourceDoesNotExist:
		return apperrors.NotFoundError(message)
	default:
		return apperrors.TrackingError(message, nil)
	}
}
