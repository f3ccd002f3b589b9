// Package scores persists the latest evaluation result as a local JSON
// document.
package scores

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	apperrors "evaltrack/internal/pkg/errors"
)

// Record is the outcome of one evaluation pass.
type Record struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

// Metrics returns the record as metric name/value pairs in a fixed order.
func (r Record) Metrics() []Metric {
	return []Metric{
		{Name: "loss", Value: r.Loss},
		{Name: "accuracy", Value: r.Accuracy},
	}
}

// Metric is one named value of a Record.
type Metric struct {
	Name  string
	Value float64
}

// Persist writes record to destination, replacing any previous document. The
// file is written to a temporary sibling, synced, then renamed into place so a
// reader never observes a partial document.
func Persist(record Record, destination string) error {
	if destination == "" {
		return apperrors.PersistenceError(destination, fmt.Errorf("destination is required"))
	}
	payload, err := json.MarshalIndent(record, "", "    ")
	if err != nil {
		return apperrors.PersistenceError(destination, err)
	}
	payload = append(payload, '\n')

	dir := filepath.Dir(destination)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.PersistenceError(destination, err)
	}
	file, err := os.CreateTemp(dir, "."+filepath.Base(destination)+".tmp-*")
	if err != nil {
		return apperrors.PersistenceError(destination, err)
	}
	tmpPath := file.Name()
	_, writeErr := file.Write(payload)
	syncErr := file.Sync()
	closeErr := file.Close()
	for _, err := range []error{writeErr, syncErr, closeErr} {
		if err != nil {
			_ = os.Remove(tmpPath)
			return apperrors.PersistenceError(destination, err)
		}
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return apperrors.PersistenceError(destination, err)
	}
	if err := os.Rename(tmpPath, destination); err != nil {
		_ = os.Remove(tmpPath)
		return apperrors.PersistenceError(destination, err)
	}
	return nil
}

// Load reads a document written by Persist.
func Load(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, apperrors.NotFoundError(fmt.Sprintf("scores file %s", path))
		}
		return Record{}, fmt.Errorf("read scores: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	var raw struct {
		Loss     *float64 `json:"loss"`
		Accuracy *float64 `json:"accuracy"`
	}
	if err := decoder.Decode(&raw); err != nil {
		return Record{}, fmt.Errorf("decode scores %s: %w", path, err)
	}
	if raw.Loss == nil || raw.Accuracy == nil {
		return Record{}, fmt.Errorf("decode scores %s: loss and accuracy are required", path)
	}
	return Record{Loss: *raw.Loss, Accuracy: *raw.Accuracy}, nil
}
