// Package errors provides the application error type shared by the evaluation
// and tracking layers.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes.
const (
	// Evaluation and local persistence.
	CodeModelLoad   = "MODEL_LOAD_ERROR"
	CodeDataSource  = "DATA_SOURCE_ERROR"
	CodeEvaluation  = "EVALUATION_ERROR"
	CodePersistence = "PERSISTENCE_ERROR"

	// Tracking store.
	CodeRemoteAuth     = "REMOTE_AUTH_ERROR"
	CodeArtifactUpload = "ARTIFACT_UPLOAD_ERROR"
	CodeTracking       = "TRACKING_ERROR"
	CodeNotFound       = "NOT_FOUND"

	// Queries and configuration.
	CodeNoData     = "NO_DATA"
	CodeValidation = "VALIDATION_ERROR"
)

// AppError represents an application error with code and details.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound, CodeNoData:
		return http.StatusNotFound
	case CodeRemoteAuth:
		return http.StatusUnauthorized
	case CodeTracking, CodeArtifactUpload:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Convenience constructors.

// ModelLoadError reports a model artifact that cannot be opened or deserialized.
func ModelLoadError(path string, err error) *AppError {
	return Wrap(CodeModelLoad, fmt.Sprintf("load model %s", path), err).WithDetail("path", path)
}

// DataSourceError reports a missing or malformed validation tree.
func DataSourceError(message string, err error) *AppError {
	return Wrap(CodeDataSource, message, err)
}

// EvaluationError reports a model that produced unusable output.
func EvaluationError(message string, err error) *AppError {
	return Wrap(CodeEvaluation, message, err)
}

// PersistenceError reports a failed local write.
func PersistenceError(path string, err error) *AppError {
	return Wrap(CodePersistence, fmt.Sprintf("persist %s", path), err).WithDetail("path", path)
}

// RemoteAuthError reports a tracking store that rejected our identity.
func RemoteAuthError(message string, err error) *AppError {
	if message == "" {
		message = "tracking store rejected credentials"
	}
	return Wrap(CodeRemoteAuth, message, err)
}

// ArtifactUploadError reports a failed artifact upload.
func ArtifactUploadError(artifact string, err error) *AppError {
	return Wrap(CodeArtifactUpload, fmt.Sprintf("upload artifact %s", artifact), err).WithDetail("artifact", artifact)
}

// TrackingError reports any other tracking store failure.
func TrackingError(message string, err error) *AppError {
	return Wrap(CodeTracking, message, err)
}

// NotFoundError creates a not found error.
func NotFoundError(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// NoDataError reports a query with nothing to aggregate.
func NoDataError(metric string) *AppError {
	return New(CodeNoData, fmt.Sprintf("no runs have metric %q", metric)).WithDetail("metric", metric)
}

// ValidationError creates a validation error.
func ValidationError(message string) *AppError {
	return New(CodeValidation, message)
}

// CodeOf returns the code of the first AppError in the chain, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Is reports whether any AppError in the chain, including joined branches,
// carries code.
func Is(err error, code string) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *AppError:
		if e.Code == code {
			return true
		}
		return Is(e.Err, code)
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if Is(inner, code) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return Is(e.Unwrap(), code)
	default:
		return false
	}
}

// IsModelLoad checks if error is a model load error.
func IsModelLoad(err error) bool { return Is(err, CodeModelLoad) }

// IsDataSource checks if error is a data source error.
func IsDataSource(err error) bool { return Is(err, CodeDataSource) }

// IsPersistence checks if error is a persistence error.
func IsPersistence(err error) bool { return Is(err, CodePersistence) }

// IsRemoteAuth checks if error is a remote auth error.
func IsRemoteAuth(err error) bool { return Is(err, CodeRemoteAuth) }

// IsArtifactUpload checks if error is an artifact upload error.
func IsArtifactUpload(err error) bool { return Is(err, CodeArtifactUpload) }

// IsNoData checks if error is a no data error.
func IsNoData(err error) bool { return Is(err, CodeNoData) }

// IsNotFound checks if error is a not found error.
func IsNotFound(err error) bool { return Is(err, CodeNotFound) }

// IsValidation checks if error is a validation error.
func IsValidation(err error) bool { return Is(err, CodeValidation) }

// ErrorResponse is the JSON error body served over HTTP.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteError writes err as a JSON response. Errors that are not AppErrors are
// reported as internal without their message.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	status := http.StatusInternalServerError
	resp := ErrorResponse{Error: "internal server error", Code: "INTERNAL_ERROR"}
	if stderrors.As(err, &appErr) {
		status = appErr.HTTPStatus()
		resp = ErrorResponse{Error: appErr.Message, Code: appErr.Code, Details: appErr.Details}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
