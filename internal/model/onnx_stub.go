//go:build !cgo

package model

import (
	"fmt"

	apperrors "evaltrack/internal/pkg/errors"
)

func loadONNX(path string, _ Options) (Model, error) {
	return nil, apperrors.ModelLoadError(path, fmt.Errorf("onnx models need a cgo build with ONNX Runtime available"))
}
