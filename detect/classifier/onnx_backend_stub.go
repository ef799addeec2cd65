//go:build !onnx
// +build !onnx

package classifier

import (
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/aidetect/detect/artifact"
)

// ErrONNXUnavailable is returned when the binary was built without ONNX support.
var ErrONNXUnavailable = errors.New("onnx backend not available: build with -tags onnx")

func newONNXBackend(_ *artifact.Artifact, _ Options) (Backend, error) {
	return nil, fmt.Errorf("classifier: %w", ErrONNXUnavailable)
}

// ListExecutionProviders is a stub when the package is built without ONNX support.
func ListExecutionProviders() ([]string, error) {
	return nil, ErrONNXUnavailable
}
