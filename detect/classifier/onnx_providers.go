//go:build onnx
// +build onnx

package classifier

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// ListExecutionProviders returns the execution providers the classifier can
// request. The binding exposes no provider query, so only CPU is guaranteed;
// others are tried when a session is created.
func ListExecutionProviders() ([]string, error) {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}
	return []string{"cpu"}, nil
}
