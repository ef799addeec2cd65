package classifier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/aidetect/detect/artifact"
	"github.com/rs/zerolog"
)

// ErrBadInput is returned by Forward for malformed batches.
var ErrBadInput = errors.New("bad classifier input")

const (
	BackendNative = "native"
	BackendONNX   = "onnx"
)

// Backend maps token ID batches to two-class logits.
type Backend interface {
	Name() string
	// Forward takes [B][L] ids and masks and returns [B][2] logits.
	Forward(inputIDs, attentionMask [][]int64) ([][]float64, error)
	// Concurrent reports whether Forward may be called from several goroutines.
	Concurrent() bool
	Stats() PoolStats
	Close() error
}

// Options configures Load.
type Options struct {
	Backend           string
	Erfc              ErfcMode
	ExecutionProvider string
	DeviceID          int
	IntraOpThreads    int
	// Registry lets callers share custom ops; a fresh one is used when nil.
	Registry *Registry
	Log      zerolog.Logger
}

// Load opens the backend named in opts over a loaded artifact.
func Load(a *artifact.Artifact, opts Options) (Backend, error) {
	name := strings.ToLower(strings.TrimSpace(opts.Backend))
	switch name {
	case BackendNative, "":
		return newNativeBackend(a, opts)
	case BackendONNX:
		return newONNXBackend(a, opts)
	default:
		return nil, fmt.Errorf("unknown classifier backend %q", opts.Backend)
	}
}

func checkBatch(ids, mask [][]int64, maxLen int) (int, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: empty batch", ErrBadInput)
	}
	if len(ids) != len(mask) {
		return 0, fmt.Errorf("%w: %d id rows, %d mask rows", ErrBadInput, len(ids), len(mask))
	}
	l := len(ids[0])
	if l == 0 {
		return 0, fmt.Errorf("%w: zero-length sequence", ErrBadInput)
	}
	if maxLen > 0 && l > maxLen {
		return 0, fmt.Errorf("%w: sequence length %d exceeds %d positions", ErrBadInput, l, maxLen)
	}
	for i := range ids {
		if len(ids[i]) != l || len(mask[i]) != l {
			return 0, fmt.Errorf("%w: row %d is not length %d", ErrBadInput, i, l)
		}
	}
	return l, nil
}
