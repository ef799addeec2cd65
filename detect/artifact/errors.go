package artifact

import (
	"errors"
	"fmt"
)

// ErrArtifactLoad marks any failure to read or validate a model artifact.
// It is fatal at startup: a process that hits it must not report healthy.
var ErrArtifactLoad = errors.New("artifact load failed")

// LoadError carries the offending file alongside the cause.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrArtifactLoad, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is makes every LoadError match ErrArtifactLoad.
func (e *LoadError) Is(target error) bool { return target == ErrArtifactLoad }

func loadErr(path string, err error) error {
	return &LoadError{Path: path, Err: err}
}

func loadErrf(path, format string, args ...any) error {
	return &LoadError{Path: path, Err: fmt.Errorf(format, args...)}
}
