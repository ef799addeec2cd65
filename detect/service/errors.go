package service

import "errors"

var (
	// ErrInvalidInput is a caller error: empty, oversized or non-UTF-8 text.
	ErrInvalidInput = errors.New("invalid input")
	// ErrModelNotLoaded is returned until the detector is ready.
	ErrModelNotLoaded = errors.New("model not loaded")
	// ErrInference wraps an unexpected failure of one forward pass.
	ErrInference = errors.New("inference failed")
	// ErrLabelOrderMismatch means the calibration set disagrees with the
	// resolved AI/human index mapping.
	ErrLabelOrderMismatch = errors.New("label order mismatch")
	// ErrTokenizerEngine is returned by Start for an unusable tokenizer engine.
	ErrTokenizerEngine = errors.New("tokenizer engine rejected")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("detector already started")
)

// InputError says why a text was rejected. Reason is safe to show to callers.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string { return "invalid input: " + e.Reason }

// Is makes every InputError match ErrInvalidInput.
func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }
