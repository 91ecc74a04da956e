package detector

import "github.com/pkg/errors"

var (
	// ErrSourceNotReady is returned by Start when the frame source has no frame yet.
	ErrSourceNotReady = errors.New("frame source not ready")
	// ErrModelNotLoaded is returned by Start when no inference engine is set.
	ErrModelNotLoaded = errors.New("model not loaded")
	// ErrInvalidTransition is returned when an operation is not allowed in the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
)
