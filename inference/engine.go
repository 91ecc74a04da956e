// Package inference - Inference engine interface and implementations.
package inference

import (
	"context"
	"fmt"

	"gorgonia.org/tensor"
)

// Engine runs a detection model on a preprocessed input tensor.
//
// Execute is the only call of a detection cycle that may block for long. Implementations
// must honour ctx cancellation where the backend allows it.
type Engine interface {
	// Execute runs the model on a (1, H, W, 3) float32 input and returns the raw output.
	Execute(ctx context.Context, input *tensor.Dense) (*tensor.Dense, error)
	// Close releases the native resources held by the engine.
	Close() error
}

// InferenceError reports a failed model execution. It ends the detection session.
type InferenceError struct {
	Message string
	Cause   error
}

func (e *InferenceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("inference: %s: %v", e.Message, e.Cause)
	}
	return "inference: " + e.Message
}

// Unwrap returns the underlying cause.
func (e *InferenceError) Unwrap() error {
	return e.Cause
}
