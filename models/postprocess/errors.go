package postprocess

import "fmt"

// DecodeError reports detector output that does not have the expected rank, shape or type.
// It aborts the current cycle only.
type DecodeError struct {
	Message string
	Cause   error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode: %s: %v", e.Message, e.Cause)
	}
	return "decode: " + e.Message
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error {
	return e.Cause
}
