package packet

import "fmt"

// FrameError indicates a malformed or unrecognized header.
// Such frames are dropped without reply.
type FrameError struct {
	Label  byte
	Reason string
}

// Error implements error.
func (e *FrameError) Error() string {
	return fmt.Sprintf("frame error: %s (label 0x%02x)", e.Reason, e.Label)
}

// IsFrameError checks if err is a *FrameError.
func IsFrameError(err error) bool {
	_, ok := err.(*FrameError)
	return ok
}
