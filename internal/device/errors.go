package device

import (
	"errors"
	"fmt"
)

// ErrNotConnected is wrapped by every ConnectionError.
var ErrNotConnected = errors.New("device not connected")

// ConnectionError means the link to the device is unavailable or was lost.
// It ends the session; callers should not retry on the same client.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("device %s: %v", e.Op, ErrNotConnected)
	}
	return fmt.Sprintf("device %s: %v: %v", e.Op, ErrNotConnected, e.Err)
}

// Unwrap exposes ErrNotConnected and the underlying cause.
func (e *ConnectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNotConnected}
	}
	return []error{ErrNotConnected, e.Err}
}

// CommunicationError means a request reached the device but the exchange
// failed or timed out. The link may still be usable.
type CommunicationError struct {
	Op  string
	Err error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("device %s: communication failed: %v", e.Op, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }
