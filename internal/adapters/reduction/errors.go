package reduction

import (
	"errors"
	"fmt"
)

// ErrRemoteStatus is matched by every non-2xx response from the remote service.
var ErrRemoteStatus = errors.New("remote returned error status")

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string // first 512 bytes
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Is reports ErrRemoteStatus as a match.
func (e *StatusError) Is(target error) bool {
	return target == ErrRemoteStatus
}

func (e *StatusError) retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
