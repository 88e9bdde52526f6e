package worker

import "errors"

// Sentinel kinds for worker errors.
var (
	ErrWorkerFailed  = errors.New("worker failed")
	ErrNotStarted    = errors.New("worker not started")
	ErrStopped       = errors.New("worker stopped")
	ErrInvalidAction = errors.New("invalid action")
)
