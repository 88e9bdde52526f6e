package repository

import "errors"

// Sentinel kinds for archive errors.
var (
	ErrClosed    = errors.New("archive closed")
	ErrInvalidID = errors.New("classification id is required")
)
