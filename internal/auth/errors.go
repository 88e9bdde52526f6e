package auth

import "errors"

// Sentinel errors for inbound and outbound authentication.
var (
	// ErrUnauthorized is returned when inbound credentials are missing or wrong.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotAuthenticated is returned when no bearer token is cached and none
	// can be obtained without an operator.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNoTerminal is returned by the terminal prompter when stdin is not a tty.
	ErrNoTerminal = errors.New("no terminal available for interactive login")
)
