package config

import "errors"

var (
	// ErrInvalidConfig wraps every Validate failure; the message names the key.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrLoadConfig wraps file, YAML and SWAPBRIDGE_* env failures in Load.
	ErrLoadConfig = errors.New("load config failed")
)
