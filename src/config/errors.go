package config

import "errors"

var (
	// ErrNotFound is returned when a workspace has no configuration file.
	ErrNotFound = errors.New("config: no configuration found")

	// ErrInvalid wraps every configuration problem.
	ErrInvalid = errors.New("config: invalid configuration")
)
