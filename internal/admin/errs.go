package admin

import "errors"

var (
	// ErrNotFound indicates that no task matches the given identifier.
	ErrNotFound = errors.New("admin: task not found")

	// ErrInvalidPID indicates a negative process identifier.
	ErrInvalidPID = errors.New("admin: invalid pid")
)
