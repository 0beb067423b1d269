package registry

import "errors"

var (
	// ErrInvalidPath is returned when a path cannot be mapped to a registry key
	ErrInvalidPath = errors.New("invalid registry path")

	// ErrWatchClosed is returned when a watch ends before delivering its initial state
	ErrWatchClosed = errors.New("registry watch closed")

	// ErrNotConnected is returned when the registry connection is down
	ErrNotConnected = errors.New("registry not connected")
)
