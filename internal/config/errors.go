package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is matched by every InvalidConfigError
var ErrInvalidConfig = errors.New("invalid configuration")

// InvalidConfigError reports a path entry that cannot be used
type InvalidConfigError struct {
	Path   string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config for path %s: %s", e.Path, e.Reason)
}

func (e *InvalidConfigError) Unwrap() error {
	return ErrInvalidConfig
}
