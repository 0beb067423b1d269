package model

import "time"

// Params are backend specific parameters, copied verbatim from the path file
type Params map[string]string

// PathConfig is the static configuration of a single watched path.
// It is immutable once loaded.
type PathConfig struct {
	// Children is the minimum number of child nodes, nil when no rule is set.
	Children *int

	// CancelTimeout is how long an ERROR must persist before it is delivered.
	CancelTimeout time.Duration

	// Alerter maps a backend name to its parameters.
	Alerter map[string]Params
}

// PathRecord is the dispatcher's view of a path
type PathRecord struct {
	Path       string     `json:"path"`
	State      State      `json:"state"`
	Reason     string     `json:"reason"`
	NextAction NextAction `json:"next_action"`
}
