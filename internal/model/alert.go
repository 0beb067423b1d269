package model

import "time"

// State is the compliance classification of a watched path
type State string

const (
	StateUnknown State = "UNKNOWN"
	StateOK      State = "OK"
	StateError   State = "ERROR"
)

// NextAction drives the dispatcher's delivery decision for a path
type NextAction string

const (
	ActionNone  NextAction = "none"
	ActionAlert NextAction = "alert"
	ActionSent  NextAction = "sent"
)

// Notification is the message handed to every notification backend
type Notification struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	State     State     `json:"state"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Delivery records the outcome of one backend send attempt
type Delivery struct {
	ID             string    `json:"id"`
	NotificationID string    `json:"notification_id"`
	Path           string    `json:"path"`
	Backend        string    `json:"backend"`
	State          State     `json:"state"`
	Message        string    `json:"message"`
	Delivered      bool      `json:"delivered"`
	Error          string    `json:"error,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// DispatcherStatus is rendered on the status page
type DispatcherStatus struct {
	Alerters []string `json:"alerters"`
	Alerting bool     `json:"alerting"`
}

// ComplianceStatus is the live compliance of a single path
type ComplianceStatus struct {
	Message string `json:"message"`
	State   State  `json:"state"`
}
