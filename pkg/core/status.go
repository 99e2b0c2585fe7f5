// Package core provides the domain models and interfaces for the harvest packages.
package core

// Status represents the state of a task, a chain, or a queue record.
type Status string

const (
	StatusInitialized Status = "initialized" // created, not started
	StatusRunning     Status = "running"
	StatusComplete    Status = "complete"
	StatusError       Status = "error"
	StatusTerminating Status = "terminating" // asked to stop, advisory

	// StatusEnqueued only appears on queue records, before a dispatcher picks them up.
	StatusEnqueued Status = "enqueued"
)

// TaskStatuses lists the statuses a task or chain can hold, in display order.
var TaskStatuses = []Status{
	StatusInitialized,
	StatusRunning,
	StatusComplete,
	StatusError,
	StatusTerminating,
}

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusInitialized, StatusRunning, StatusComplete, StatusError, StatusTerminating, StatusEnqueued:
		return true
	default:
		return false
	}
}
