package core

import "time"

// Event is the interface for all dispatcher events.
type Event interface {
	eventMarker()
}

// ChainStarted is emitted when a dispatcher starts a queued chain.
type ChainStarted struct {
	RecordKey string
	ID        string
	Name      string
	Timestamp time.Time
}

func (*ChainStarted) eventMarker() {}

// ChainCompleted is emitted when a queued chain finishes without aborting.
type ChainCompleted struct {
	RecordKey string
	ID        string
	Name      string
	Duration  time.Duration
	Timestamp time.Time
}

func (*ChainCompleted) eventMarker() {}

// ChainFailed is emitted when a queued chain aborts or cannot be built.
type ChainFailed struct {
	RecordKey string
	ID        string
	Name      string
	Error     error
	Timestamp time.Time
}

func (*ChainFailed) eventMarker() {}

// RecordSkipped is emitted when a popped queue entry has no live record.
type RecordSkipped struct {
	RecordKey string
	Timestamp time.Time
}

func (*RecordSkipped) eventMarker() {}
