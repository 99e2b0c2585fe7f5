package core

import (
	"errors"
	"fmt"
)

// Protocol errors. Each maps onto one entry of the closed Reason vocabulary.
var (
	ErrNotFound         = errors.New("harvest: not found")
	ErrTimeout          = errors.New("harvest: timed out")
	ErrTemplateNotFound = errors.New("harvest: template not found")
	ErrNotImplemented   = errors.New("harvest: not implemented")
)

// Validation errors
var (
	ErrInvalidName       = errors.New("harvest: invalid name (must be alphanumeric, start with letter)")
	ErrNameTooLong       = errors.New("harvest: name too long")
	ErrInvalidID         = errors.New("harvest: invalid identifier")
	ErrInvalidPriority   = errors.New("harvest: priority must be a non-negative integer")
	ErrConfigTooLarge    = errors.New("harvest: task config exceeds size limit")
	ErrKeyNotFound       = errors.New("harvest: key not found")
	ErrUnknownTaskKind   = errors.New("harvest: unknown task kind")
	ErrUnknownFunction   = errors.New("harvest: unknown function")
	ErrNoWaitCondition   = errors.New("harvest: wait task has no condition enabled")
	ErrChainRunning      = errors.New("harvest: chain is already running")
	ErrNoDocumentStore   = errors.New("harvest: no document store configured")
	ErrMissingCollection = errors.New("harvest: aggregate task needs a collection or PSTAR address")
)

// Reason strings returned to callers of the queue protocol.
const (
	ReasonOK               = "OK"
	ReasonNotFound         = "NOT FOUND"
	ReasonTimeout          = "TIMEOUT"
	ReasonTemplateNotFound = "TEMPLATE NOT FOUND"
	ReasonNotImplemented   = "NOT IMPLEMENTED"
)

// ReasonFor maps an error onto the reason vocabulary.
// Errors outside the vocabulary are reported by message; callers wrap them
// with a stable cause summary ("failed to queue task x: ...").
func ReasonFor(err error) string {
	switch {
	case err == nil:
		return ReasonOK
	case errors.Is(err, ErrTemplateNotFound):
		return ReasonTemplateNotFound
	case errors.Is(err, ErrTimeout):
		return ReasonTimeout
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrKeyNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrNotImplemented):
		return ReasonNotImplemented
	default:
		return err.Error()
	}
}

// AbortError signals the chain runner to stop executing further tasks.
// A work function returns it to escalate a failure from task state to the chain.
type AbortError struct {
	Err error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("chain aborted: %v", e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// Abort wraps an error so the chain stops after the current task.
func Abort(err error) error {
	return &AbortError{Err: err}
}

// IsAbort reports whether err carries the chain-abort signal.
func IsAbort(err error) bool {
	var abort *AbortError
	return errors.As(err, &abort)
}
