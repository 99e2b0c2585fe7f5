package chain

import (
	"errors"
	"fmt"
)

// ErrNotInChain is returned by work that needs a chain (Wait, Prune,
// Aggregate) when its task runs standalone.
var ErrNotInChain = errors.New("harvest: task is not attached to a chain")

// Error reports a chain run that stopped early.
type Error struct {
	Chain    string
	Task     string
	Position int
	Err      error
}

func (e *Error) Error() string {
	if e.Task == "" {
		return fmt.Sprintf("chain %s: %v", e.Chain, e.Err)
	}
	return fmt.Sprintf("chain %s: task %s at position %d: %v", e.Chain, e.Task, e.Position, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
