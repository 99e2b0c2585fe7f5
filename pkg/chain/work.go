package chain

import (
	"context"
	"time"

	"github.com/jdziat/harvest-tasks/pkg/core"
)

// Kind names a work variant. Descriptors select variants by kind.
type Kind string

const (
	KindFunc      Kind = "func"
	KindAsync     Kind = "async"
	KindWait      Kind = "wait"
	KindPrune     Kind = "prune"
	KindAggregate Kind = "aggregate"
)

// DefaultWaitInterval is how often a Wait task re-checks its condition.
const DefaultWaitInterval = time.Second

// Work is the closed set of task variants.
type Work interface {
	Kind() Kind
	isWork()
}

// Func runs Fn synchronously.
type Func struct {
	Fn WorkFunc
}

func (*Func) Kind() Kind { return KindFunc }
func (*Func) isWork()    {}

// Async starts Fn in the background; the chain moves on immediately.
type Async struct {
	Fn WorkFunc
}

func (*Async) Kind() Kind { return KindAsync }
func (*Async) isWork()    {}

// Wait blocks the chain until one of its enabled conditions holds over the
// tasks before it. Conditions are checked in field order.
type Wait struct {
	Interval time.Duration

	// AllPreviousAsync waits for every earlier async task.
	AllPreviousAsync bool
	// AllPrevious waits for every earlier task.
	AllPrevious bool
	// AllNamed waits for every earlier task with one of these names.
	AllNamed []string
	// AnyNamed waits for at least one earlier task with one of these names.
	AnyNamed []string
}

func (*Wait) Kind() Kind { return KindWait }
func (*Wait) isWork()    {}

// Enabled reports whether any condition is set.
func (w *Wait) Enabled() bool {
	return w.AllPreviousAsync || w.AllPrevious || len(w.AllNamed) > 0 || len(w.AnyNamed) > 0
}

// Satisfied evaluates the enabled conditions over prior.
// A named condition whose names match no prior task holds vacuously.
func (w *Wait) Satisfied(prior []*Task) bool {
	if w.AllPreviousAsync && allTerminal(prior, func(t *Task) bool { return t.IsAsync() }) {
		return true
	}
	if w.AllPrevious && allTerminal(prior, func(*Task) bool { return true }) {
		return true
	}
	if len(w.AllNamed) > 0 && allTerminal(prior, named(w.AllNamed)) {
		return true
	}
	if len(w.AnyNamed) > 0 && anyTerminal(prior, named(w.AnyNamed)) {
		return true
	}
	return false
}

func (w *Wait) block(ctx context.Context, t *Task) (any, error) {
	c := t.Chain()
	if c == nil {
		return nil, ErrNotInChain
	}

	interval := w.Interval
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	position := t.Position()
	for {
		// A terminating chain releases its waiters.
		if c.Status() == core.StatusTerminating || t.Status() == core.StatusTerminating {
			return nil, nil
		}
		if w.Satisfied(c.tasksBefore(position)) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil
		case <-ticker.C:
		}
	}
}

// Prune releases memory held by the chain.
type Prune struct {
	// PreviousTaskData drops the data of every earlier task. Status and
	// meta are kept.
	PreviousTaskData bool
	// StoredVariables clears the chain variables.
	StoredVariables bool
}

func (*Prune) Kind() Kind { return KindPrune }
func (*Prune) isWork()    {}

func (p *Prune) prune(ctx context.Context, t *Task) (any, error) {
	c := t.Chain()
	if c == nil {
		return nil, ErrNotInChain
	}
	if p.PreviousTaskData {
		for _, prior := range c.tasksBefore(t.Position()) {
			prior.clearData()
		}
	}
	if p.StoredVariables {
		c.vars.Clear()
	}
	return nil, nil
}

func allTerminal(tasks []*Task, include func(*Task) bool) bool {
	for _, t := range tasks {
		if include(t) && !t.Status().IsTerminal() {
			return false
		}
	}
	return true
}

func anyTerminal(tasks []*Task, include func(*Task) bool) bool {
	for _, t := range tasks {
		if include(t) && t.Status().IsTerminal() {
			return true
		}
	}
	return false
}

func named(names []string) func(*Task) bool {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(t *Task) bool {
		_, ok := set[t.Name]
		return ok
	}
}
