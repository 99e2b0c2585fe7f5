package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/harvest-tasks/pkg/core"
	"github.com/jdziat/harvest-tasks/pkg/security"
)

// WorkFunc is the body of a Func or Async task. The task is also reachable
// through FromContext(ctx).
type WorkFunc func(ctx context.Context, t *Task) (any, error)

// Task is one unit of work inside a chain.
type Task struct {
	Name        string
	Description string
	// ResultAs, when set, stores the task's data in the chain variables
	// under this name once the task completes.
	ResultAs string

	work Work

	mu       sync.RWMutex
	status   core.Status
	data     any
	meta     any
	fault    error
	previous *Task
	chain    *Chain
	position int
	start    time.Time
	end      time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewTask creates an initialized task around work.
func NewTask(name string, work Work) *Task {
	return &Task{
		Name:   name,
		work:   work,
		status: core.StatusInitialized,
	}
}

type taskKey struct{}

// FromContext returns the task executing the current work function.
func FromContext(ctx context.Context) *Task {
	if t, ok := ctx.Value(taskKey{}).(*Task); ok {
		return t
	}
	return nil
}

// Work returns the task's work variant.
func (t *Task) Work() Work { return t.work }

// Kind returns the kind of the task's work.
func (t *Task) Kind() Kind {
	if t.work == nil {
		return ""
	}
	return t.work.Kind()
}

func (t *Task) IsAsync() bool { return t.Kind() == KindAsync }

func (t *Task) Status() core.Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Task) Data() any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.data
}

func (t *Task) Meta() any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.meta
}

// SetMeta attaches metadata to the task. Work functions use it to report
// details alongside their data.
func (t *Task) SetMeta(meta any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.meta = meta
}

// Fault returns the error the task failed with, if any.
func (t *Task) Fault() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fault
}

// Previous returns the task that ran before this one in its chain.
func (t *Task) Previous() *Task {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.previous
}

// Chain returns the chain the task belongs to, or nil when run standalone.
func (t *Task) Chain() *Chain {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.chain
}

// Position returns the task's index in its chain.
func (t *Task) Position() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.position
}

// Duration returns how long the task ran, or has been running.
func (t *Task) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	switch {
	case t.start.IsZero():
		return 0
	case t.end.IsZero():
		return time.Since(t.start)
	default:
		return t.end.Sub(t.start)
	}
}

// Run executes fn synchronously and records its outcome. A panic in fn is
// recorded as a task error.
func (t *Task) Run(ctx context.Context, fn WorkFunc) *Task {
	t.mu.Lock()
	t.status = core.StatusRunning
	t.start = time.Now()
	t.end = time.Time{}
	t.mu.Unlock()

	data, err := t.call(ctx, fn)
	if err != nil {
		t.onError(err)
	} else {
		t.onComplete(data)
	}
	return t
}

func (t *Task) call(ctx context.Context, fn WorkFunc) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(context.WithValue(ctx, taskKey{}, t), t)
}

// Start runs fn in the background. Wait blocks until it finishes and
// Terminate cancels the context fn receives.
func (t *Task) Start(ctx context.Context, fn WorkFunc) *Task {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	t.mu.Lock()
	t.status = core.StatusRunning
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		t.Run(ctx, fn)
	}()
	return t
}

// Wait blocks until a task started with Start finishes, or ctx is done.
// It returns immediately for tasks that were never started in the background.
func (t *Task) Wait(ctx context.Context) error {
	t.mu.RLock()
	done := t.done
	t.mu.RUnlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminate marks the task terminating and cancels background work.
func (t *Task) Terminate() {
	t.mu.Lock()
	t.status = core.StatusTerminating
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.logger().Warn("task terminating", "task", t.Name)
}

func (t *Task) onComplete(data any) {
	t.mu.Lock()
	t.data = data
	c := t.chain
	t.mu.Unlock()

	// Publish before the status flips so a waiter that sees complete also
	// sees the variable.
	if t.ResultAs != "" && c != nil {
		c.vars.Set(t.ResultAs, data)
	}

	t.mu.Lock()
	t.status = core.StatusComplete
	t.end = time.Now()
	t.mu.Unlock()
}

func (t *Task) onError(err error) {
	msg := security.SanitizeErrorMessage(err.Error())

	t.mu.Lock()
	t.status = core.StatusError
	t.fault = err
	t.meta = map[string]any{"error": msg}
	t.end = time.Now()
	t.mu.Unlock()

	t.logger().Error("task failed", "task", t.Name, "error", msg)
}

func (t *Task) clearData() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = nil
}

func (t *Task) attach(c *Chain, position int, previous *Task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chain = c
	t.position = position
	t.previous = previous
}

func (t *Task) logger() *slog.Logger {
	t.mu.RLock()
	c := t.chain
	t.mu.RUnlock()
	if c != nil {
		return c.logger.With("chain", c.Name)
	}
	return slog.Default()
}
