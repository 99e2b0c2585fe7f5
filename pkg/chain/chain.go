package chain

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/harvest-tasks/pkg/core"
)

// Chain runs its tasks in order and tracks progress.
type Chain struct {
	ID   string
	Name string

	vars   *Vars
	docs   core.DocumentStore
	logger *slog.Logger

	mu       sync.RWMutex
	tasks    []*Task
	status   core.Status
	position int
	start    time.Time
	end      time.Time
	cancel   context.CancelFunc
	running  bool

	async sync.WaitGroup
}

// New creates an empty chain.
func New(name string, opts ...Option) *Chain {
	o := NewOptions()
	for _, opt := range opts {
		opt.Apply(o)
	}

	id := o.ID
	if id == "" {
		id = uuid.New().String()
	}

	return &Chain{
		ID:     id,
		Name:   name,
		vars:   NewVars(o.Vars),
		docs:   o.Documents,
		logger: o.Logger,
		status: core.StatusInitialized,
	}
}

// Append adds tasks to the end of the chain. Safe while running.
func (c *Chain) Append(tasks ...*Task) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, tasks...)
	return c
}

// Insert adds tasks before index at. While the chain runs, only positions
// after the current one may be modified.
func (c *Chain) Insert(at int, tasks ...*Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if at < 0 || at > len(c.tasks) {
		return fmt.Errorf("insert position %d out of range [0, %d]", at, len(c.tasks))
	}
	if c.running && at <= c.position {
		return fmt.Errorf("insert position %d is not after running position %d", at, c.position)
	}
	c.tasks = slices.Insert(c.tasks, at, tasks...)
	return nil
}

// Tasks returns the chain's tasks in order.
func (c *Chain) Tasks() []*Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Task(nil), c.tasks...)
}

// Task returns the first task with name.
func (c *Chain) Task(name string) (*Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.tasks {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

func (c *Chain) tasksBefore(position int) []*Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if position > len(c.tasks) {
		position = len(c.tasks)
	}
	return append([]*Task(nil), c.tasks[:position]...)
}

// Vars returns the chain's variable scope.
func (c *Chain) Vars() *Vars { return c.vars }

// Documents returns the document store aggregate tasks query.
func (c *Chain) Documents() core.DocumentStore { return c.docs }

func (c *Chain) Status() core.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Position returns the index of the task currently running, or the last
// task once the chain has finished.
func (c *Chain) Position() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.position
}

// Total returns the number of tasks.
func (c *Chain) Total() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tasks)
}

// Percent returns position/total as a percentage, or -1 for an empty chain.
func (c *Chain) Percent() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return percent(c.position, len(c.tasks))
}

func percent(position, total int) float64 {
	if total == 0 {
		return -1
	}
	return float64(position) / float64(total) * 100
}

func (c *Chain) Start() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.start
}

func (c *Chain) End() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.end
}

// Run executes the tasks in order. It returns an *Error when a task aborts
// the chain; ordinary task failures are left on the task.
func (c *Chain) Run(ctx context.Context) (err error) {
	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		cancel()
		return core.ErrChainRunning
	}
	c.running = true
	c.status = core.StatusRunning
	c.start = time.Now()
	c.end = time.Time{}
	c.position = 0
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.Info("chain started", "chain", c.Name, "id", c.ID, "tasks", c.Total())

	var aborted bool
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Chain: c.Name, Err: fmt.Errorf("panic: %v", r)}
			aborted = true
		}

		c.mu.Lock()
		switch {
		case c.status == core.StatusTerminating:
		case aborted:
			c.status = core.StatusError
		default:
			c.status = core.StatusComplete
		}
		c.end = time.Now()
		c.running = false
		status := c.status
		c.mu.Unlock()

		// Background tasks keep the run context until they finish.
		go func() {
			c.async.Wait()
			cancel()
		}()

		c.logger.Info("chain finished", "chain", c.Name, "id", c.ID, "status", status,
			"duration", c.End().Sub(c.Start()))
	}()

	var previous *Task
	for i := 0; ; i++ {
		c.mu.Lock()
		if i >= len(c.tasks) {
			c.mu.Unlock()
			break
		}
		c.position = i
		if c.status == core.StatusTerminating {
			c.mu.Unlock()
			break
		}
		task := c.tasks[i]
		c.mu.Unlock()

		task.attach(c, i, previous)
		c.dispatch(runCtx, task)
		previous = task

		if fault := task.Fault(); core.IsAbort(fault) {
			aborted = true
			return &Error{Chain: c.Name, Task: task.Name, Position: i, Err: fault}
		}
		if ctx.Err() != nil {
			c.markTerminating()
		}
	}
	return nil
}

func (c *Chain) dispatch(ctx context.Context, t *Task) {
	switch w := t.work.(type) {
	case *Func:
		t.Run(ctx, w.Fn)
	case *Async:
		c.async.Add(1)
		t.Start(ctx, w.Fn)
		go func() {
			defer c.async.Done()
			_ = t.Wait(context.Background())
		}()
	case *Wait:
		t.Run(ctx, w.block)
	case *Prune:
		t.Run(ctx, w.prune)
	case *Aggregate:
		t.Run(ctx, w.run)
	default:
		t.onError(fmt.Errorf("%w: %T", core.ErrUnknownTaskKind, t.work))
	}
}

// Wait blocks until every async task started by the chain has finished.
func (c *Chain) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.async.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminate asks the chain to stop. The running task is terminated, waiting
// tasks are released, and no further tasks start.
func (c *Chain) Terminate() {
	c.markTerminating()

	c.mu.RLock()
	cancel := c.cancel
	var current *Task
	if c.running && c.position < len(c.tasks) {
		current = c.tasks[c.position]
	}
	c.mu.RUnlock()

	if current != nil {
		current.Terminate()
	}
	if cancel != nil {
		cancel()
	}
}

func (c *Chain) markTerminating() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = core.StatusTerminating
	c.logger.Warn("chain terminating", "chain", c.Name, "id", c.ID)
}

// Progress is a point-in-time view of a chain run.
type Progress struct {
	Total    int                 `json:"total"`
	Current  int                 `json:"current"`
	Percent  float64             `json:"percent"`
	Duration float64             `json:"duration"`
	Counts   map[core.Status]int `json:"counts"`
}

// DetailedProgress reports per-status task counts alongside position.
func (c *Chain) DetailedProgress() Progress {
	c.mu.RLock()
	tasks := append([]*Task(nil), c.tasks...)
	position := c.position
	start, end := c.start, c.end
	c.mu.RUnlock()

	counts := make(map[core.Status]int, len(core.TaskStatuses))
	for _, s := range core.TaskStatuses {
		counts[s] = 0
	}
	for _, t := range tasks {
		counts[t.Status()]++
	}

	var duration time.Duration
	switch {
	case start.IsZero():
	case end.IsZero():
		duration = time.Since(start)
	default:
		duration = end.Sub(start)
	}

	return Progress{
		Total:    len(tasks),
		Current:  position,
		Percent:  percent(position, len(tasks)),
		Duration: duration.Seconds(),
		Counts:   counts,
	}
}

// Result returns the data and meta of the last task that produced output.
// Wait and Prune tasks are skipped.
func (c *Chain) Result() map[string]any {
	tasks := c.Tasks()
	for i := len(tasks) - 1; i >= 0; i-- {
		switch tasks[i].Kind() {
		case KindWait, KindPrune:
			continue
		}
		return map[string]any{"data": tasks[i].Data(), "meta": tasks[i].Meta()}
	}
	return map[string]any{"data": nil, "meta": nil}
}
