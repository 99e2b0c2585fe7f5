package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/harvest-tasks/pkg/chain"
	"github.com/jdziat/harvest-tasks/pkg/core"
	"github.com/jdziat/harvest-tasks/pkg/queue"
	"github.com/jdziat/harvest-tasks/pkg/security"
)

// finalWriteTimeout bounds the result write of a chain that outlived its
// worker's context.
const finalWriteTimeout = 30 * time.Second

// Worker dispatches queue records to chains.
type Worker struct {
	client    *queue.Client
	templates *chain.Templates
	registry  *chain.Registry
	scheduler *Scheduler
	config    WorkerConfig
	logger    *slog.Logger
	wg        sync.WaitGroup

	mu        sync.RWMutex
	eventSubs []chan core.Event
	running   map[string]*chain.Chain
}

// NewWorker creates a worker that runs records from client using the
// chain templates and functions registered with registry.
func NewWorker(client *queue.Client, templates *chain.Templates, registry *chain.Registry, opts ...WorkerOption) *Worker {
	config := WorkerConfig{
		WorkerID:         uuid.New().String(),
		Concurrency:      10,
		PollInterval:     100 * time.Millisecond,
		ProgressInterval: time.Second,
		MaxPriority:      security.MaxPriority,
		Logger:           slog.Default(),
	}

	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}

	if config.StorageRetry == nil {
		cfg := DefaultRetryConfig()
		config.StorageRetry = &cfg
	}
	if config.DequeueRetry == nil {
		cfg := DefaultDequeueRetryConfig()
		config.DequeueRetry = &cfg
	}

	return &Worker{
		client:    client,
		templates: templates,
		registry:  registry,
		scheduler: config.Scheduler,
		config:    config,
		logger:    config.Logger.With("worker", config.WorkerID),
		running:   make(map[string]*chain.Chain),
	}
}

// ID returns the agent name this worker writes to records.
func (w *Worker) ID() string { return w.config.WorkerID }

// SetScheduler runs s alongside the worker.
func (w *Worker) SetScheduler(s *Scheduler) { w.scheduler = s }

// Start processes records until ctx is cancelled. In-flight chains are
// waited for before Start returns.
func (w *Worker) Start(ctx context.Context) error {
	records := make(chan *queue.Record, w.config.Concurrency)

	if w.scheduler != nil {
		go func() {
			if err := w.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("scheduler stopped", "error", err)
			}
		}()
	}

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.processLoop(ctx, records)
	}

	w.logger.Info("worker started", "concurrency", w.config.Concurrency, "max_priority", w.config.MaxPriority)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(records)
			w.wg.Wait()
			w.logger.Info("worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.drain(ctx, records)
		}
	}
}

// drain hands records to the process loops until the queue is empty.
// Sends block while every loop is busy.
func (w *Worker) drain(ctx context.Context, records chan<- *queue.Record) {
	for {
		rec, err := w.dequeueWithRetry(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				w.logger.Error("failed to dequeue after retries", "error", err)
			}
			return
		}
		if rec == nil {
			return
		}

		select {
		case records <- rec:
		case <-ctx.Done():
			w.requeue(rec)
			return
		}
	}
}

// dequeueWithRetry pops the next record, or returns nil when every list
// up to MaxPriority is empty.
func (w *Worker) dequeueWithRetry(ctx context.Context) (*queue.Record, error) {
	var rec *queue.Record
	err := retryWithBackoff(ctx, *w.config.DequeueRetry, func() error {
		var err error
		rec, err = w.dequeue(ctx)
		return err
	})
	return rec, err
}

func (w *Worker) dequeue(ctx context.Context) (*queue.Record, error) {
	priorities, err := w.client.Priorities(ctx)
	if err != nil {
		return nil, err
	}

	for _, p := range priorities {
		if p > w.config.MaxPriority {
			break
		}
		for {
			rec, err := w.client.Pop(ctx, p)
			var expired *queue.ExpiredError
			switch {
			case err == nil:
				return rec, nil
			case errors.Is(err, core.ErrKeyNotFound):
			case errors.As(err, &expired):
				w.logger.Warn("skipping expired record", "key", expired.Key)
				w.Emit(&core.RecordSkipped{RecordKey: expired.Key, Timestamp: time.Now()})
				continue
			default:
				return nil, err
			}
			break
		}
	}
	return nil, nil
}

func (w *Worker) requeue(rec *queue.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), finalWriteTimeout)
	defer cancel()
	if err := w.client.Requeue(ctx, rec); err != nil {
		w.logger.Error("failed to requeue record", "key", rec.Key, "error", err)
	}
}

func (w *Worker) processLoop(ctx context.Context, records <-chan *queue.Record) {
	defer w.wg.Done()

	for rec := range records {
		w.process(ctx, rec)
	}
}

func (w *Worker) process(ctx context.Context, rec *queue.Record) {
	startTime := time.Now()
	w.Emit(&core.ChainStarted{RecordKey: rec.Key, ID: rec.ID, Name: rec.Name, Timestamp: startTime})

	rec.Status = core.StatusRunning
	rec.Agent = w.config.WorkerID
	rec.Start = startTime.UTC()
	if err := w.updateWithRetry(ctx, rec); err != nil {
		w.logger.Error("failed to mark record running", "key", rec.Key, "error", err)
	}

	c, err := w.build(rec)
	if err != nil {
		w.finish(ctx, rec, nil, err, startTime)
		return
	}
	rec.Total = c.Total()

	w.track(rec.ID, c)
	defer w.untrack(rec.ID)

	progressCtx, stopProgress := context.WithCancel(ctx)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		w.runProgress(progressCtx, *rec, c)
	}()

	runErr := c.Run(ctx)
	if err := c.Wait(ctx); err != nil && runErr == nil {
		runErr = err
	}

	stopProgress()
	<-progressDone

	w.finish(ctx, rec, c, runErr, startTime)
}

func (w *Worker) build(rec *queue.Record) (*chain.Chain, error) {
	t, err := w.templates.Lookup(rec.Category, rec.Name)
	if err != nil {
		return nil, err
	}
	return w.registry.BuildTemplate(t, rec.Config,
		chain.WithID(rec.ID),
		chain.WithLogger(w.logger),
		chain.WithDocumentStore(w.config.Documents),
	)
}

// finish writes the terminal status and result of a record. c is nil when
// the chain could not be built.
func (w *Worker) finish(ctx context.Context, rec *queue.Record, c *chain.Chain, runErr error, startTime time.Time) {
	result := map[string]any{"data": nil, "meta": nil}
	status := core.StatusError

	if c != nil {
		result = c.Result()
		rec.Position = completed(c)
		if runErr == nil && c.Status() == core.StatusComplete {
			status = core.StatusComplete
		}
		if runErr == nil && status != core.StatusComplete {
			runErr = fmt.Errorf("chain %s ended %s", c.Name, c.Status())
		}
	}
	if runErr != nil {
		result["meta"] = map[string]any{"error": security.SanitizeErrorMessage(runErr.Error())}
	}

	payload, err := json.Marshal(result)
	if err != nil {
		status = core.StatusError
		runErr = fmt.Errorf("encode result: %w", err)
		payload, _ = json.Marshal(map[string]any{
			"data": nil,
			"meta": map[string]any{"error": runErr.Error()},
		})
	}

	rec.Status = status
	rec.End = time.Now().UTC()
	rec.Result = payload

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	if err := w.updateWithRetry(writeCtx, rec); err != nil {
		w.logger.Error("failed to write result after retries", "key", rec.Key, "error", err)
	}

	if status == core.StatusComplete {
		w.Emit(&core.ChainCompleted{RecordKey: rec.Key, ID: rec.ID, Name: rec.Name,
			Duration: time.Since(startTime), Timestamp: time.Now()})
		return
	}
	w.logger.Warn("chain failed", "key", rec.Key, "error", runErr)
	w.Emit(&core.ChainFailed{RecordKey: rec.Key, ID: rec.ID, Name: rec.Name, Error: runErr, Timestamp: time.Now()})
}

func completed(c *chain.Chain) int {
	p := c.DetailedProgress()
	return p.Counts[core.StatusComplete] + p.Counts[core.StatusError]
}

// runProgress writes the chain's position back while it runs. rec is a
// private copy so the final write never races with it.
func (w *Worker) runProgress(ctx context.Context, rec queue.Record, c *chain.Chain) {
	ticker := time.NewTicker(w.config.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			position := completed(c)
			if position == rec.Position {
				continue
			}
			rec.Position = position
			if err := w.updateWithRetry(ctx, &rec); err != nil {
				w.logger.Warn("progress update failed after retries", "key", rec.Key, "error", err)
			} else {
				w.logger.Debug("progress written", "key", rec.Key, "position", position, "total", rec.Total)
			}
		}
	}
}

func (w *Worker) updateWithRetry(ctx context.Context, rec *queue.Record) error {
	return retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		return w.client.Update(ctx, rec)
	})
}

func (w *Worker) track(id string, c *chain.Chain) {
	w.mu.Lock()
	w.running[id] = c
	w.mu.Unlock()
}

func (w *Worker) untrack(id string) {
	w.mu.Lock()
	delete(w.running, id)
	w.mu.Unlock()
}

// Running returns the ids of the chains in flight.
func (w *Worker) Running() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ids := make([]string, 0, len(w.running))
	for id := range w.running {
		ids = append(ids, id)
	}
	return ids
}

// Terminate asks the chain running record id to stop. It reports whether
// such a chain was found.
func (w *Worker) Terminate(id string) bool {
	w.mu.RLock()
	c, ok := w.running[id]
	w.mu.RUnlock()
	if ok {
		c.Terminate()
	}
	return ok
}

// Events returns a channel of worker events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (w *Worker) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	w.mu.Lock()
	w.eventSubs = append(w.eventSubs, ch)
	w.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel created by Events. The channel is not closed.
func (w *Worker) Unsubscribe(ch <-chan core.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, sub := range w.eventSubs {
		if sub == ch {
			w.eventSubs = append(w.eventSubs[:i], w.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit sends e to every subscriber, dropping it for subscribers that are full.
func (w *Worker) Emit(e core.Event) {
	w.mu.RLock()
	subs := make([]chan core.Event, len(w.eventSubs))
	copy(subs, w.eventSubs)
	w.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}
