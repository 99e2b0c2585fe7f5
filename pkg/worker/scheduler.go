package worker

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/jdziat/harvest-tasks/pkg/queue"
	"github.com/jdziat/harvest-tasks/pkg/schedule"
)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// SchedulerTick sets how often due entries are checked.
func SchedulerTick(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// SchedulerLogger sets the scheduler logger.
func SchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// SchedulerClock sets the scheduler's time source.
func SchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler queues templates on recurring schedules. An entry first fires
// one period after Run starts.
type Scheduler struct {
	client *queue.Client
	logger *slog.Logger
	tick   time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]schedule.Entry
}

// NewScheduler creates a scheduler that enqueues through client.
func NewScheduler(client *queue.Client, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		client:  client,
		logger:  slog.Default(),
		tick:    100 * time.Millisecond,
		now:     time.Now,
		entries: make(map[string]schedule.Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers an entry. Names are unique.
func (s *Scheduler) Add(e schedule.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[e.Name]; exists {
		return fmt.Errorf("schedule %q already registered", e.Name)
	}
	s.entries[e.Name] = e
	return nil
}

// Names returns the registered entry names, sorted.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run fires due entries until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	next := make(map[string]time.Time)
	start := s.now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.mu.Lock()
			entries := maps.Clone(s.entries)
			s.mu.Unlock()

			now := s.now()
			for name, e := range entries {
				due, ok := next[name]
				if !ok {
					due = e.Schedule.Next(start)
					next[name] = due
				}
				if now.Before(due) {
					continue
				}

				// A failed run is skipped, not retried on the next tick.
				next[name] = e.Schedule.Next(now)
				rec, err := s.client.Enqueue(ctx, e.Priority, e.Category, e.Template, e.Config)
				if err != nil {
					s.logger.Error("failed to enqueue scheduled chain", "schedule", name, "error", err)
					continue
				}
				s.logger.Debug("scheduled chain queued", "schedule", name, "id", rec.ID)
			}
		}
	}
}
