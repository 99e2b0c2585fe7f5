package worker

import (
	"log/slog"
	"time"

	"github.com/jdziat/harvest-tasks/pkg/core"
	"github.com/jdziat/harvest-tasks/pkg/security"
)

// WorkerOption configures a Worker.
type WorkerOption interface {
	ApplyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) ApplyWorker(c *WorkerConfig) { f(c) }

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	WorkerID         string
	Concurrency      int
	PollInterval     time.Duration
	ProgressInterval time.Duration
	MaxPriority      int
	StorageRetry     *RetryConfig
	DequeueRetry     *RetryConfig
	Documents        core.DocumentStore
	Scheduler        *Scheduler
	Logger           *slog.Logger
}

// WorkerID sets the agent name written to the records this worker runs.
func WorkerID(id string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if id != "" {
			c.WorkerID = id
		}
	})
}

// Concurrency sets how many chains run at once.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Concurrency = security.ClampConcurrency(n)
	})
}

// PollInterval sets how often the queue lists are checked.
func PollInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.PollInterval = d
		}
	})
}

// ProgressInterval sets how often a running chain's position is written back.
func ProgressInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.ProgressInterval = d
		}
	})
}

// MaxPriority limits the worker to priorities up to p.
func MaxPriority(p int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.MaxPriority = security.ClampPriority(p)
	})
}

// StorageRetry sets the retry policy for record writes.
func StorageRetry(cfg RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.StorageRetry = &cfg
	})
}

// DequeueRetry sets the retry policy for queue pops.
func DequeueRetry(cfg RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.DequeueRetry = &cfg
	})
}

// WithDocumentStore gives chains a document store for aggregate tasks.
func WithDocumentStore(docs core.DocumentStore) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Documents = docs
	})
}

// WithScheduler runs s alongside the worker.
func WithScheduler(s *Scheduler) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Scheduler = s
	})
}

// WithLogger sets the worker logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if l != nil {
			c.Logger = l
		}
	})
}

// DisableRetry makes every storage operation a single attempt.
func DisableRetry() WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		once := RetryConfig{MaxAttempts: 1}
		c.StorageRetry = &once
		dequeue := once
		c.DequeueRetry = &dequeue
	})
}
