// Package harvest queues task chains in a shared key-value store and runs
// them on worker agents.
//
// This is the main package users should import. It re-exports the public
// types of the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Open a store and describe the chains workers may run
//	store, _ := harvest.Open(ctx, "harvest.db")
//	templates := harvest.NewTemplates()
//	templates.Register(&harvest.Template{Category: "math", Name: "double", Tasks: ...})
//
//	// Queue a chain and wait for it
//	client := harvest.New(store, templates)
//	receipt, _ := client.Enqueue(ctx, 1, "math", "double", map[string]any{"n": 21})
//	result, _ := client.Await(ctx, receipt.ID, time.Minute)
//
//	// Run queued chains
//	registry := harvest.NewRegistry()
//	registry.RegisterFunc("double", func(ctx context.Context) (int, error) { ... })
//	worker := harvest.NewWorker(client, templates, registry)
//	worker.Start(ctx)
package harvest

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jdziat/harvest-tasks/pkg/chain"
	"github.com/jdziat/harvest-tasks/pkg/core"
	"github.com/jdziat/harvest-tasks/pkg/kv"
	"github.com/jdziat/harvest-tasks/pkg/match"
	"github.com/jdziat/harvest-tasks/pkg/queue"
	"github.com/jdziat/harvest-tasks/pkg/schedule"
	"github.com/jdziat/harvest-tasks/pkg/security"
	"github.com/jdziat/harvest-tasks/pkg/worker"
)

type (
	// Status is the state of a task, a chain or a queue record.
	Status = core.Status

	// Response is the {success, reason, result} body of protocol operations.
	Response = core.Response

	// KVStore is the shared key-value store behind the queue.
	KVStore = core.KVStore

	// DocumentStore runs aggregation pipelines for aggregate tasks.
	DocumentStore = core.DocumentStore

	// Event is the interface for all worker events.
	Event = core.Event

	// ChainStarted is emitted when a worker starts a chain.
	ChainStarted = core.ChainStarted

	// ChainCompleted is emitted when a chain completes.
	ChainCompleted = core.ChainCompleted

	// ChainFailed is emitted when a chain ends in error.
	ChainFailed = core.ChainFailed

	// RecordSkipped is emitted when a popped record has already expired.
	RecordSkipped = core.RecordSkipped

	// Chain is an ordered list of tasks sharing a variable scope.
	Chain = chain.Chain

	// Task is one step of a chain.
	Task = chain.Task

	// Registry maps task kinds and function names to work.
	Registry = chain.Registry

	// Descriptor is the declarative form of a task.
	Descriptor = chain.Descriptor

	// Template is a named chain definition that queued records refer to.
	Template = chain.Template

	// Templates is a catalog of templates.
	Templates = chain.Templates

	// ChainError reports the task that aborted a chain.
	ChainError = chain.Error

	// Client speaks the queue protocol.
	Client = queue.Client

	// Option configures a Client.
	Option = queue.Option

	// Receipt describes a queued record.
	Receipt = queue.Receipt

	// StatusReport describes a record or the aggregate of a fan-out.
	StatusReport = queue.StatusReport

	// Escalator moves a waiting record ahead of its queue.
	Escalator = queue.Escalator

	// Worker runs queued records.
	Worker = worker.Worker

	// WorkerOption configures a Worker.
	WorkerOption = worker.WorkerOption

	// Scheduler queues templates on recurring schedules.
	Scheduler = worker.Scheduler

	// Schedule yields run times.
	Schedule = schedule.Schedule

	// ScheduleEntry pairs a schedule with the template it queues.
	ScheduleEntry = schedule.Entry

	// MatchSets is a compiled OR of match sets.
	MatchSets = match.Sets

	// GormStore implements KVStore on a SQL database.
	GormStore = kv.GormStore

	// RedisStore implements KVStore on Redis.
	RedisStore = kv.RedisStore
)

// Status constants
const (
	StatusInitialized = core.StatusInitialized
	StatusRunning     = core.StatusRunning
	StatusComplete    = core.StatusComplete
	StatusError       = core.StatusError
	StatusTerminating = core.StatusTerminating
	StatusEnqueued    = core.StatusEnqueued
)

// Reason constants
const (
	ReasonOK               = core.ReasonOK
	ReasonNotFound         = core.ReasonNotFound
	ReasonTimeout          = core.ReasonTimeout
	ReasonTemplateNotFound = core.ReasonTemplateNotFound
	ReasonNotImplemented   = core.ReasonNotImplemented
)

// Security limits
const (
	MaxNameLength         = security.MaxNameLength
	MaxConfigSize         = security.MaxConfigSize
	MaxPriority           = security.MaxPriority
	MaxConcurrency        = security.MaxConcurrency
	MaxErrorMessageLength = security.MaxErrorMessageLength
	MaxIDLength           = security.MaxIDLength
)

// Error variables
var (
	ErrNotFound         = core.ErrNotFound
	ErrTimeout          = core.ErrTimeout
	ErrTemplateNotFound = core.ErrTemplateNotFound
	ErrNotImplemented   = core.ErrNotImplemented
	ErrInvalidName      = core.ErrInvalidName
	ErrInvalidID        = core.ErrInvalidID
	ErrInvalidPriority  = core.ErrInvalidPriority
	ErrConfigTooLarge   = core.ErrConfigTooLarge
	ErrNoOperator       = match.ErrNoOperator
)

// New creates a queue client over store. templates is consulted before
// every enqueue.
func New(store KVStore, templates queue.TemplateSource, opts ...Option) *Client {
	return queue.New(store, templates, opts...)
}

// RecordTTL sets how long queue records live.
func RecordTTL(d time.Duration) Option { return queue.RecordTTL(d) }

// PollInterval sets how often Await checks status.
func PollInterval(d time.Duration) Option { return queue.PollInterval(d) }

// AwaitTimeout sets the default Await timeout.
func AwaitTimeout(d time.Duration) Option { return queue.AwaitTimeout(d) }

// WithEscalator enables Escalate.
func WithEscalator(e Escalator) Option { return queue.WithEscalator(e) }

// Open opens a SQL-backed store: a SQLite path or a postgres:// URL.
func Open(ctx context.Context, dsn string) (*GormStore, error) {
	return kv.Open(ctx, dsn)
}

// OpenRedis connects a Redis-backed store.
func OpenRedis(ctx context.Context, url string) (*RedisStore, error) {
	return kv.OpenRedis(ctx, url)
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return kv.NewRedisStore(client)
}

// NewChain creates an empty chain.
func NewChain(name string, opts ...chain.Option) *Chain {
	return chain.New(name, opts...)
}

// NewRegistry creates a registry with the builtin kinds and standard
// functions registered.
func NewRegistry() *Registry {
	r := chain.NewRegistry()
	chain.RegisterBuiltins(r)
	if err := chain.RegisterStandardFuncs(r); err != nil {
		panic(err)
	}
	return r
}

// NewTemplates creates an empty template catalog.
func NewTemplates() *Templates {
	return chain.NewTemplates()
}

// NewWorker creates a worker that runs records queued through client.
func NewWorker(client *Client, templates *Templates, registry *Registry, opts ...WorkerOption) *Worker {
	return worker.NewWorker(client, templates, registry, opts...)
}

// NewScheduler creates a scheduler that enqueues through client.
func NewScheduler(client *Client, opts ...worker.SchedulerOption) *Scheduler {
	return worker.NewScheduler(client, opts...)
}

// Compile parses match groups. Groups are ORed; expressions inside a group
// are ANDed.
func Compile(groups [][]string) (MatchSets, error) {
	return match.Compile(groups)
}

// Abort wraps err so the chain stops after the failing task.
func Abort(err error) error {
	return core.Abort(err)
}

// Envelope builds the response body of an operation.
func Envelope(result any, err error) Response {
	return core.Envelope(result, err)
}

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Daily creates a schedule that runs at a specific time each day.
func Daily(hour, minute int) Schedule {
	return schedule.Daily(hour, minute)
}

// Weekly creates a schedule that runs at a specific day and time each week.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return schedule.Weekly(day, hour, minute)
}

// Cron creates a schedule from a cron expression.
func Cron(expr string) Schedule {
	return schedule.Cron(expr)
}

// TaskFromContext returns the task a function is running as, or nil
// outside a chain. Use it to read chain variables and the previous task.
func TaskFromContext(ctx context.Context) *Task {
	return chain.FromContext(ctx)
}
