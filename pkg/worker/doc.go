// Package worker provides a dispatcher that drains the task queue.
//
// This package includes:
//   - Worker: pops queue records lowest priority number first, runs the
//     record's chain template and writes status and result back
//   - WorkerOption: worker identity, concurrency, polling and retry settings
//   - Scheduler: queues templates on recurring schedules
//
// Storage writes are retried with exponential backoff and jitter. Lifecycle
// events are broadcast to subscribers of Events.
package worker
