// Package schedule describes when recurring chains are queued.
//
// A Schedule yields the next run time after a given instant. Every, Daily,
// Weekly and Cron build the common shapes; an Entry binds a schedule to the
// template it queues. Entries are run by worker.Scheduler.
package schedule
