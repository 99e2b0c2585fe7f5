// Package queue implements the client side of the distributed task queue.
//
// This package includes:
//   - Client: enqueue with rollback, status (with fan-out aggregation),
//     result retrieval, await, listing and the escalate hook
//   - Record: the task record layout shared with dispatchers
//   - Aggregate: the fan-out status merge
//   - Option: client configuration
//
// Records live in the KV store as hashes under task:<parent>:<id>; pending
// record keys wait in FIFO lists under queue::<priority>, lowest number
// first.
package queue
