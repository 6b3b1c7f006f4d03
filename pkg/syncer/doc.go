// Package syncer replays captured jobs against the backend.
//
// This package includes:
//   - Engine: runs drain passes over the pending jobs in ascending ID order,
//     stopping at the first failure so later jobs never overtake it
//   - Failure bookkeeping and the optional dead-letter threshold
//   - Retry with backoff for store writes made during a pass
//
// Most users should import the root package github.com/jdziat/durable-outbox
// which wires an Engine into the scheduler.
package syncer
