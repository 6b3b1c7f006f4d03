// Package queue provides the Queue type for capturing mutations.
//
// This package includes:
//   - Queue: write-through submission of RPC and Insert mutations, falling
//     back to the durable store when the backend cannot be reached
//   - Option: per-call options such as Defer and IdempotencyKey
//   - Hook registration for capture and replay events
//   - Event subscription for monitoring
//
// Most users should import the root package github.com/jdziat/durable-outbox
// which re-exports Queue and all option functions.
package queue
