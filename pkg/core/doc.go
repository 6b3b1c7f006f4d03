// Package core provides the fundamental types and interfaces for the outbox package.
//
// This package contains:
//   - Job, Sequence and DeadLetter data models with GORM annotations
//   - The closed Mutation variants RPC and Insert
//   - Storage, Backend and Status interfaces
//   - Event types for outbox monitoring
//   - Error types and connectivity/application classification
//
// Most users should import the root package github.com/jdziat/durable-outbox
// instead of this package directly.
package core
