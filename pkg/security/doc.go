// Package security provides validation, sanitization, and limits for the outbox package.
//
// This package includes:
//   - Input validation for RPC function and table names
//   - A size limit on serialized mutation arguments
//   - Error message sanitization before persistence or display
//   - Clamping for the dead-letter threshold and list page sizes
//
// Most users should import the root package github.com/jdziat/durable-outbox
// which re-exports these functions.
package security
