// Package storage provides the durable job store for the outbox package.
//
// This package includes:
//   - GormStorage: a GORM-based implementation of core.Storage
//   - OpenSQLite / OpenPostgres: constructors with pool settings per driver
//   - Pool configuration options
//
// Identifiers come from a persisted sequence row advanced in the same
// transaction as the insert, so they are strictly increasing and never
// reused across removals or restarts.
//
// Most users should import the root package github.com/jdziat/durable-outbox
// which provides OpenSQLite() to create storage instances.
package storage
