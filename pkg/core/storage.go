package core

import (
	"context"
)

// Storage defines the durable job store.
type Storage interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Job lifecycle
	Enqueue(ctx context.Context, job *Job) error
	Count(ctx context.Context) (int64, error)
	ListInOrder(ctx context.Context) ([]*Job, error)
	GetJob(ctx context.Context, id int64) (*Job, error)
	Remove(ctx context.Context, id int64) error
	// Discard is Remove for callers that must know the job was still
	// pending: it returns ErrJobNotFound when nothing was deleted.
	Discard(ctx context.Context, id int64) error

	// Failure bookkeeping
	RecordFailure(ctx context.Context, id int64, errMsg string) (int, error)

	// Dead-letter side-store
	DeadLetter(ctx context.Context, id int64, reason string) error
	ListDeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error)
	CountDeadLetters(ctx context.Context) (int64, error)
	RequeueDeadLetter(ctx context.Context, id int64) (*Job, error)
	PurgeDeadLetter(ctx context.Context, id int64) error
}

// Backend executes mutations against the remote system.
type Backend interface {
	Invoke(ctx context.Context, name string, args map[string]any) error
	InsertRecord(ctx context.Context, collection string, payload map[string]any) error
}

// Status reports whether the host currently believes it is online.
type Status interface {
	Online() bool
}

// Starter is the interface for long-running components.
type Starter interface {
	Start(ctx context.Context) error
}
