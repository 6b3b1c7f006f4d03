// Package jobctx carries the job being executed and its idempotency key
// through context.Context to Backend implementations.
package jobctx

import (
	"context"

	"github.com/jdziat/durable-outbox/pkg/core"
)

type jobKey struct{}

type idempotencyKey struct{}

// WithJob attaches the job being replayed to ctx. The job's idempotency key
// is attached as well.
func WithJob(ctx context.Context, job *core.Job) context.Context {
	ctx = context.WithValue(ctx, jobKey{}, job)
	if job != nil && job.IdempotencyKey != "" {
		ctx = WithIdempotencyKey(ctx, job.IdempotencyKey)
	}
	return ctx
}

// JobFromContext returns the job being replayed, or nil for an immediate
// (not yet captured) execution.
func JobFromContext(ctx context.Context) *core.Job {
	job, _ := ctx.Value(jobKey{}).(*core.Job)
	return job
}

// JobIDFromContext returns the ID of the job being replayed, or 0.
func JobIDFromContext(ctx context.Context) int64 {
	job := JobFromContext(ctx)
	if job == nil {
		return 0
	}
	return job.ID
}

// WithIdempotencyKey attaches the key a backend should send with the request.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKey returns the key attached to ctx, or "".
func IdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKey{}).(string)
	return key
}
