package queue

import (
	"log/slog"

	"github.com/jdziat/durable-outbox/pkg/core"
)

// Options holds per-call configuration for Invoke, Insert and Enqueue.
type Options struct {
	// Defer captures the mutation without trying the backend first.
	Defer bool
	// IdempotencyKey overrides the generated key.
	IdempotencyKey string
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// Defer skips the immediate attempt and always captures the mutation.
func Defer() Option {
	return optionFunc(func(o *Options) {
		o.Defer = true
	})
}

// IdempotencyKey sets the key sent with every execution attempt. Callers
// that retry a capture themselves should pass the same key each time.
func IdempotencyKey(key string) Option {
	return optionFunc(func(o *Options) {
		o.IdempotencyKey = key
	})
}

// QueueOption configures a Queue.
type QueueOption interface {
	ApplyQueue(*Queue)
}

type queueOptionFunc func(*Queue)

func (f queueOptionFunc) ApplyQueue(q *Queue) { f(q) }

// WithLogger sets the logger used by the queue.
func WithLogger(l *slog.Logger) QueueOption {
	return queueOptionFunc(func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	})
}

// WithStatus sets the connectivity status consulted before an immediate
// attempt. Without one the queue always tries the backend first.
func WithStatus(s core.Status) QueueOption {
	return queueOptionFunc(func(q *Queue) {
		q.status = s
	})
}
