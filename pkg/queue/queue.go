package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/durable-outbox/pkg/core"
	"github.com/jdziat/durable-outbox/pkg/jobctx"
	"github.com/jdziat/durable-outbox/pkg/security"
)

// Outcome reports what happened to a submitted mutation.
type Outcome struct {
	// Queued is true when the mutation was captured for later replay
	// instead of being accepted by the backend.
	Queued bool
	// JobID is the store-assigned ID of the captured job, 0 when not queued.
	JobID int64
}

// Queue captures mutations and executes them against the backend.
type Queue struct {
	storage core.Storage
	backend core.Backend
	status  core.Status
	logger  *slog.Logger
	mu      sync.RWMutex

	// Hooks
	onEnqueue  []func(context.Context, *core.Job)
	onExecuted []func(context.Context, *core.Job)
	onFailed   []func(context.Context, *core.Job, error)
	onRemove   []func(context.Context, int64)

	// Event stream
	eventSubs []chan core.Event
}

// New creates a new Queue over the given store and backend. A nil backend
// makes every submission a capture.
func New(s core.Storage, b core.Backend, opts ...QueueOption) *Queue {
	q := &Queue{
		storage: s,
		backend: b,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt.ApplyQueue(q)
	}
	return q
}

// Storage returns the underlying storage.
func (q *Queue) Storage() core.Storage {
	return q.storage
}

// Backend returns the backend, or nil.
func (q *Queue) Backend() core.Backend {
	return q.backend
}

// Logger returns the queue's logger.
func (q *Queue) Logger() *slog.Logger {
	return q.logger
}

// Online reports the configured connectivity status. A queue without a
// status source assumes it is online.
func (q *Queue) Online() bool {
	if q.status == nil {
		return true
	}
	return q.status.Online()
}

// Invoke runs the remote procedure fn now, or captures it for replay when
// the host is offline or the backend cannot be reached.
func (q *Queue) Invoke(ctx context.Context, fn string, args map[string]any, opts ...Option) (Outcome, error) {
	return q.Submit(ctx, core.RPC{Fn: fn, Args: args}, opts...)
}

// Insert appends payload to table now, or captures it for replay when the
// host is offline or the backend cannot be reached.
func (q *Queue) Insert(ctx context.Context, table string, payload map[string]any, opts ...Option) (Outcome, error) {
	return q.Submit(ctx, core.Insert{Table: table, Payload: payload}, opts...)
}

// Submit is the write-through path shared by Invoke and Insert. Application
// errors from the immediate attempt are returned unchanged and nothing is
// captured. Connectivity errors capture the mutation under the same
// idempotency key that was sent.
func (q *Queue) Submit(ctx context.Context, m core.Mutation, opts ...Option) (Outcome, error) {
	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}

	job, err := q.prepare(m, options)
	if err != nil {
		return Outcome{}, err
	}

	if options.Defer || q.backend == nil || !q.Online() {
		return q.capture(ctx, job)
	}

	start := time.Now()
	err = q.Execute(jobctx.WithIdempotencyKey(ctx, job.IdempotencyKey), m)
	if err == nil {
		q.logger.Debug("mutation executed",
			"kind", job.Kind, "target", job.Target, "duration", time.Since(start))
		return Outcome{}, nil
	}
	if !core.IsConnectivity(err) {
		return Outcome{}, err
	}

	q.logger.Info("backend unreachable, capturing mutation",
		"kind", job.Kind, "target", job.Target, "error", err)
	// The caller's context may be the one that timed out.
	return q.capture(context.WithoutCancel(ctx), job)
}

// Enqueue captures a mutation unconditionally.
func (q *Queue) Enqueue(ctx context.Context, m core.Mutation, opts ...Option) (*core.Job, error) {
	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}

	job, err := q.prepare(m, options)
	if err != nil {
		return nil, err
	}
	if err := q.storage.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	q.enqueued(ctx, job)
	return job, nil
}

func (q *Queue) capture(ctx context.Context, job *core.Job) (Outcome, error) {
	if err := q.storage.Enqueue(ctx, job); err != nil {
		return Outcome{}, err
	}
	q.enqueued(ctx, job)
	return Outcome{Queued: true, JobID: job.ID}, nil
}

func (q *Queue) enqueued(ctx context.Context, job *core.Job) {
	q.logger.Debug("job enqueued", "job_id", job.ID, "kind", job.Kind, "target", job.Target)
	q.CallEnqueueHooks(ctx, job)
	q.Emit(&core.JobEnqueued{Job: job, Timestamp: time.Now()})
}

// prepare validates m and serializes it into an unsaved job carrying its
// idempotency key.
func (q *Queue) prepare(m core.Mutation, options *Options) (*core.Job, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: <nil>", core.ErrUnknownKind)
	}
	if err := security.ValidateTarget(m.Target()); err != nil {
		return nil, err
	}
	job, err := core.NewJob(m)
	if err != nil {
		return nil, err
	}
	if err := security.ValidateArgsSize(job.Args); err != nil {
		return nil, err
	}

	job.IdempotencyKey = options.IdempotencyKey
	if job.IdempotencyKey == "" {
		job.IdempotencyKey = uuid.New().String()
	}
	return job, nil
}

// Execute dispatches one mutation to the backend. A panicking backend is
// reported as an error.
func (q *Queue) Execute(ctx context.Context, m core.Mutation) (err error) {
	if q.backend == nil {
		return core.ErrNoBackend
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch m := m.(type) {
	case core.RPC:
		return q.backend.Invoke(ctx, m.Fn, m.Args)
	case core.Insert:
		return q.backend.InsertRecord(ctx, m.Table, m.Payload)
	default:
		return fmt.Errorf("%w: %T", core.ErrUnknownKind, m)
	}
}

// Pending returns the number of captured jobs awaiting replay.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.storage.Count(ctx)
}

// Jobs returns the pending jobs in replay order.
func (q *Queue) Jobs(ctx context.Context) ([]*core.Job, error) {
	return q.storage.ListInOrder(ctx)
}

// Job returns a pending job by ID.
func (q *Queue) Job(ctx context.Context, id int64) (*core.Job, error) {
	return q.storage.GetJob(ctx, id)
}

// Remove discards a pending job without executing it. This is the manual
// resolution for a job the backend keeps rejecting.
func (q *Queue) Remove(ctx context.Context, id int64) error {
	if err := q.storage.Remove(ctx, id); err != nil {
		return err
	}
	q.logger.Info("job removed", "job_id", id)
	q.CallRemoveHooks(ctx, id)
	return nil
}

// Discard is Remove for operator-facing surfaces: it returns
// core.ErrJobNotFound when the job is no longer pending.
func (q *Queue) Discard(ctx context.Context, id int64) error {
	if err := q.storage.Discard(ctx, id); err != nil {
		return err
	}
	q.logger.Info("job removed", "job_id", id)
	q.CallRemoveHooks(ctx, id)
	return nil
}

// DeadLetters returns up to limit dead-lettered jobs, oldest failure first.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]*core.DeadLetter, error) {
	return q.storage.ListDeadLetters(ctx, limit)
}

// RequeueDeadLetter moves a dead-lettered job back to the tail of the queue.
func (q *Queue) RequeueDeadLetter(ctx context.Context, id int64) (*core.Job, error) {
	job, err := q.storage.RequeueDeadLetter(ctx, id)
	if err != nil {
		return nil, err
	}
	q.logger.Info("dead letter requeued", "dead_letter_id", id, "job_id", job.ID)
	q.enqueued(ctx, job)
	return job, nil
}

// PurgeDeadLetter permanently deletes a dead-lettered job.
func (q *Queue) PurgeDeadLetter(ctx context.Context, id int64) error {
	return q.storage.PurgeDeadLetter(ctx, id)
}

// OnEnqueue registers a callback for when a job is captured.
func (q *Queue) OnEnqueue(fn func(context.Context, *core.Job)) {
	q.mu.Lock()
	q.onEnqueue = append(q.onEnqueue, fn)
	q.mu.Unlock()
}

// OnExecuted registers a callback for when a replayed job is accepted.
func (q *Queue) OnExecuted(fn func(context.Context, *core.Job)) {
	q.mu.Lock()
	q.onExecuted = append(q.onExecuted, fn)
	q.mu.Unlock()
}

// OnFailed registers a callback for when a replayed job stops a drain pass.
func (q *Queue) OnFailed(fn func(context.Context, *core.Job, error)) {
	q.mu.Lock()
	q.onFailed = append(q.onFailed, fn)
	q.mu.Unlock()
}

// OnRemove registers a callback for when a job is removed by hand.
func (q *Queue) OnRemove(fn func(context.Context, int64)) {
	q.mu.Lock()
	q.onRemove = append(q.onRemove, fn)
	q.mu.Unlock()
}

// Events returns a channel for receiving queue events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (q *Queue) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	q.mu.Lock()
	q.eventSubs = append(q.eventSubs, ch)
	q.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed. After Unsubscribe returns, no further events
// will be sent to the channel.
func (q *Queue) Unsubscribe(ch <-chan core.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, sub := range q.eventSubs {
		if sub == ch {
			q.eventSubs = append(q.eventSubs[:i], q.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit emits an event to all subscribers.
func (q *Queue) Emit(e core.Event) {
	q.mu.RLock()
	subs := make([]chan core.Event, len(q.eventSubs))
	copy(subs, q.eventSubs)
	q.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// Drop if full so a slow consumer never blocks a drain.
		}
	}
}

// CallEnqueueHooks calls all registered enqueue hooks.
func (q *Queue) CallEnqueueHooks(ctx context.Context, job *core.Job) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job), len(q.onEnqueue))
	copy(hooks, q.onEnqueue)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job)
	}
}

// CallExecutedHooks calls all registered executed hooks.
func (q *Queue) CallExecutedHooks(ctx context.Context, job *core.Job) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job), len(q.onExecuted))
	copy(hooks, q.onExecuted)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job)
	}
}

// CallFailedHooks calls all registered failed hooks.
func (q *Queue) CallFailedHooks(ctx context.Context, job *core.Job, err error) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job, error), len(q.onFailed))
	copy(hooks, q.onFailed)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, err)
	}
}

// CallRemoveHooks calls all registered remove hooks.
func (q *Queue) CallRemoveHooks(ctx context.Context, id int64) {
	q.mu.RLock()
	hooks := make([]func(context.Context, int64), len(q.onRemove))
	copy(hooks, q.onRemove)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, id)
	}
}
