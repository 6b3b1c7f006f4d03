package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/durable-outbox/pkg/core"
	"github.com/jdziat/durable-outbox/pkg/jobctx"
	"github.com/jdziat/durable-outbox/pkg/queue"
)

// Result is the outcome of one drain pass.
type Result struct {
	// OK is true when every job in the pass snapshot was executed and removed.
	OK bool
	// Processed counts jobs executed and removed during the pass.
	Processed int
	// Err is the error that stopped the pass, nil when OK.
	Err error
}

// Reason returns the stop reason shown to users, "" when OK.
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Class classifies the stop reason.
func (r Result) Class() core.ErrorClass {
	return core.Classify(r.Err)
}

// Engine replays captured jobs against the backend in ID order.
type Engine struct {
	queue  *queue.Queue
	config Config
	logger *slog.Logger

	// Serializes passes started outside the scheduler, e.g. from the CLI.
	mu sync.Mutex
}

// New creates an engine that drains q.
func New(q *queue.Queue, opts ...Option) *Engine {
	config := Config{
		CallTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt.ApplyEngine(&config)
	}
	if config.StorageRetry == nil {
		cfg := DefaultRetryConfig()
		config.StorageRetry = &cfg
	}

	logger := config.Logger
	if logger == nil {
		logger = q.Logger()
	}

	return &Engine{
		queue:  q,
		config: config,
		logger: logger,
	}
}

// Config returns the effective engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Drain runs one pass: every pending job in ascending ID order until the
// snapshot is exhausted or a job fails. Jobs captured during the pass wait
// for the next one. Drain never panics.
func (e *Engine) Drain(ctx context.Context) (res Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = Result{Processed: res.Processed, Err: fmt.Errorf("panic: %v", r)}
			e.logger.Error("drain panicked", "error", res.Err)
		}
		e.queue.Emit(&core.DrainFinished{
			OK:        res.OK,
			Processed: res.Processed,
			Error:     res.Err,
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		})
	}()

	if !e.queue.Online() {
		e.logger.Debug("drain skipped", "reason", core.ErrOffline)
		return Result{Err: core.ErrOffline}
	}

	jobList, err := e.queue.Storage().ListInOrder(ctx)
	if err != nil {
		e.logger.Error("failed to list pending jobs", "error", err)
		return Result{Err: err}
	}

	e.queue.Emit(&core.DrainStarted{Pending: len(jobList), Timestamp: time.Now()})
	if len(jobList) > 0 {
		e.logger.Info("drain started", "pending", len(jobList))
	}

	for _, job := range jobList {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}

		callStart := time.Now()
		if err := e.execute(ctx, job); err != nil {
			e.handleError(ctx, job, err)
			res.Err = err
			break
		}

		if err := e.removeWithRetry(ctx, job.ID); err != nil {
			// The job was accepted but stays at the head; the next pass
			// replays it under the same idempotency key.
			e.logger.Error("failed to remove executed job", "job_id", job.ID, "error", err)
			res.Err = err
			break
		}

		res.Processed++
		e.logger.Debug("job executed", "job_id", job.ID, "kind", job.Kind, "target", job.Target)
		e.queue.CallExecutedHooks(ctx, job)
		e.queue.Emit(&core.JobExecuted{Job: job, Duration: time.Since(callStart), Timestamp: time.Now()})
	}

	res.OK = res.Err == nil
	if res.OK {
		if res.Processed > 0 {
			e.logger.Info("drain finished", "processed", res.Processed, "duration", time.Since(start))
		}
	} else {
		e.logger.Info("drain stopped",
			"processed", res.Processed, "reason", res.Reason(), "class", res.Class())
	}
	return res
}

// execute decodes the job and runs it with the job and its idempotency key
// on the context.
func (e *Engine) execute(ctx context.Context, job *core.Job) error {
	m, err := job.Mutation()
	if err != nil {
		return err
	}

	callCtx := jobctx.WithJob(ctx, job)
	if e.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, e.config.CallTimeout)
		defer cancel()
	}

	err = e.queue.Execute(callCtx, m)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return core.Connectivity(fmt.Errorf("call timed out after %s: %w", e.config.CallTimeout, err))
	}
	return err
}

func (e *Engine) handleError(ctx context.Context, job *core.Job, cause error) {
	class := core.Classify(cause)
	e.logger.Warn("job failed", "job_id", job.ID, "target", job.Target, "class", class, "error", cause)

	e.queue.CallFailedHooks(ctx, job, cause)
	e.queue.Emit(&core.JobFailed{Job: job, Error: cause, Class: class, Timestamp: time.Now()})

	// Connectivity failures say nothing about the job itself.
	if class == core.ClassConnectivity {
		return
	}

	storeCtx := context.WithoutCancel(ctx)
	var attempts int
	err := retryWithBackoff(storeCtx, *e.config.StorageRetry, func() error {
		var recErr error
		attempts, recErr = e.queue.Storage().RecordFailure(storeCtx, job.ID, cause.Error())
		return recErr
	})
	if err != nil {
		e.logger.Error("failed to record job failure", "job_id", job.ID, "error", err)
		return
	}
	job.Attempts = attempts

	if e.config.MaxAttempts == 0 || attempts < e.config.MaxAttempts {
		return
	}

	err = retryWithBackoff(storeCtx, *e.config.StorageRetry, func() error {
		return e.queue.Storage().DeadLetter(storeCtx, job.ID, cause.Error())
	})
	if err != nil {
		e.logger.Error("failed to dead-letter job", "job_id", job.ID, "error", err)
		return
	}
	e.logger.Warn("job dead-lettered", "job_id", job.ID, "attempts", attempts, "reason", cause)
	e.queue.Emit(&core.JobDeadLettered{Job: job, Reason: cause.Error(), Timestamp: time.Now()})
}

// removeWithRetry removes an executed job, retrying on transient store faults.
func (e *Engine) removeWithRetry(ctx context.Context, id int64) error {
	storeCtx := context.WithoutCancel(ctx)
	return retryWithBackoff(storeCtx, *e.config.StorageRetry, func() error {
		return e.queue.Storage().Remove(storeCtx, id)
	})
}
