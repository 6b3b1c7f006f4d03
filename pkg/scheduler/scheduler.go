// Package scheduler decides when the outbox is drained.
//
// A Scheduler runs the sync engine on offline→online transitions, on
// explicit requests and, optionally, on a cron schedule. At most one drain
// pass runs at a time: requests made during a pass are coalesced into
// exactly one follow-up pass.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jdziat/durable-outbox/pkg/connectivity"
	"github.com/jdziat/durable-outbox/pkg/core"
	"github.com/jdziat/durable-outbox/pkg/queue"
	"github.com/jdziat/durable-outbox/pkg/syncer"
)

// ErrStopped is returned by SyncNow after Start has returned.
var ErrStopped = errors.New("outbox: scheduler stopped")

// Drainer runs one drain pass.
type Drainer interface {
	Drain(ctx context.Context) syncer.Result
}

// Summary is the presentable outcome of the last pass.
type Summary struct {
	OK        bool   `json:"ok" yaml:"ok"`
	Processed int    `json:"processed" yaml:"processed"`
	Reason    string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Class     string `json:"class,omitempty" yaml:"class,omitempty"`
}

// State is the snapshot exposed to the presentation layer.
type State struct {
	IsOnline   bool       `json:"isOnline" yaml:"isOnline"`
	Pending    int64      `json:"pending" yaml:"pending"`
	LastError  string     `json:"lastError,omitempty" yaml:"lastError,omitempty"`
	Syncing    bool       `json:"syncing" yaml:"syncing"`
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty" yaml:"lastSyncAt,omitempty"`
	LastResult *Summary   `json:"lastResult,omitempty" yaml:"lastResult,omitempty"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCron adds a periodic trigger. spec uses the standard five-field cron
// syntax or a descriptor such as "@every 5m".
func WithCron(spec string) Option {
	return func(s *Scheduler) {
		s.cronSpec = spec
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Scheduler owns the drain trigger policy and the published sync state.
type Scheduler struct {
	queue    *queue.Queue
	engine   Drainer
	monitor  *connectivity.Monitor
	logger   *slog.Logger
	cronSpec string

	mu      sync.Mutex
	state   State
	running bool
	rerun   bool
	stopped bool
	waiters []chan State
	passCtx context.Context

	// Pending counts are stamped when they start and only a count newer
	// than the last applied one may land.
	countSeq     uint64
	countApplied uint64
	wg      sync.WaitGroup
}

// New creates a scheduler. Captures and manual removals on q refresh the
// pending count.
func New(q *queue.Queue, engine Drainer, monitor *connectivity.Monitor, opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:   q,
		engine:  engine,
		monitor: monitor,
		logger:  q.Logger(),
		passCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.IsOnline = monitor.Online()

	q.OnEnqueue(func(ctx context.Context, _ *core.Job) { s.RefreshPending(ctx) })
	q.OnRemove(func(ctx context.Context, _ int64) { s.RefreshPending(ctx) })
	return s
}

// State returns a snapshot of the current sync state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.snapshot()
	st.IsOnline = s.monitor.Online()
	return st
}

func (s *Scheduler) snapshot() State {
	st := s.state
	if st.LastResult != nil {
		r := *st.LastResult
		st.LastResult = &r
	}
	return st
}

// RefreshPending re-reads the pending count from the store. A count that
// finishes after a newer one has been applied is discarded.
func (s *Scheduler) RefreshPending(ctx context.Context) {
	seq := s.nextCount()
	n, err := s.queue.Pending(ctx)
	if err != nil {
		s.logger.Warn("failed to refresh pending count", "error", err)
		return
	}
	s.mu.Lock()
	s.applyPending(seq, n)
	s.mu.Unlock()
}

func (s *Scheduler) nextCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countSeq++
	return s.countSeq
}

// applyPending must be called with s.mu held.
func (s *Scheduler) applyPending(seq uint64, n int64) {
	if seq < s.countApplied {
		return
	}
	s.countApplied = seq
	s.state.Pending = n
}

// RequestSync asks for a drain pass and returns immediately. A request made
// while a pass runs schedules one follow-up pass.
func (s *Scheduler) RequestSync() {
	s.trigger(nil)
}

// SyncNow requests a pass and waits until a pass that started after the
// request has finished.
func (s *Scheduler) SyncNow(ctx context.Context) (State, error) {
	done := make(chan State, 1)
	if !s.trigger(done) {
		return s.State(), ErrStopped
	}
	select {
	case st := <-done:
		return st, nil
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}
}

// trigger starts the pass loop or marks a rerun. It reports false when the
// scheduler has stopped.
func (s *Scheduler) trigger(waiter chan State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if waiter != nil {
		s.waiters = append(s.waiters, waiter)
	}
	if s.running {
		s.rerun = true
		return true
	}
	s.running = true
	s.state.Syncing = true
	s.wg.Add(1)
	go s.loop()
	return true
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		s.rerun = false
		waiters := s.waiters
		s.waiters = nil
		ctx := s.passCtx
		s.mu.Unlock()

		s.pass(ctx)

		s.mu.Lock()
		again := s.rerun && !s.stopped
		if !again {
			s.running = false
			s.state.Syncing = false
			// Requests that arrived after Start returned get the final state.
			waiters = append(waiters, s.waiters...)
			s.waiters = nil
		}
		st := s.snapshot()
		s.mu.Unlock()

		for _, w := range waiters {
			w <- st
		}
		if !again {
			return
		}
	}
}

// pass runs one drain and folds the result into the published state.
func (s *Scheduler) pass(ctx context.Context) {
	res := s.engine.Drain(ctx)
	seq := s.nextCount()
	pending, countErr := s.queue.Pending(context.WithoutCancel(ctx))

	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.LastSyncAt = &now
	s.state.LastResult = &Summary{
		OK:        res.OK,
		Processed: res.Processed,
		Reason:    res.Reason(),
	}
	switch {
	case res.OK:
		s.state.LastError = ""
	case res.Class() == core.ClassConnectivity:
		// Expected while offline; not shown to the user.
		s.state.LastResult.Class = core.ClassConnectivity.String()
	default:
		s.state.LastResult.Class = core.ClassApplication.String()
		s.state.LastError = res.Reason()
	}

	if countErr != nil {
		s.logger.Warn("failed to refresh pending count", "error", countErr)
		return
	}
	s.applyPending(seq, pending)
}

func (s *Scheduler) setOnline(online bool) {
	s.mu.Lock()
	changed := s.state.IsOnline != online
	s.state.IsOnline = online
	s.mu.Unlock()

	if changed {
		s.logger.Info("connectivity changed", "online", online)
		s.queue.Emit(&core.ConnectivityChanged{Online: online, Timestamp: time.Now()})
	}
}

// Start subscribes to connectivity, refreshes the pending count, drains if
// already online, and then drains on every offline→online transition.
// Blocks until ctx is cancelled; passes in flight see the cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	var c *cron.Cron
	if s.cronSpec != "" {
		if _, err := cron.ParseStandard(s.cronSpec); err != nil {
			return fmt.Errorf("invalid sync cron %q: %w", s.cronSpec, err)
		}
		c = cron.New()
		if _, err := c.AddFunc(s.cronSpec, s.RequestSync); err != nil {
			return fmt.Errorf("schedule sync: %w", err)
		}
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.passCtx = ctx
	s.mu.Unlock()

	sub := s.monitor.Subscribe()
	defer s.monitor.Unsubscribe(sub)

	online := s.monitor.Online()
	s.setOnline(online)
	s.RefreshPending(ctx)
	if online {
		s.RequestSync()
	}

	if c != nil {
		c.Start()
		defer func() { <-c.Stop().Done() }()
	}

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.stopped = true
			s.mu.Unlock()
			s.wg.Wait()
			return ctx.Err()
		case online := <-sub:
			s.setOnline(online)
			if online {
				s.RequestSync()
			}
		}
	}
}
