// Package outbox provides a durable write-outbox for backend mutations.
//
// Writes made while the backend is unreachable are captured in a local store
// and replayed in capture order once connectivity returns. This is the main
// package users should import. It re-exports the public types from the pkg/
// packages and wires them together.
//
// Basic usage:
//
//	store, _ := outbox.OpenSQLite("outbox.db")
//	store.Migrate(ctx)
//	backend, _ := outbox.NewPostgRESTClient("https://example.supabase.co/rest/v1",
//	    postgrest.WithAPIKey(key))
//
//	ob := outbox.New(store, backend, outbox.Config{})
//	go ob.Start(ctx)
//
//	// Executes now when online, otherwise captured for replay.
//	ob.Invoke(ctx, "create_batch", map[string]any{"size": 20})
//
//	// Connectivity changes come from the host.
//	ob.Monitor.Set(false)
package outbox

import (
	"context"
	"log/slog"

	"github.com/jdziat/durable-outbox/pkg/backend/postgrest"
	"github.com/jdziat/durable-outbox/pkg/connectivity"
	"github.com/jdziat/durable-outbox/pkg/core"
	"github.com/jdziat/durable-outbox/pkg/jobctx"
	"github.com/jdziat/durable-outbox/pkg/queue"
	"github.com/jdziat/durable-outbox/pkg/scheduler"
	"github.com/jdziat/durable-outbox/pkg/security"
	"github.com/jdziat/durable-outbox/pkg/storage"
	"github.com/jdziat/durable-outbox/pkg/syncer"
)

type (
	// Job is one captured mutation awaiting replay.
	Job = core.Job

	// DeadLetter is a job escalated out of the queue.
	DeadLetter = core.DeadLetter

	// Kind discriminates RPC and Insert jobs.
	Kind = core.Kind

	// Mutation is a deferred write: RPC or Insert.
	Mutation = core.Mutation

	// RPC invokes a named remote procedure.
	RPC = core.RPC

	// Insert inserts a record into a collection.
	Insert = core.Insert

	// Storage is the durable job store.
	Storage = core.Storage

	// Backend executes mutations remotely.
	Backend = core.Backend

	// Event is the interface for all outbox events.
	Event = core.Event

	JobEnqueued         = core.JobEnqueued
	JobExecuted         = core.JobExecuted
	JobFailed           = core.JobFailed
	JobDeadLettered     = core.JobDeadLettered
	DrainStarted        = core.DrainStarted
	DrainFinished       = core.DrainFinished
	ConnectivityChanged = core.ConnectivityChanged

	// ErrorClass separates connectivity failures from application failures.
	ErrorClass = core.ErrorClass

	// BackendError is a failure reported by the backend.
	BackendError = core.BackendError

	// StorageError is a failure of the durable store.
	StorageError = core.StorageError

	// Queue captures and executes mutations.
	Queue = queue.Queue

	// Option modifies a single submission.
	Option = queue.Option

	// Outcome reports whether a submission ran or was captured.
	Outcome = queue.Outcome

	// Engine drains the queue against the backend.
	Engine = syncer.Engine

	// EngineOption configures an Engine.
	EngineOption = syncer.Option

	// Result is the outcome of one drain pass.
	Result = syncer.Result

	// Monitor is the observable online flag.
	Monitor = connectivity.Monitor

	// Scheduler triggers drain passes.
	Scheduler = scheduler.Scheduler

	// SchedulerOption configures a Scheduler.
	SchedulerOption = scheduler.Option

	// State is the sync state shown to users.
	State = scheduler.State

	// GormStorage implements Storage using GORM.
	GormStorage = storage.GormStorage
)

// Job kinds
const (
	KindRPC    = core.KindRPC
	KindInsert = core.KindInsert
)

// Error classes
const (
	ClassApplication  = core.ClassApplication
	ClassConnectivity = core.ClassConnectivity
)

// Security limits
const (
	MaxTargetLength       = security.MaxTargetLength
	MaxArgsSize           = security.MaxArgsSize
	MaxErrorMessageLength = security.MaxErrorMessageLength
)

// Error variables
var (
	ErrInvalidTarget = core.ErrInvalidTarget
	ErrTargetTooLong = core.ErrTargetTooLong
	ErrArgsTooLarge  = core.ErrArgsTooLarge
	ErrUnknownKind   = core.ErrUnknownKind
	ErrJobNotFound   = core.ErrJobNotFound
	ErrNotDeadLetter = core.ErrNotDeadLetter
	ErrNoBackend     = core.ErrNoBackend
	ErrOffline       = core.ErrOffline
	ErrStopped       = scheduler.ErrStopped
)

// Config assembles an Outbox.
type Config struct {
	// Logger is shared by every component. Default slog.Default().
	Logger *slog.Logger

	// Online is the initial connectivity state. Ignored when Monitor is set.
	Online bool

	// Monitor supplies connectivity. Default a new monitor seeded with Online.
	Monitor *Monitor

	Engine    []EngineOption
	Scheduler []SchedulerOption
}

// Outbox wires a queue, a sync engine, a connectivity monitor and a
// scheduler over one store and backend.
type Outbox struct {
	*Queue
	Engine    *Engine
	Monitor   *Monitor
	Scheduler *Scheduler
}

// New assembles an Outbox. backend may be nil for capture-only use.
func New(s Storage, b Backend, cfg Config) *Outbox {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	monitor := cfg.Monitor
	if monitor == nil {
		monitor = connectivity.NewMonitor(cfg.Online)
	}

	q := queue.New(s, b, queue.WithLogger(logger), queue.WithStatus(monitor))
	engine := syncer.New(q, cfg.Engine...)
	sched := scheduler.New(q, engine, monitor, cfg.Scheduler...)

	return &Outbox{
		Queue:     q,
		Engine:    engine,
		Monitor:   monitor,
		Scheduler: sched,
	}
}

// Start runs the scheduler until ctx is cancelled.
func (o *Outbox) Start(ctx context.Context) error {
	return o.Scheduler.Start(ctx)
}

// State returns the current sync state.
func (o *Outbox) State() State {
	return o.Scheduler.State()
}

// SyncNow drains and waits for the result.
func (o *Outbox) SyncNow(ctx context.Context) (State, error) {
	return o.Scheduler.SyncNow(ctx)
}

// NewQueue creates a bare Queue.
func NewQueue(s Storage, b Backend, opts ...queue.QueueOption) *Queue {
	return queue.New(s, b, opts...)
}

// NewEngine creates a sync engine for q.
func NewEngine(q *Queue, opts ...EngineOption) *Engine {
	return syncer.New(q, opts...)
}

// NewMonitor creates a connectivity monitor.
func NewMonitor(online bool) *Monitor {
	return connectivity.NewMonitor(online)
}

// OpenSQLite opens a SQLite store at path.
func OpenSQLite(path string, opts ...storage.PoolOption) (*GormStorage, error) {
	return storage.OpenSQLite(path, opts...)
}

// OpenPostgres opens a PostgreSQL store.
func OpenPostgres(dsn string, opts ...storage.PoolOption) (*GormStorage, error) {
	return storage.OpenPostgres(dsn, opts...)
}

// NewPostgRESTClient creates an HTTP backend for a PostgREST endpoint.
func NewPostgRESTClient(baseURL string, opts ...postgrest.Option) (*postgrest.Client, error) {
	return postgrest.New(baseURL, opts...)
}

// Classify maps an error to its class.
func Classify(err error) ErrorClass {
	return core.Classify(err)
}

// Connectivity marks err as a network failure.
func Connectivity(err error) error {
	return core.Connectivity(err)
}

// Rejected builds an application failure with msg as its reason.
func Rejected(msg string) error {
	return core.Rejected(msg)
}

// Submission options

// Defer captures the mutation without trying the backend first.
func Defer() Option {
	return queue.Defer()
}

// IdempotencyKey overrides the generated idempotency key.
func IdempotencyKey(key string) Option {
	return queue.IdempotencyKey(key)
}

// Engine options

// MaxAttempts dead-letters a job after n consecutive application failures.
func MaxAttempts(n int) EngineOption {
	return syncer.MaxAttempts(n)
}

// WithCron adds a periodic drain trigger.
func WithCron(spec string) SchedulerOption {
	return scheduler.WithCron(spec)
}

// JobFromContext returns the job being replayed, or nil.
func JobFromContext(ctx context.Context) *Job {
	return jobctx.JobFromContext(ctx)
}

// IdempotencyKeyFromContext returns the idempotency key of the current
// execution, or "".
func IdempotencyKeyFromContext(ctx context.Context) string {
	return jobctx.IdempotencyKey(ctx)
}

// ValidateTarget checks an RPC function or table name.
func ValidateTarget(name string) error {
	return security.ValidateTarget(name)
}

// SanitizeErrorMessage strips control characters and truncates msg.
func SanitizeErrorMessage(msg string) string {
	return security.SanitizeErrorMessage(msg)
}
