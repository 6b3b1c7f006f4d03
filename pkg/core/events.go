package core

import "time"

// Event is the interface for all outbox events.
type Event interface {
	eventMarker()
}

// JobEnqueued is emitted when a mutation is captured into the store.
type JobEnqueued struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobEnqueued) eventMarker() {}

// JobExecuted is emitted when a replayed job is accepted by the backend and
// removed from the store.
type JobExecuted struct {
	Job       *Job
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobExecuted) eventMarker() {}

// JobFailed is emitted when a replayed job stops a drain pass.
type JobFailed struct {
	Job       *Job
	Error     error
	Class     ErrorClass
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// JobDeadLettered is emitted when a job is escalated out of the main queue.
type JobDeadLettered struct {
	Job       *Job
	Reason    string
	Timestamp time.Time
}

func (*JobDeadLettered) eventMarker() {}

// DrainStarted is emitted at the start of every drain pass.
type DrainStarted struct {
	Pending   int
	Timestamp time.Time
}

func (*DrainStarted) eventMarker() {}

// DrainFinished is emitted when a drain pass ends, fully drained or not.
type DrainFinished struct {
	OK        bool
	Processed int
	Error     error
	Duration  time.Duration
	Timestamp time.Time
}

func (*DrainFinished) eventMarker() {}

// ConnectivityChanged is emitted when the scheduler observes a transition.
type ConnectivityChanged struct {
	Online    bool
	Timestamp time.Time
}

func (*ConnectivityChanged) eventMarker() {}
