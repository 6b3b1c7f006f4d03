package core

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Validation errors
var (
	ErrInvalidTarget = errors.New("outbox: invalid target name (must be alphanumeric, start with letter or underscore)")
	ErrTargetTooLong = errors.New("outbox: target name too long")
	ErrArgsTooLarge  = errors.New("outbox: mutation arguments exceed size limit")
	ErrUnknownKind   = errors.New("outbox: unknown job kind")
	ErrJobNotFound   = errors.New("outbox: job not found")
	ErrNotDeadLetter = errors.New("outbox: dead letter not found")
	ErrNoBackend     = errors.New("outbox: no backend configured")
)

// ErrOffline stops a drain pass that starts while the host is offline.
// Its message is the reason reported to the presentation layer.
var ErrOffline = errors.New("offline")

// StorageError wraps a fault raised by the durable store. A capture that fails
// with a StorageError was not saved.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("outbox: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err unless it is nil or already a StorageError.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// ErrorClass tells the scheduler whether a failure is steady-state
// (connectivity) or a fault worth showing the user (application).
type ErrorClass int

const (
	ClassApplication ErrorClass = iota
	ClassConnectivity
)

func (c ErrorClass) String() string {
	switch c {
	case ClassConnectivity:
		return "connectivity"
	case ClassApplication:
		return "application"
	default:
		return "unknown"
	}
}

// BackendError is a failure reported by the remote backend.
type BackendError struct {
	Class   ErrorClass
	Status  int    // HTTP status, 0 when no response was received
	Code    string // backend-specific error code
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "sync_failed"
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Connectivity wraps err as a network-classified backend failure.
func Connectivity(err error) error {
	return &BackendError{Class: ClassConnectivity, Err: err}
}

// Rejected builds an application-classified backend failure.
func Rejected(msg string) error {
	return &BackendError{Class: ClassApplication, Message: msg}
}

// Classify maps an error onto an ErrorClass. Unknown errors are treated as
// application failures so they are surfaced rather than hidden.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassApplication
	}
	if errors.Is(err, ErrOffline) {
		return ClassConnectivity
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Class
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassConnectivity
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ClassConnectivity
	}
	return ClassApplication
}

// IsConnectivity reports whether err means the backend is unreachable.
func IsConnectivity(err error) bool {
	return err != nil && Classify(err) == ClassConnectivity
}
