// Package core provides the domain models and interfaces for the outbox package.
package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Kind discriminates the closed set of deferred mutations.
type Kind string

const (
	KindRPC    Kind = "rpc"
	KindInsert Kind = "insert"
)

// SchemaVersion is written to every persisted job. Bump it when the
// serialized shape of a mutation changes.
const SchemaVersion = 1

// Job is one deferred mutation awaiting execution against the backend.
type Job struct {
	ID             int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Kind           Kind      `gorm:"size:16;not null" json:"kind"`
	Target         string    `gorm:"size:255;not null" json:"target"`
	Args           []byte    `gorm:"type:bytes" json:"-"`
	Version        int       `gorm:"not null;default:1" json:"version"`
	IdempotencyKey string    `gorm:"size:36;index" json:"idempotencyKey"`
	Attempts       int       `gorm:"default:0" json:"attempts"` // Consecutive application failures
	LastError      string    `gorm:"type:text" json:"lastError,omitempty"`
	CreatedAt      time.Time `gorm:"not null" json:"createdAt"`
}

// TableName pins the table name independent of GORM naming strategy.
func (Job) TableName() string { return "outbox_jobs" }

// Mutation decodes the persisted job back into its variant. Numbers decode
// as json.Number so they re-encode exactly as they were captured.
func (j *Job) Mutation() (Mutation, error) {
	args, err := decodeArgs(j.Args)
	if err != nil {
		return nil, fmt.Errorf("outbox: decode args for job %d: %w", j.ID, err)
	}
	switch j.Kind {
	case KindRPC:
		return RPC{Fn: j.Target, Args: args}, nil
	case KindInsert:
		return Insert{Table: j.Target, Payload: args}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, j.Kind)
	}
}

// Sequence persists the last identifier handed out for a named sequence.
// Identifiers are never reused, even after the newest job is removed.
type Sequence struct {
	Name  string `gorm:"primaryKey;size:64"`
	Value int64  `gorm:"not null;default:0"`
}

// TableName pins the table name independent of GORM naming strategy.
func (Sequence) TableName() string { return "outbox_sequences" }

// DeadLetter is a job escalated out of the main queue after failing too many
// consecutive drain passes.
type DeadLetter struct {
	ID             int64     `gorm:"primaryKey;autoIncrement:false" json:"id"` // ID the job had in the queue
	Kind           Kind      `gorm:"size:16;not null" json:"kind"`
	Target         string    `gorm:"size:255;not null" json:"target"`
	Args           []byte    `gorm:"type:bytes" json:"-"`
	Version        int       `gorm:"not null;default:1" json:"version"`
	IdempotencyKey string    `gorm:"size:36" json:"idempotencyKey"`
	Attempts       int       `json:"attempts"`
	Reason         string    `gorm:"type:text" json:"reason"`
	CreatedAt      time.Time `json:"createdAt"`
	FailedAt       time.Time `gorm:"index" json:"failedAt"`
}

// TableName pins the table name independent of GORM naming strategy.
func (DeadLetter) TableName() string { return "outbox_dead_letters" }

func decodeArgs(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()
	var args map[string]any
	if err := d.Decode(&args); err != nil {
		return nil, err
	}
	if err := d.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after args object")
	}
	return args, nil
}
