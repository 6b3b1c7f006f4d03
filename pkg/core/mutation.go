package core

import (
	"encoding/json"
	"fmt"
)

// Mutation is a deferred write. The set of implementations is closed: RPC and
// Insert are the only variants, and dispatch switches over them exhaustively.
type Mutation interface {
	Kind() Kind
	Target() string
	Values() map[string]any
	mutation()
}

// RPC invokes a named remote procedure with a keyword-argument bag.
type RPC struct {
	Fn   string
	Args map[string]any
}

func (RPC) Kind() Kind { return KindRPC }
func (r RPC) Target() string { return r.Fn }
func (r RPC) Values() map[string]any { return r.Args }
func (RPC) mutation() {}

// Insert appends one record into a named remote collection.
type Insert struct {
	Table   string
	Payload map[string]any
}

func (Insert) Kind() Kind { return KindInsert }
func (i Insert) Target() string { return i.Table }
func (i Insert) Values() map[string]any { return i.Payload }
func (Insert) mutation() {}

// NewJob serializes a mutation into an unsaved Job. The store assigns ID and
// CreatedAt on Enqueue.
func NewJob(m Mutation) (*Job, error) {
	switch m.(type) {
	case RPC, Insert:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, m)
	}
	values := m.Values()
	if values == nil {
		values = map[string]any{}
	}
	args, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("outbox: marshal args: %w", err)
	}
	return &Job{
		Kind:    m.Kind(),
		Target:  m.Target(),
		Args:    args,
		Version: SchemaVersion,
	}, nil
}
