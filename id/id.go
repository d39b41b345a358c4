// Package id defines TypeID-based identity types for posepool entities.
//
// Worker handles and pool-level tasks carry a prefix-qualified, globally
// unique, K-sortable (UUIDv7-based), URL-safe identifier in the format
// "prefix_suffix". Protocol correlation ids are deliberately not TypeIDs —
// they are a per-channel monotonic counter (see the channel package).
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for posepool entity types.
const (
	PrefixWorker Prefix = "wkr"
	PrefixTask   Prefix = "task"
)

// ID is a prefix-qualified unique identifier.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "wkr_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// WorkerID identifies a worker handle (prefix: "wkr"). The id outlives any
// single process: a restarted worker keeps its handle's WorkerID.
type WorkerID = ID

// TaskID identifies a unit of work submitted to the pool (prefix: "task").
type TaskID = ID

// NewWorkerID generates a new worker handle identifier.
func NewWorkerID() WorkerID { return New(PrefixWorker) }

// NewTaskID generates a new pool task identifier.
func NewTaskID() TaskID { return New(PrefixTask) }

// Prefix returns the ID's type prefix.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// String returns the canonical "prefix_suffix" form, or "" for the zero ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// IsZero reports whether the ID is the zero value.
func (i ID) IsZero() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
