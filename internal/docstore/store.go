// Package docstore defines the document store the game core runs on: keyed
// JSON documents grouped into collections, equality queries, optimistic
// multi-document transactions and real-time subscriptions.
//
// Persistence is pluggable through Backend; see the memory and sqlite
// subpackages.
package docstore

import (
	"context"
	"errors"
)

// Store errors
var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrConflict      = errors.New("transaction conflict")
	ErrUnavailable   = errors.New("store unavailable")
	ErrClosed        = errors.New("store closed")
	ErrInvalidRef    = errors.New("invalid document reference")
)

// Store is the document store contract used by the game core.
type Store interface {
	// Get returns the document snapshot. A missing document yields a
	// snapshot with Exists == false and a nil error.
	Get(ctx context.Context, ref Ref) (Snapshot, error)
	// Query returns the documents matching q ordered by ID.
	Query(ctx context.Context, q Query) ([]Snapshot, error)
	// Set creates or replaces a document.
	Set(ctx context.Context, ref Ref, data any) error
	// Update merges top-level fields into an existing document.
	Update(ctx context.Context, ref Ref, fields map[string]any) error
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, ref Ref) error
	// RunTransaction runs fn until it commits without conflict. fn may be
	// invoked several times and must not have side effects outside tx.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// SubscribeDoc delivers the document on subscribe and after every change.
	SubscribeDoc(ref Ref, onSnapshot func(Snapshot), onError func(error)) (unsubscribe func())
	// SubscribeQuery delivers the full result set on subscribe and after
	// every change to the collection.
	SubscribeQuery(q Query, onSnapshot func([]Snapshot), onError func(error)) (unsubscribe func())
	Close() error
}

// Tx is a read-modify-write transaction. Reads must happen before the
// writes that depend on them; writes become visible only on commit.
type Tx interface {
	Get(ref Ref) (Snapshot, error)
	Query(q Query) ([]Snapshot, error)
	// Create fails the transaction with ErrAlreadyExists if the document exists.
	Create(ref Ref, data any) error
	Set(ref Ref, data any) error
	Update(ref Ref, fields map[string]any) error
	Delete(ref Ref) error
}

// Write is a buffered mutation. A nil Data deletes the document.
type Write struct {
	Ref  Ref
	Data []byte
}

// Backend persists documents for the transaction engine.
type Backend interface {
	Load(ctx context.Context, ref Ref) (Record, bool, error)
	List(ctx context.Context, q Query) ([]Record, error)
	// Commit atomically checks that every precondition still holds (the
	// expected version, 0 meaning absent) and applies the writes. It returns
	// ErrConflict when a precondition fails.
	Commit(ctx context.Context, preconditions map[Ref]int64, writes []Write) error
	Close() error
}
