// Package memory provides an in-process document store backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"whosaid/internal/docstore"
)

// Backend keeps documents in a map guarded by a mutex. Versions come from a
// store-wide counter so a deleted and recreated document never reuses one.
type Backend struct {
	mu     sync.RWMutex
	docs   map[docstore.Ref]docstore.Record
	clock  int64
	closed bool
}

// NewBackend creates an empty backend.
func NewBackend() *Backend {
	return &Backend{docs: make(map[docstore.Ref]docstore.Record)}
}

// New returns a ready-to-use in-memory store.
func New() *docstore.Engine {
	return docstore.New(NewBackend())
}

// Load implements docstore.Backend.
func (b *Backend) Load(ctx context.Context, ref docstore.Ref) (docstore.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Record{}, false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return docstore.Record{}, false, docstore.ErrClosed
	}
	rec, ok := b.docs[ref]
	return rec, ok, nil
}

// List implements docstore.Backend.
func (b *Backend) List(ctx context.Context, q docstore.Query) ([]docstore.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, docstore.ErrClosed
	}

	out := make([]docstore.Record, 0)
	for ref, rec := range b.docs {
		if ref.Collection != q.Collection {
			continue
		}
		ok, err := docstore.Matches(rec.Data, q.Filters)
		if err != nil {
			return nil, fmt.Errorf("match %s: %w", ref, err)
		}
		if ok {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.ID < out[j].Ref.ID })
	return out, nil
}

// Commit implements docstore.Backend.
func (b *Backend) Commit(ctx context.Context, preconditions map[docstore.Ref]int64, writes []docstore.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return docstore.ErrClosed
	}

	for ref, want := range preconditions {
		var have int64
		if rec, ok := b.docs[ref]; ok {
			have = rec.Version
		}
		if have != want {
			return fmt.Errorf("%w: %s at version %d, read %d", docstore.ErrConflict, ref, have, want)
		}
	}

	for _, w := range writes {
		if w.Data == nil {
			delete(b.docs, w.Ref)
			continue
		}
		b.clock++
		data := make([]byte, len(w.Data))
		copy(data, w.Data)
		b.docs[w.Ref] = docstore.Record{Ref: w.Ref, Version: b.clock, Data: data}
	}
	return nil
}

// Close implements docstore.Backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
