package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultMaxAttempts bounds how many times a conflicting transaction is retried
	DefaultMaxAttempts = 8

	retryInitialInterval = 5 * time.Millisecond
	retryMaxInterval     = 250 * time.Millisecond
)

// Engine implements Store on top of a Backend: it runs optimistic
// transactions with retry and fans committed changes out to subscribers.
type Engine struct {
	backend     Backend
	broker      *broker
	maxAttempts uint
}

// New creates a store engine over the given backend.
func New(backend Backend) *Engine {
	return &Engine{
		backend:     backend,
		broker:      newBroker(),
		maxAttempts: DefaultMaxAttempts,
	}
}

// Get implements Store.
func (e *Engine) Get(ctx context.Context, ref Ref) (Snapshot, error) {
	if !ref.Valid() {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrInvalidRef, ref.Path())
	}
	rec, ok, err := e.backend.Load(ctx, ref)
	if err != nil {
		return Snapshot{}, unavailable(err)
	}
	if !ok {
		return Snapshot{Ref: ref}, nil
	}
	return rec.snapshot(), nil
}

// Query implements Store.
func (e *Engine) Query(ctx context.Context, q Query) ([]Snapshot, error) {
	recs, err := e.backend.List(ctx, q)
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]Snapshot, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.snapshot())
	}
	return out, nil
}

// Set implements Store.
func (e *Engine) Set(ctx context.Context, ref Ref, data any) error {
	if !ref.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRef, ref.Path())
	}
	raw, err := encode(data)
	if err != nil {
		return err
	}
	return e.commit(ctx, nil, []Write{{Ref: ref, Data: raw}})
}

// Update implements Store.
func (e *Engine) Update(ctx context.Context, ref Ref, fields map[string]any) error {
	return e.RunTransaction(ctx, func(_ context.Context, tx Tx) error {
		return tx.Update(ref, fields)
	})
}

// Delete implements Store.
func (e *Engine) Delete(ctx context.Context, ref Ref) error {
	if !ref.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRef, ref.Path())
	}
	return e.commit(ctx, nil, []Write{{Ref: ref}})
}

// RunTransaction implements Store. A transaction without writes still
// checks that every document it read is unchanged, so it observes one
// consistent version of the store.
func (e *Engine) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	attempt := func() (struct{}, error) {
		tx := newTransaction(ctx, e.backend)
		if err := fn(ctx, tx); err != nil {
			if errors.Is(err, ErrConflict) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		preconditions, writes := tx.plan()
		if len(writes) == 0 && len(preconditions) == 0 {
			return struct{}{}, nil
		}
		if err := e.commit(ctx, preconditions, writes); err != nil {
			if errors.Is(err, ErrConflict) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(newRetryBackOff()),
		backoff.WithMaxTries(e.maxAttempts),
	)
	return err
}

// SubscribeDoc implements Store.
func (e *Engine) SubscribeDoc(ref Ref, onSnapshot func(Snapshot), onError func(error)) func() {
	deliver := func(ctx context.Context) error {
		snap, err := e.Get(ctx, ref)
		if err != nil {
			return err
		}
		onSnapshot(snap)
		return nil
	}
	return e.broker.subscribe(func(changed Ref) bool { return changed == ref }, deliver, onError)
}

// SubscribeQuery implements Store.
func (e *Engine) SubscribeQuery(q Query, onSnapshot func([]Snapshot), onError func(error)) func() {
	deliver := func(ctx context.Context) error {
		snaps, err := e.Query(ctx, q)
		if err != nil {
			return err
		}
		onSnapshot(snaps)
		return nil
	}
	return e.broker.subscribe(func(changed Ref) bool { return changed.Collection == q.Collection }, deliver, onError)
}

// Close stops every subscription and closes the backend.
func (e *Engine) Close() error {
	e.broker.close()
	return e.backend.Close()
}

func (e *Engine) commit(ctx context.Context, preconditions map[Ref]int64, writes []Write) error {
	if err := e.backend.Commit(ctx, preconditions, writes); err != nil {
		if errors.Is(err, ErrConflict) {
			return err
		}
		return unavailable(err)
	}
	// a read-only commit only validates its read set
	if len(writes) == 0 {
		return nil
	}
	changed := make([]Ref, 0, len(writes))
	for _, w := range writes {
		changed = append(changed, w.Ref)
	}
	e.broker.publish(changed)
	return nil
}

func newRetryBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	return b
}

func unavailable(err error) error {
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func encode(data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("encode document: %T is not an object", data)
	}
	return raw, nil
}

func sortSnapshots(snaps []Snapshot) {
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Ref.ID < snaps[j].Ref.ID })
}
