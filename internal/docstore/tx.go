package docstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// transaction buffers writes and records the version of every document it
// reads so the commit can detect concurrent modification.
type transaction struct {
	ctx     context.Context
	backend Backend

	reads   map[Ref]int64
	cache   map[Ref]Snapshot
	pending map[Ref][]byte
	order   []Ref
}

func newTransaction(ctx context.Context, backend Backend) *transaction {
	return &transaction{
		ctx:     ctx,
		backend: backend,
		reads:   make(map[Ref]int64),
		cache:   make(map[Ref]Snapshot),
		pending: make(map[Ref][]byte),
	}
}

func (t *transaction) Get(ref Ref) (Snapshot, error) {
	if !ref.Valid() {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrInvalidRef, ref.Path())
	}
	if data, ok := t.pending[ref]; ok {
		return Snapshot{Ref: ref, Exists: data != nil, Version: t.reads[ref], Data: data}, nil
	}
	if snap, ok := t.cache[ref]; ok {
		return snap, nil
	}

	rec, ok, err := t.backend.Load(t.ctx, ref)
	if err != nil {
		return Snapshot{}, unavailable(err)
	}
	snap := Snapshot{Ref: ref}
	if ok {
		snap = rec.snapshot()
	}
	if err := t.observe(ref, snap.Version); err != nil {
		return Snapshot{}, err
	}
	t.cache[ref] = snap
	return snap, nil
}

func (t *transaction) Query(q Query) ([]Snapshot, error) {
	recs, err := t.backend.List(t.ctx, q)
	if err != nil {
		return nil, unavailable(err)
	}

	results := make(map[Ref]Snapshot, len(recs))
	for _, rec := range recs {
		if err := t.observe(rec.Ref, rec.Version); err != nil {
			return nil, err
		}
		if _, ok := t.cache[rec.Ref]; !ok {
			t.cache[rec.Ref] = rec.snapshot()
		}
		results[rec.Ref] = t.cache[rec.Ref]
	}

	// read-your-writes
	for ref, data := range t.pending {
		if ref.Collection != q.Collection {
			continue
		}
		if data == nil {
			delete(results, ref)
			continue
		}
		ok, err := Matches(data, q.Filters)
		if err != nil {
			return nil, err
		}
		if ok {
			results[ref] = Snapshot{Ref: ref, Exists: true, Version: t.reads[ref], Data: data}
		} else {
			delete(results, ref)
		}
	}

	out := make([]Snapshot, 0, len(results))
	for _, snap := range results {
		out = append(out, snap)
	}
	sortSnapshots(out)
	return out, nil
}

func (t *transaction) Create(ref Ref, data any) error {
	snap, err := t.Get(ref)
	if err != nil {
		return err
	}
	if snap.Exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, ref)
	}
	return t.Set(ref, data)
}

func (t *transaction) Set(ref Ref, data any) error {
	if !ref.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRef, ref.Path())
	}
	raw, err := encode(data)
	if err != nil {
		return err
	}
	t.buffer(ref, raw)
	return nil
}

func (t *transaction) Update(ref Ref, fields map[string]any) error {
	snap, err := t.Get(ref)
	if err != nil {
		return err
	}
	if !snap.Exists {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}

	var doc map[string]any
	if err := json.Unmarshal(snap.Data, &doc); err != nil {
		return fmt.Errorf("decode %s: %w", ref, err)
	}
	for k, v := range fields {
		doc[k] = v
	}
	return t.Set(ref, doc)
}

func (t *transaction) Delete(ref Ref) error {
	if !ref.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRef, ref.Path())
	}
	t.buffer(ref, nil)
	return nil
}

// observe records the version a document was read at. Reading the same
// document at two different versions means it changed under us.
func (t *transaction) observe(ref Ref, version int64) error {
	if prev, ok := t.reads[ref]; ok {
		if prev != version {
			return fmt.Errorf("%w: %s changed during transaction", ErrConflict, ref)
		}
		return nil
	}
	if _, written := t.pending[ref]; written {
		// blind write first, read later: the read must not widen the preconditions
		return nil
	}
	t.reads[ref] = version
	return nil
}

func (t *transaction) buffer(ref Ref, data []byte) {
	if _, ok := t.pending[ref]; !ok {
		t.order = append(t.order, ref)
	}
	t.pending[ref] = data
}

func (t *transaction) plan() (map[Ref]int64, []Write) {
	writes := make([]Write, 0, len(t.order))
	for _, ref := range t.order {
		writes = append(writes, Write{Ref: ref, Data: t.pending[ref]})
	}
	return t.reads, writes
}
