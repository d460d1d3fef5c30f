package docstore

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Ref identifies a single document inside a collection.
type Ref struct {
	Collection string
	ID         string
}

// Doc builds a document reference.
func Doc(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

// Collection joins path segments into a collection path, e.g.
// Collection("rooms", code, "players") == "rooms/CODE/players".
func Collection(segments ...string) string {
	return strings.Join(segments, "/")
}

// Path returns the full slash-separated path of the document.
func (r Ref) Path() string {
	return r.Collection + "/" + r.ID
}

// Valid reports whether both parts of the reference are set.
func (r Ref) Valid() bool {
	return r.Collection != "" && r.ID != "" && !strings.Contains(r.ID, "/")
}

func (r Ref) String() string {
	return r.Path()
}

// Filter is an equality constraint on a top-level document field.
type Filter struct {
	Field string
	Value any
}

// Eq builds an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// Query selects the documents of one collection matching every filter.
type Query struct {
	Collection string
	Filters    []Filter
}

// Where builds a query over a collection.
func Where(collection string, filters ...Filter) Query {
	return Query{Collection: collection, Filters: filters}
}

// Snapshot is a point-in-time view of a document.
type Snapshot struct {
	Ref     Ref
	Exists  bool
	Version int64
	Data    []byte
}

// DataTo decodes the document body into v.
func (s Snapshot) DataTo(v any) error {
	if !s.Exists {
		return fmt.Errorf("%w: %s", ErrNotFound, s.Ref)
	}
	if err := json.Unmarshal(s.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", s.Ref, err)
	}
	return nil
}

// Record is a stored document as seen by a Backend.
type Record struct {
	Ref     Ref
	Version int64
	Data    []byte
}

func (r Record) snapshot() Snapshot {
	return Snapshot{Ref: r.Ref, Exists: true, Version: r.Version, Data: r.Data}
}

// Matches reports whether a JSON document satisfies every filter. Filter
// values are compared after a JSON round trip so that Go ints match decoded
// JSON numbers.
func Matches(data []byte, filters []Filter) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return false, fmt.Errorf("decode document: %w", err)
	}
	for _, f := range filters {
		want, err := normalize(f.Value)
		if err != nil {
			return false, err
		}
		got, ok := fields[f.Field]
		if !ok || got != want {
			return false, nil
		}
	}
	return true, nil
}

func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode filter value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode filter value: %w", err)
	}
	switch out.(type) {
	case string, float64, bool, nil:
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported filter value %T", v)
	}
}
