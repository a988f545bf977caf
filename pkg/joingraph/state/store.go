// Package state provides the shared state model for joingraph: a schema of
// named fields with declared merge policies, a pure Merge function, and a
// Store that serializes writers and hands out immutable snapshots.
//
// Sequence fields only grow. Every merge allocates fresh slices, so a
// Snapshot taken before a write never observes it.
package state

import (
	"maps"
	"slices"
	"sync"
)

// Values maps field names to their current value.
type Values map[string]any

// Delta is a partial update produced by a node. Fields absent from the delta
// are left untouched. An empty delta is a no-op.
type Delta map[string]any

// Merge applies delta to current under the schema's policies and returns the
// resulting values. current is never modified. The second result reports
// whether any field actually changed.
//
// Every key is validated before anything is applied, so an error means no
// part of the delta took effect.
func Merge(schema *Schema, current Values, delta Delta) (Values, bool, error) {
	if len(delta) == 0 {
		return current, false, nil
	}

	updates := make(map[string]any, len(delta))
	for name, update := range delta {
		f, ok := schema.fields[name]
		if !ok {
			return current, false, &MergeError{Field: name, Err: ErrUndeclaredField}
		}
		merged, changed, err := f.merge(current[name], update)
		if err != nil {
			return current, false, &MergeError{Field: name, Err: err}
		}
		if changed {
			updates[name] = merged
		}
	}

	if len(updates) == 0 {
		return current, false, nil
	}

	next := make(Values, len(current)+len(updates))
	maps.Copy(next, current)
	maps.Copy(next, updates)
	return next, true, nil
}

// Store holds the state for one run. It is safe for concurrent use: merges
// are serialized and readers get consistent snapshots.
type Store struct {
	mu      sync.RWMutex
	schema  *Schema
	values  Values
	version uint64
}

// NewStore creates a store and applies initial as the first delta.
func NewStore(schema *Schema, initial Delta) (*Store, error) {
	values, _, err := Merge(schema, Values{}, initial)
	if err != nil {
		return nil, err
	}
	return &Store{schema: schema, values: values}, nil
}

// Restore recreates a store from previously encoded values, for resuming a run.
func Restore(schema *Schema, values Values, version uint64) *Store {
	if values == nil {
		values = Values{}
	}
	return &Store{schema: schema, values: values, version: version}
}

// Schema returns the store's schema.
func (s *Store) Schema() *Schema {
	return s.schema
}

// Merge atomically applies delta. The version advances only when a field
// changed. It returns the snapshot after the merge.
func (s *Store) Merge(delta Delta) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, changed, err := Merge(s.schema, s.values, delta)
	if err != nil {
		return s.snapshotLocked(), err
	}
	if changed {
		s.values = next
		s.version++
	}
	return s.snapshotLocked(), nil
}

// Snapshot returns an immutable view of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Version returns the number of effective merges applied so far.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{schema: s.schema, values: s.values, version: s.version}
}

// Snapshot is a consistent, read-only view of a Store at one version.
// Callers must not mutate slices obtained through Raw.
type Snapshot struct {
	schema  *Schema
	values  Values
	version uint64
}

// NewSnapshot builds a detached snapshot, mainly for exercising nodes in tests.
func NewSnapshot(schema *Schema, delta Delta) (Snapshot, error) {
	values, _, err := Merge(schema, Values{}, delta)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{schema: schema, values: values}, nil
}

// Version returns the store version the snapshot was taken at.
func (s Snapshot) Version() uint64 { return s.version }

// Schema returns the schema the snapshot belongs to.
func (s Snapshot) Schema() *Schema { return s.schema }

// Has reports whether the field has been written.
func (s Snapshot) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Raw returns the stored value for name without copying.
func (s Snapshot) Raw(name string) any {
	return s.values[name]
}

// Len returns the length of a sequence field, 1 for a written overwrite
// field, and 0 for anything unwritten or undeclared.
func (s Snapshot) Len(name string) int {
	v, ok := s.values[name]
	if !ok || s.schema == nil {
		return 0
	}
	f, ok := s.schema.fields[name]
	if !ok {
		return 0
	}
	return f.length(v)
}

// Values returns a shallow copy of every field.
func (s Snapshot) Values() Values {
	return maps.Clone(s.values)
}

// Get returns an overwrite field's value. ok is false when the field is
// unset or holds another type.
func Get[T any](s Snapshot, name string) (T, bool) {
	v, ok := s.values[name].(T)
	return v, ok
}

// GetOr returns an overwrite field's value, or fallback when unset.
func GetOr[T any](s Snapshot, name string, fallback T) T {
	if v, ok := Get[T](s, name); ok {
		return v
	}
	return fallback
}

// Seq returns a copy of a sequence field. Unset fields yield nil.
func Seq[T any](s Snapshot, name string) []T {
	v, _ := s.values[name].([]T)
	return slices.Clone(v)
}

// Tail returns a copy of a sequence field from index from onwards.
// An out-of-range index yields an empty result.
func Tail[T any](s Snapshot, name string, from int) []T {
	v, _ := s.values[name].([]T)
	if from < 0 {
		from = 0
	}
	if from >= len(v) {
		return nil
	}
	return slices.Clone(v[from:])
}
