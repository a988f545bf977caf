package state

import (
	"encoding/json"
	"fmt"
)

// Policy is the merge rule a field applies to incoming writes.
type Policy int

const (
	// Overwrite replaces the stored value with the latest write.
	Overwrite Policy = iota

	// Append concatenates new elements onto the stored sequence.
	// The stored length never decreases.
	Append
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case Overwrite:
		return "overwrite"
	case Append:
		return "append"
	default:
		return "unknown"
	}
}

// Field declares a named state field together with its merge policy.
// Build fields with Sequence, KeyedSequence or Value; the zero Field is invalid.
type Field struct {
	name   string
	policy Policy
	kind   string

	merge  func(current, update any) (any, bool, error)
	decode func(raw json.RawMessage) (any, error)
	length func(v any) int
}

// Name returns the field name.
func (f Field) Name() string { return f.name }

// Policy returns the field's merge policy.
func (f Field) Policy() Policy { return f.policy }

// Kind describes the Go type stored in the field, for error messages.
func (f Field) Kind() string { return f.kind }

// Sequence declares an append-merged field holding []T.
// Writes may be a []T or a single T.
func Sequence[T any](name string) Field {
	return sequenceField[T](name, nil)
}

// KeyedSequence declares an append-merged field holding []T where elements
// carrying a key already present in the sequence are skipped. Elements with
// an empty key are always appended.
//
// Message histories use this so re-seeding a branch with the same shared
// prefix does not duplicate it.
func KeyedSequence[T any](name string, key func(T) string) Field {
	if key == nil {
		panic("state: key function cannot be nil")
	}
	return sequenceField(name, key)
}

// Value declares an overwrite field holding a T.
func Value[T any](name string) Field {
	var zero T
	return Field{
		name:   name,
		policy: Overwrite,
		kind:   fmt.Sprintf("%T", zero),
		merge: func(_, update any) (any, bool, error) {
			v, ok := update.(T)
			if !ok {
				return nil, false, fmt.Errorf("%w: want %T, got %T", ErrTypeMismatch, zero, update)
			}
			return v, true, nil
		},
		decode: func(raw json.RawMessage) (any, error) {
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
		length: func(any) int { return 1 },
	}
}

func sequenceField[T any](name string, key func(T) string) Field {
	var zero []T
	return Field{
		name:   name,
		policy: Append,
		kind:   fmt.Sprintf("%T", zero),
		merge: func(current, update any) (any, bool, error) {
			cur, _ := current.([]T)

			var add []T
			switch u := update.(type) {
			case nil:
				return cur, false, nil
			case []T:
				add = u
			case T:
				add = []T{u}
			default:
				return nil, false, fmt.Errorf("%w: want %T or element, got %T", ErrTypeMismatch, zero, update)
			}

			if key != nil {
				add = withoutKnownKeys(cur, add, key)
			}
			if len(add) == 0 {
				return cur, false, nil
			}

			// Always allocate: snapshots handed out earlier share the old backing array.
			merged := make([]T, 0, len(cur)+len(add))
			merged = append(merged, cur...)
			merged = append(merged, add...)
			return merged, true, nil
		},
		decode: func(raw json.RawMessage) (any, error) {
			var v []T
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
		length: func(v any) int {
			s, _ := v.([]T)
			return len(s)
		},
	}
}

func withoutKnownKeys[T any](cur, add []T, key func(T) string) []T {
	seen := make(map[string]struct{}, len(cur)+len(add))
	for _, el := range cur {
		if k := key(el); k != "" {
			seen[k] = struct{}{}
		}
	}

	out := make([]T, 0, len(add))
	for _, el := range add {
		k := key(el)
		if k != "" {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
		}
		out = append(out, el)
	}
	return out
}
