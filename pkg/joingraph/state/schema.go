package state

import (
	"encoding/json"
	"fmt"
)

// Schema is the static merge-policy table for a graph's state.
// It is immutable after NewSchema returns.
type Schema struct {
	fields map[string]Field
	order  []string
}

// NewSchema validates and builds a schema. Every field name must be unique.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: make(map[string]Field, len(fields)),
		order:  make([]string, 0, len(fields)),
	}
	for _, f := range fields {
		if f.name == "" || f.merge == nil {
			return nil, ErrEmptyFieldName
		}
		if _, dup := s.fields[f.name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateField, f.name)
		}
		s.fields[f.name] = f
		s.order = append(s.order, f.name)
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error.
func MustSchema(fields ...Field) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic("state: " + err.Error())
	}
	return s
}

// Field returns the declared field with the given name.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Has reports whether name is declared.
func (s *Schema) Has(name string) bool {
	_, ok := s.fields[name]
	return ok
}

// Names returns field names in declaration order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Encode serializes every present field to JSON, keyed by field name.
func (s *Schema) Encode(v Values) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(v))
	for _, name := range s.order {
		val, ok := v[name]
		if !ok {
			continue
		}
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, &MergeError{Field: name, Err: err}
		}
		out[name] = raw
	}
	return out, nil
}

// Decode rebuilds typed values from the output of Encode.
// Unknown keys are rejected so a checkpoint from another schema cannot be
// restored silently.
func (s *Schema) Decode(raw map[string]json.RawMessage) (Values, error) {
	out := make(Values, len(raw))
	for name, data := range raw {
		f, ok := s.fields[name]
		if !ok {
			return nil, &MergeError{Field: name, Err: ErrUndeclaredField}
		}
		val, err := f.decode(data)
		if err != nil {
			return nil, &MergeError{Field: name, Err: err}
		}
		out[name] = val
	}
	return out, nil
}
