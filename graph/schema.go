package graph

import (
	"fmt"
	"math"
	"slices"
)

// FieldKind selects the reducer used when an Update touches a field.
type FieldKind int

const (
	// Scalar fields are replaced by the latest write.
	Scalar FieldKind = iota
	// ListAppend fields concatenate new items to the existing list.
	ListAppend
	// Counter fields add an integer delta and are never overwritten.
	Counter
	// MapMerge fields merge keys shallowly; update keys win.
	MapMerge
)

func (k FieldKind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case ListAppend:
		return "list-append"
	case Counter:
		return "counter"
	case MapMerge:
		return "map-merge"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// Field declares one entry of the state record.
//
// Zero is the value the field holds before any Step writes it. It is
// optional for ListAppend (empty list), Counter (0) and MapMerge (empty map).
type Field struct {
	Name string
	Kind FieldKind
	Zero any
}

// Schema is the ordered, immutable set of fields a graph's state carries.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema validates the field declarations and returns a Schema.
//
// Every field must have a unique non-empty name and a zero value that fits
// its kind. Errors wrap ErrDefinitionInvalid.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: field with empty name", ErrDefinitionInvalid)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrDefinitionInvalid, f.Name)
		}
		zero, err := normalizeZero(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDefinitionInvalid, err)
		}
		f.Zero = zero
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error. Intended for package-level
// schema declarations.
func MustSchema(fields ...Field) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Field looks up a declared field by name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Fields returns the declared fields in declaration order.
func (s *Schema) Fields() []Field {
	return slices.Clone(s.fields)
}

// NewState builds a State from initial values. Omitted fields start at their
// zero value. Values are checked against their field kind but not reduced:
// an initial counter of 5 starts the counter at 5.
func (s *Schema) NewState(initial map[string]any) (State, error) {
	values := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		values[f.Name] = cloneValue(f.Zero)
	}
	for name, v := range initial {
		f, ok := s.Field(name)
		if !ok {
			return State{}, &FieldError{Field: name, Err: ErrUnknownField}
		}
		nv, err := normalizeValue(f, v)
		if err != nil {
			return State{}, err
		}
		values[name] = nv
	}
	return State{schema: s, values: values}, nil
}

// normalizeZero fills in default zero values and checks explicit ones.
func normalizeZero(f Field) (any, error) {
	switch f.Kind {
	case Scalar:
		return f.Zero, nil
	case ListAppend:
		if f.Zero == nil {
			return []any{}, nil
		}
	case Counter:
		if f.Zero == nil {
			return int64(0), nil
		}
	case MapMerge:
		if f.Zero == nil {
			return map[string]any{}, nil
		}
	default:
		return nil, fmt.Errorf("field %q has unknown kind %v", f.Name, f.Kind)
	}
	return normalizeValue(f, f.Zero)
}

// normalizeValue converts v into the canonical representation for the field's
// kind: []any for lists, int64 for counters, map[string]any for maps.
func normalizeValue(f Field, v any) (any, error) {
	switch f.Kind {
	case ListAppend:
		items, ok := toList(v)
		if !ok {
			return nil, mismatch(f, v)
		}
		return items, nil
	case Counter:
		n, ok := toInt64(v)
		if !ok {
			return nil, mismatch(f, v)
		}
		return n, nil
	case MapMerge:
		m, ok := v.(map[string]any)
		if !ok {
			if v != nil {
				return nil, mismatch(f, v)
			}
			m = map[string]any{}
		}
		return cloneValue(m), nil
	}
	return cloneValue(v), nil
}

func mismatch(f Field, v any) error {
	return &FieldError{
		Field: f.Name,
		Kind:  f.Kind,
		Msg:   fmt.Sprintf("cannot use %T as %s", v, f.Kind),
		Err:   ErrTypeMismatch,
	}
}

// toList accepts []any, []string and nil. Other slice types must be converted
// by the caller.
func toList(v any) ([]any, bool) {
	switch items := v.(type) {
	case nil:
		return []any{}, true
	case []any:
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = cloneValue(item)
		}
		return out, true
	case []string:
		out := make([]any, len(items))
		for i, s := range items {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		return fromUnsigned(uint64(n))
	case uint64:
		return fromUnsigned(n)
	case uintptr:
		return fromUnsigned(uint64(n))
	}
	return 0, false
}

func fromUnsigned(n uint64) (int64, bool) {
	if n > math.MaxInt64 {
		return 0, false
	}
	return int64(n), true
}
