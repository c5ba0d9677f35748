package graph

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// State is the record threaded through a run. It is an immutable value:
// Apply returns a new State and leaves the receiver untouched, so a State
// handed out earlier (for example as a fan-out fork) never changes underneath
// its holder.
type State struct {
	schema *Schema
	values map[string]any
}

// Schema returns the schema the state was built from, or nil for the zero State.
func (s State) Schema() *Schema { return s.schema }

// Get returns the current value of field. found is false when the field is
// not declared, which is distinct from a declared field holding its zero value.
// The value is a deep copy.
func (s State) Get(field string) (value any, found bool) {
	if s.schema == nil {
		return nil, false
	}
	if _, ok := s.schema.Field(field); !ok {
		return nil, false
	}
	return cloneValue(s.values[field]), true
}

// Apply merges u into the state according to each field's kind and returns
// the resulting State. The update is applied atomically: if any field is
// undeclared or has the wrong shape, no field changes and the error is a
// *FieldError.
func (s State) Apply(u Update) (State, error) {
	if s.schema == nil {
		return State{}, ErrSchemaMismatch
	}
	if len(u) == 0 {
		return s, nil
	}

	reduced := make(map[string]any, len(u))
	for name, v := range u {
		f, ok := s.schema.Field(name)
		if !ok {
			return s, &FieldError{Field: name, Err: ErrUnknownField}
		}
		nv, err := reduce(f, s.values[name], v)
		if err != nil {
			return s, err
		}
		reduced[name] = nv
	}

	next := maps.Clone(s.values)
	maps.Copy(next, reduced)
	return State{schema: s.schema, values: next}, nil
}

// reduce combines the current value of f with an update value.
func reduce(f Field, current, update any) (any, error) {
	switch f.Kind {
	case Scalar:
		return cloneValue(update), nil
	case ListAppend:
		items, ok := toList(update)
		if !ok {
			return nil, mismatch(f, update)
		}
		prev, _ := current.([]any)
		out := make([]any, 0, len(prev)+len(items))
		out = append(out, prev...)
		return append(out, items...), nil
	case Counter:
		delta, ok := toInt64(update)
		if !ok {
			return nil, mismatch(f, update)
		}
		prev, _ := current.(int64)
		sum := prev + delta
		if (delta > 0 && sum < prev) || (delta < 0 && sum > prev) {
			return nil, &FieldError{
				Field: f.Name,
				Kind:  f.Kind,
				Msg:   fmt.Sprintf("%d%+d overflows int64", prev, delta),
				Err:   ErrTypeMismatch,
			}
		}
		return sum, nil
	case MapMerge:
		m, ok := update.(map[string]any)
		if !ok {
			return nil, mismatch(f, update)
		}
		prev, _ := current.(map[string]any)
		out := make(map[string]any, len(prev)+len(m))
		maps.Copy(out, prev)
		for k, item := range m {
			out[k] = cloneValue(item)
		}
		return out, nil
	}
	return nil, mismatch(f, update)
}

// Snapshot returns a read-only view of the state for Steps and Resolvers.
func (s State) Snapshot() Snapshot { return Snapshot{state: s} }

// Values returns a deep copy of every field keyed by name.
func (s State) Values() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = cloneValue(v)
	}
	return out
}

// MarshalJSON encodes the field values as a JSON object.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.values)
}

// Snapshot is the read-only view of a State given to Steps and Resolvers.
// Every read returns a deep copy, so fan-out branches sharing one Snapshot
// are isolated from each other.
//
// The typed accessors return an error wrapping ErrUnknownField for undeclared
// fields and ErrTypeMismatch when the stored value has another type. A nil
// scalar reads as the type's zero value.
//
// Snapshots handed to Resolvers also remember the first such error, so a
// resolver that ignores it still fails the run.
type Snapshot struct {
	state  State
	faults *faultLog
}

// faultLog keeps the first field error raised through a Snapshot.
type faultLog struct {
	mu  sync.Mutex
	err error
}

func (f *faultLog) record(err error) error {
	if f == nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
	return err
}

func (f *faultLog) first() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Get returns a copy of the field's value; see State.Get. Use Has to probe
// for a field without it counting as a failed read.
func (s Snapshot) Get(field string) (any, bool) {
	v, ok := s.state.Get(field)
	if !ok {
		s.faults.record(&FieldError{Field: field, Err: ErrUnknownField})
	}
	return v, ok
}

// Kind returns the declared kind of field.
func (s Snapshot) Kind(field string) (FieldKind, bool) {
	if s.state.schema == nil {
		return 0, false
	}
	f, ok := s.state.schema.Field(field)
	return f.Kind, ok
}

// Has reports whether field is declared in the schema.
func (s Snapshot) Has(field string) bool {
	_, ok := s.state.Get(field)
	return ok
}

func (s Snapshot) lookup(field string) (any, error) {
	v, ok := s.state.Get(field)
	if !ok {
		return nil, s.faults.record(&FieldError{Field: field, Err: ErrUnknownField})
	}
	return v, nil
}

func (s Snapshot) wrongType(field string, want string, v any) error {
	f, _ := s.state.schema.Field(field)
	return s.faults.record(&FieldError{
		Field: field,
		Kind:  f.Kind,
		Msg:   fmt.Sprintf("holds %T, not %s", v, want),
		Err:   ErrTypeMismatch,
	})
}

// String reads a string field.
func (s Snapshot) String(field string) (string, error) {
	v, err := s.lookup(field)
	if err != nil || v == nil {
		return "", err
	}
	str, ok := v.(string)
	if !ok {
		return "", s.wrongType(field, "string", v)
	}
	return str, nil
}

// Int reads a counter or an integer scalar.
func (s Snapshot) Int(field string) (int64, error) {
	v, err := s.lookup(field)
	if err != nil || v == nil {
		return 0, err
	}
	n, ok := toInt64(v)
	if !ok {
		return 0, s.wrongType(field, "integer", v)
	}
	return n, nil
}

// Bool reads a boolean field.
func (s Snapshot) Bool(field string) (bool, error) {
	v, err := s.lookup(field)
	if err != nil || v == nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, s.wrongType(field, "bool", v)
	}
	return b, nil
}

// List reads a list field. The returned slice is a copy.
func (s Snapshot) List(field string) ([]any, error) {
	v, err := s.lookup(field)
	if err != nil || v == nil {
		return nil, err
	}
	items, ok := toList(v)
	if !ok {
		return nil, s.wrongType(field, "list", v)
	}
	return items, nil
}

// Map reads a map field. The returned map is a copy.
func (s Snapshot) Map(field string) (map[string]any, error) {
	v, err := s.lookup(field)
	if err != nil || v == nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, s.wrongType(field, "map", v)
	}
	return m, nil
}

// Update is a PartialUpdate: the fields a Step wants to change, keyed by name.
// How each value is combined with the current state depends on the field kind:
// replacement value for Scalar, items to append for ListAppend, an integer
// delta for Counter, and keys to merge for MapMerge.
type Update map[string]any

// Set records a scalar write and returns u for chaining. A nil Update is
// allocated on first use.
func (u Update) Set(field string, v any) Update {
	if u == nil {
		u = Update{}
	}
	u[field] = v
	return u
}

// Append records items to append to a list field.
func (u Update) Append(field string, items ...any) Update {
	if u == nil {
		u = Update{}
	}
	prev, _ := u[field].([]any)
	u[field] = append(prev, items...)
	return u
}

// Add records a counter delta. Repeated calls accumulate.
func (u Update) Add(field string, delta int64) Update {
	if u == nil {
		u = Update{}
	}
	prev, _ := toInt64(u[field])
	u[field] = prev + delta
	return u
}

// Merge records keys to merge into a map field.
func (u Update) Merge(field string, kv map[string]any) Update {
	if u == nil {
		u = Update{}
	}
	prev, _ := u[field].(map[string]any)
	out := make(map[string]any, len(prev)+len(kv))
	maps.Copy(out, prev)
	maps.Copy(out, kv)
	u[field] = out
	return u
}

// Fields returns the updated field names in sorted order.
func (u Update) Fields() []string {
	return slices.Sorted(maps.Keys(u))
}
