package importer

import (
	"fmt"
	"reflect"

	"github.com/spf13/cast"
)

// FieldChange is one field-level difference between a stored entity and an
// incoming candidate.
type FieldChange struct {
	Field string
	From  any
	To    any
}

func (c FieldChange) String() string {
	return fmt.Sprintf("%s: %q -> %q", c.Field, cast.ToString(c.From), cast.ToString(c.To))
}

// Diff computes the minimal change-set between a stored entity and an
// incoming record of the same struct type, under an authority policy:
//
//   - Authoritative fields are overwritten whenever the incoming value
//     differs from the stored one.
//   - Fill-blank-only fields are written only when the stored value is empty
//     and the incoming value is not; curated data is never clobbered.
//
// Fields named in neither list are untouched. This replaces hand-written
// field-by-field setter copying in each importer.
func Diff(existing, incoming any, policy AuthorityPolicy) ([]FieldChange, error) {
	ev, err := structValue(existing)
	if err != nil {
		return nil, fmt.Errorf("existing: %w", err)
	}
	iv, err := structValue(incoming)
	if err != nil {
		return nil, fmt.Errorf("incoming: %w", err)
	}
	if ev.Type() != iv.Type() {
		return nil, fmt.Errorf("type mismatch: %s vs %s", ev.Type(), iv.Type())
	}

	var changes []FieldChange

	for _, name := range policy.Authoritative {
		from, to, err := fieldPair(ev, iv, name)
		if err != nil {
			return nil, err
		}
		if !reflect.DeepEqual(from.Interface(), to.Interface()) {
			changes = append(changes, FieldChange{Field: name, From: from.Interface(), To: to.Interface()})
		}
	}

	for _, name := range policy.FillBlankOnly {
		from, to, err := fieldPair(ev, iv, name)
		if err != nil {
			return nil, err
		}
		if isBlank(from) && !isBlank(to) {
			changes = append(changes, FieldChange{Field: name, From: from.Interface(), To: to.Interface()})
		}
	}

	return changes, nil
}

// ApplyChanges writes a change-set onto target, which must be a pointer to
// the struct type the changes were computed from.
func ApplyChanges(target any, changes []FieldChange) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("target must be a pointer to struct, got %T", target)
	}
	sv := v.Elem()

	for _, change := range changes {
		field := sv.FieldByName(change.Field)
		if !field.IsValid() {
			return fmt.Errorf("unknown field %q on %s", change.Field, sv.Type())
		}
		if !field.CanSet() {
			return fmt.Errorf("cannot set field %q on %s", change.Field, sv.Type())
		}
		val := reflect.ValueOf(change.To)
		if !val.IsValid() {
			field.SetZero()
			continue
		}
		if !val.Type().AssignableTo(field.Type()) {
			return fmt.Errorf("cannot assign %s to field %q (%s)", val.Type(), change.Field, field.Type())
		}
		field.Set(val)
	}

	return nil
}

// ChangedFields lists the field names in a change-set, in order.
func ChangedFields(changes []FieldChange) []string {
	if len(changes) == 0 {
		return nil
	}
	names := make([]string, len(changes))
	for i, c := range changes {
		names[i] = c.Field
	}
	return names
}

func structValue(v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, fmt.Errorf("nil value")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("expected struct, got %T", v)
	}
	return rv, nil
}

func fieldPair(ev, iv reflect.Value, name string) (reflect.Value, reflect.Value, error) {
	from := ev.FieldByName(name)
	if !from.IsValid() {
		return reflect.Value{}, reflect.Value{}, fmt.Errorf("unknown field %q on %s", name, ev.Type())
	}
	return from, iv.FieldByName(name), nil
}

// isBlank treats zero values, nil pointers, and empty slices/maps as blank.
func isBlank(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	default:
		return v.IsZero()
	}
}
