// Package jsonsafe turns arbitrary test return values into trees that
// encoding/json can always marshal.
package jsonsafe

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

const cycleMarker = "[circular]"

var (
	marshalerType     = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	timeType          = reflect.TypeOf(time.Time{})
)

// Sanitize returns a copy of v built from maps, slices and scalars. A pointer
// that is already being visited on the current path is replaced with
// "[circular]", and a value whose own marshaling fails becomes nil. Funcs and
// channels become their type name, errors their message.
func Sanitize(v any) any {
	if v == nil {
		return nil
	}
	s := &sanitizer{visiting: make(map[visit]bool)}
	return s.value(reflect.ValueOf(v))
}

// visit identifies a node by address and type: a struct and its first field
// share an address.
type visit struct {
	addr uintptr
	typ  reflect.Type
}

type sanitizer struct {
	visiting map[visit]bool
}

func (s *sanitizer) value(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		if v.IsNil() {
			return nil
		}
	}

	if v.Kind() != reflect.Interface && v.CanInterface() {
		if err, ok := v.Interface().(error); ok && !v.Type().Implements(marshalerType) {
			return err.Error()
		}
		if v.Type() == timeType {
			return v.Interface()
		}
		if v.Type().Implements(marshalerType) || v.Type().Implements(textMarshalerType) {
			b, err := json.Marshal(v.Interface())
			if err != nil {
				return nil
			}
			var out any
			if json.Unmarshal(b, &out) != nil {
				return nil
			}
			return out
		}
	}

	switch v.Kind() {
	case reflect.Pointer:
		key := visit{v.Pointer(), v.Type()}
		if s.visiting[key] {
			return cycleMarker
		}
		s.visiting[key] = true
		defer delete(s.visiting, key)
		return s.value(v.Elem())

	case reflect.Interface:
		return s.value(v.Elem())

	case reflect.Struct:
		return s.structValue(v)

	case reflect.Map:
		key := visit{v.Pointer(), v.Type()}
		if s.visiting[key] {
			return cycleMarker
		}
		s.visiting[key] = true
		defer delete(s.visiting, key)

		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = s.value(iter.Value())
		}
		return out

	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Bytes()
		}
		key := visit{v.Pointer(), v.Type()}
		if s.visiting[key] {
			return cycleMarker
		}
		s.visiting[key] = true
		defer delete(s.visiting, key)
		return s.list(v)

	case reflect.Array:
		return s.list(v)

	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return v.Type().String()

	case reflect.Complex64, reflect.Complex128:
		return fmt.Sprint(v.Complex())

	case reflect.Float32, reflect.Float64:
		return v.Float()

	case reflect.Bool:
		return v.Bool()

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()

	case reflect.String:
		return v.String()
	}

	return fmt.Sprint(v)
}

func (s *sanitizer) list(v reflect.Value) []any {
	out := make([]any, v.Len())
	for i := range out {
		out[i] = s.value(v.Index(i))
	}
	return out
}

func (s *sanitizer) structValue(v reflect.Value) map[string]any {
	t := v.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, omitEmpty, skip := jsonName(f)
		if skip {
			continue
		}
		fv := v.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		if f.Anonymous && name == f.Name {
			if embedded, ok := s.value(fv).(map[string]any); ok {
				for k, val := range embedded {
					if _, exists := out[k]; !exists {
						out[k] = val
					}
				}
				continue
			}
		}
		out[name] = s.value(fv)
	}
	return out
}

func jsonName(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	for _, opt := range strings.Split(opts, ",") {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}
