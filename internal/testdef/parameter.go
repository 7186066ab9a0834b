package testdef

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"
)

// Parameter is a declared test parameter and its default value.
type Parameter struct {
	Name         string `json:"name"`
	DefaultValue any    `json:"defaultValue"`
}

// Argument is a concrete value bound to a named parameter.
type Argument struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// ParameterSet is an ordered set of arguments for one invocation of a test.
type ParameterSet []Argument

// Query returns the set as url.Values.
func (s ParameterSet) Query() url.Values {
	q := make(url.Values, len(s))
	for _, a := range s {
		q.Set(a.Name, formatValue(a.Value))
	}
	return q
}

// QueryString returns the canonical form of the set: pairs sorted by name and
// query-escaped. It identifies a test case and is the query suffix of its route.
func (s ParameterSet) QueryString() string {
	if len(s) == 0 {
		return ""
	}
	return s.Query().Encode()
}

type paramField struct {
	name  string
	index []int
	typ   reflect.Type
	def   reflect.Value
}

// fieldsOf builds the parameter schema of a parameter struct.
func fieldsOf(t reflect.Type) ([]paramField, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("parameters must be a struct, got %s", t)
	}

	var fields []paramField
	seen := make(map[string]bool)
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() || sf.Anonymous {
			continue
		}

		name := parameterName(sf.Name)
		if tag, ok := sf.Tag.Lookup("param"); ok {
			tag, _, _ = strings.Cut(tag, ",")
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}
		if seen[name] {
			return nil, fmt.Errorf("%s: duplicate parameter %q", t, name)
		}
		seen[name] = true

		if !supported(sf.Type) {
			return nil, fmt.Errorf("%s: parameter %q: %w: %s", t, name, errUnsupportedType, sf.Type)
		}

		def := reflect.Zero(sf.Type)
		if raw, ok := sf.Tag.Lookup("default"); ok {
			v, err := coerce(raw, sf.Type)
			if err != nil {
				return nil, fmt.Errorf("%s: parameter %q: invalid default %q: %w", t, name, raw, err)
			}
			def = v
		}

		fields = append(fields, paramField{
			name:  name,
			index: sf.Index,
			typ:   sf.Type,
			def:   def,
		})
	}

	return fields, nil
}

// ParametersOf extracts the arguments held by a parameter struct value, as
// passed when registering a test case.
func ParametersOf(args any) (ParameterSet, error) {
	v := reflect.ValueOf(args)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, fmt.Errorf("nil parameters")
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil, fmt.Errorf("nil parameters")
	}

	fields, err := fieldsOf(v.Type())
	if err != nil {
		return nil, err
	}

	set := make(ParameterSet, 0, len(fields))
	for _, f := range fields {
		set = append(set, Argument{Name: f.name, Value: v.FieldByIndex(f.index).Interface()})
	}
	return set, nil
}
