// Package testdef discovers diagnostic tests and binds their parameters.
package testdef

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"strings"
)

// Resolver provides suite instances for a target.
type Resolver interface {
	Resolve(t reflect.Type) (any, error)
}

type invoker func(ctx context.Context, suite any, args reflect.Value) (Outcome, error)

// Definition is one discovered test.
type Definition struct {
	// Name is the route name, unique within a Registry.
	Name string
	// Method is the Go method (or function source) name.
	Method string
	// SuiteType is the declaring type, nil for function sources.
	SuiteType reflect.Type
	// MethodKey identifies the method for test case registration.
	MethodKey  string
	Tags       []string
	Parameters []Parameter

	paramType reflect.Type
	fields    []paramField
	invoke    invoker
}

// Bound holds arguments ready for invocation.
type Bound struct {
	args reflect.Value
	// Supplied lists the arguments that came from the query string.
	Supplied ParameterSet
	// Values lists every argument, supplied or defaulted.
	Values ParameterSet
}

// HasParameters reports whether the test declares any parameters.
func (d *Definition) HasParameters() bool {
	return len(d.fields) > 0
}

// Defaults returns the declared default value of every parameter.
func (d *Definition) Defaults() ParameterSet {
	set := make(ParameterSet, 0, len(d.fields))
	for _, f := range d.fields {
		set = append(set, Argument{Name: f.name, Value: f.def.Interface()})
	}
	return set
}

// Bind coerces query values into the test's parameters. Keys that do not name
// a declared parameter are ignored; absent parameters take their defaults.
func (d *Definition) Bind(query url.Values) (Bound, error) {
	if d.paramType == nil {
		return Bound{}, nil
	}

	args := reflect.New(d.paramType).Elem()
	b := Bound{args: args}

	for _, f := range d.fields {
		raw, ok := lookup(query, f.name)
		if !ok {
			args.FieldByIndex(f.index).Set(f.def)
			b.Values = append(b.Values, Argument{Name: f.name, Value: f.def.Interface()})
			continue
		}

		v, err := coerce(raw, f.typ)
		if err != nil {
			return Bound{}, &ParameterFormatError{Parameter: f.name, Type: f.typ, Err: err}
		}
		args.FieldByIndex(f.index).Set(v)
		b.Supplied = append(b.Supplied, Argument{Name: f.name, Value: v.Interface()})
		b.Values = append(b.Values, Argument{Name: f.name, Value: v.Interface()})
	}

	return b, nil
}

func lookup(query url.Values, name string) (string, bool) {
	if vs, ok := query[name]; ok && len(vs) > 0 {
		return vs[0], true
	}
	for k, vs := range query {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0], true
		}
	}
	return "", false
}

// Invoke resolves the suite instance and calls the test with bound arguments.
func (d *Definition) Invoke(ctx context.Context, resolver Resolver, b Bound) (Outcome, error) {
	var suite any
	if d.SuiteType != nil {
		instance, err := resolver.Resolve(d.SuiteType)
		if err != nil {
			return Outcome{}, err
		}
		suite = instance
	}

	args := b.args
	if d.paramType != nil && !args.IsValid() {
		defaults, err := d.Bind(nil)
		if err != nil {
			return Outcome{}, err
		}
		args = defaults.args
	}

	return d.invoke(ctx, suite, args)
}

// HasTag reports whether the test carries tag, ignoring case.
func (d *Definition) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func (d *Definition) String() string {
	if d.SuiteType == nil {
		return d.Name
	}
	return fmt.Sprintf("%s (%s.%s)", d.Name, d.SuiteType, d.Method)
}
