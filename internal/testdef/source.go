package testdef

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// Source produces test definitions. Implementations decide what counts as a
// test.
type Source interface {
	Definitions() ([]*Definition, error)
}

// TestTagger is implemented by suites that tag their tests. Keys are Go method
// names.
type TestTagger interface {
	TestTags() map[string][]string
}

// capabilityMethods are exported suite methods that are never tests.
var capabilityMethods = map[string]bool{
	"AppliesToEnvironment": true,
	"AppliesToTarget":      true,
	"RegisterTestCases":    true,
	"TestTags":             true,
}

type typeSource struct {
	typ reflect.Type
}

// FromType discovers tests from the method set of T, which must be a pointer
// to a struct. Every exported method whose first argument is a
// context.Context is a test. Accepted signatures are
//
//	func(ctx) error
//	func(ctx) (R, error)
//	func(ctx, P) error
//	func(ctx, P) (R, error)
//
// where P is a struct of parameters. Fields become parameters named by their
// `param` tag, with defaults taken from their `default` tag.
func FromType[T any]() Source {
	return typeSource{typ: reflect.TypeOf((*T)(nil)).Elem()}
}

func (s typeSource) Definitions() ([]*Definition, error) {
	t := s.typ
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("suite type %s must be a pointer to a struct", t)
	}

	var tags map[string][]string
	if t.Implements(reflect.TypeOf((*TestTagger)(nil)).Elem()) {
		tags = reflect.New(t.Elem()).Interface().(TestTagger).TestTags()
	}

	var defs []*Definition
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if capabilityMethods[m.Name] {
			continue
		}
		mt := m.Type
		// In(0) is the receiver.
		if mt.NumIn() < 2 || mt.In(1) != contextType {
			continue
		}

		def, err := methodDefinition(t, m)
		if err != nil {
			return nil, err
		}
		def.Tags = append([]string{}, tags[m.Name]...)
		defs = append(defs, def)
	}

	if len(defs) == 0 {
		return nil, fmt.Errorf("suite type %s declares no tests", t)
	}
	return defs, nil
}

func methodDefinition(suite reflect.Type, m reflect.Method) (*Definition, error) {
	mt := m.Type
	invalid := func(reason string) error {
		return fmt.Errorf("%s.%s: unsupported test signature %s: %s", suite, m.Name, mt, reason)
	}

	if mt.NumIn() > 3 {
		return nil, invalid("too many arguments")
	}
	if mt.NumOut() < 1 || mt.NumOut() > 2 || mt.Out(mt.NumOut()-1) != errorType {
		return nil, invalid("must return error or (value, error)")
	}

	def := &Definition{
		Name:       RouteName(m.Name),
		Method:     m.Name,
		SuiteType:  suite,
		MethodKey:  MethodKey(m.Func.Interface()),
		Parameters: []Parameter{},
	}

	hasParams := mt.NumIn() == 3
	if hasParams {
		fields, err := fieldsOf(mt.In(2))
		if err != nil {
			return nil, invalid(err.Error())
		}
		def.paramType = mt.In(2)
		def.fields = fields
		for _, f := range fields {
			def.Parameters = append(def.Parameters, Parameter{Name: f.name, DefaultValue: f.def.Interface()})
		}
	}

	returnsValue := mt.NumOut() == 2
	pending := returnsValue && mt.Out(0).Implements(awaitableType)
	fn := m.Func

	def.invoke = func(ctx context.Context, instance any, args reflect.Value) (Outcome, error) {
		in := []reflect.Value{reflect.ValueOf(instance), reflect.ValueOf(&ctx).Elem()}
		if hasParams {
			in = append(in, args)
		}
		out := fn.Call(in)

		if errv := out[len(out)-1]; !errv.IsNil() {
			return Outcome{}, errv.Interface().(error)
		}
		if !returnsValue {
			return VoidOutcome(), nil
		}
		if pending {
			if isNil(out[0]) {
				return VoidOutcome(), nil
			}
			return PendingOutcome(out[0].Interface().(Awaitable)), nil
		}
		return ValueOutcome(out[0].Interface()), nil
	}

	return def, nil
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return v.IsNil()
	}
	return false
}

// MethodKey returns the identity of a method given as a method expression
// ((*Suite).Method), a method value (s.Method) or a reflect.Method func.
// Pointer and value receivers of the same method yield the same key.
func MethodKey(method any) string {
	v := reflect.ValueOf(method)
	if v.Kind() != reflect.Func {
		return ""
	}
	fn := runtime.FuncForPC(v.Pointer())
	if fn == nil {
		return ""
	}
	name := strings.TrimSuffix(fn.Name(), "-fm")
	name = strings.ReplaceAll(name, "(*", "")
	return strings.ReplaceAll(name, ")", "")
}

// FuncOption configures a function source.
type FuncOption func(*Definition)

// WithTags tags a function test.
func WithTags(tags ...string) FuncOption {
	return func(d *Definition) {
		d.Tags = append(d.Tags, tags...)
	}
}

type funcSource struct {
	def *Definition
}

// FromFunc registers a standalone test. A nil value means the test produced
// nothing; an Awaitable value is awaited.
func FromFunc(name string, fn func(ctx context.Context) (any, error), opts ...FuncOption) Source {
	def := &Definition{
		Name:       name,
		Method:     name,
		MethodKey:  "func:" + name,
		Tags:       []string{},
		Parameters: []Parameter{},
	}
	for _, opt := range opts {
		opt(def)
	}
	def.invoke = func(ctx context.Context, _ any, _ reflect.Value) (Outcome, error) {
		v, err := fn(ctx)
		if err != nil {
			return Outcome{}, err
		}
		switch x := v.(type) {
		case nil:
			return VoidOutcome(), nil
		case Awaitable:
			return PendingOutcome(x), nil
		default:
			return ValueOutcome(v), nil
		}
	}
	return funcSource{def: def}
}

func (s funcSource) Definitions() ([]*Definition, error) {
	if s.def.Name == "" {
		return nil, fmt.Errorf("function test has no name")
	}
	return []*Definition{s.def}, nil
}
