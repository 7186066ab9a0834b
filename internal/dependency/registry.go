// Package dependency provides the per-target dependency container and the
// registry of parameterized test cases.
package dependency

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/container-resource-predictor/fleet-diagnostics/internal/memo"
)

// ErrResolution is wrapped by ResolutionError.
var ErrResolution = errors.New("dependency resolution failed")

// ResolutionError reports a type that could not be resolved.
type ResolutionError struct {
	Type reflect.Type
	Err  error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot resolve %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("cannot resolve %s: no factory registered and no default constructor", e.Type)
}

func (e *ResolutionError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrResolution, e.Err}
	}
	return []error{ErrResolution}
}

// Factory builds an instance, resolving its own dependencies from r.
type Factory func(r *Registry) (any, error)

// Registry is one target's dependency container. Instances are created lazily
// and cached for the registry's lifetime.
type Registry struct {
	mu        sync.RWMutex
	factories map[reflect.Type]Factory

	instances memo.Map[any]
	cases     caseStore
	caseRuns  memo.Map[struct{}]
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		factories: make(map[reflect.Type]Factory),
	}
}

// RegisterFactory installs f as the factory for t, replacing any earlier one.
func (r *Registry) RegisterFactory(t reflect.Type, f Factory) *Registry {
	r.mu.Lock()
	r.factories[t] = f
	r.mu.Unlock()
	return r
}

// Register installs a typed factory for T.
func Register[T any](r *Registry, factory func(r *Registry) (T, error)) *Registry {
	return r.RegisterFactory(typeOf[T](), func(r *Registry) (any, error) {
		return factory(r)
	})
}

// RegisterValue installs a fixed instance of T.
func RegisterValue[T any](r *Registry, v T) *Registry {
	return r.RegisterFactory(typeOf[T](), func(*Registry) (any, error) {
		return v, nil
	})
}

// Has reports whether a factory is registered for t.
func (r *Registry) Has(t reflect.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[t]
	return ok
}

// Resolve returns the instance for t, creating it on first use. A cycle among
// `inject` fields fails with a ResolutionError.
func (r *Registry) Resolve(t reflect.Type) (any, error) {
	return r.resolve(t, nil)
}

// resolve carries the chain of types being constructed by this call so a
// cycle is reported before it re-enters the instance cache.
func (r *Registry) resolve(t reflect.Type, chain []reflect.Type) (any, error) {
	for i, seen := range chain {
		if seen == t {
			return nil, &ResolutionError{Type: t, Err: fmt.Errorf("dependency cycle: %s", cyclePath(chain[i:], t))}
		}
	}

	return r.instances.GetOrCompute(typeKey(t), func() (any, error) {
		r.mu.RLock()
		factory, ok := r.factories[t]
		r.mu.RUnlock()

		if ok {
			v, err := factory(r)
			if err != nil {
				return nil, &ResolutionError{Type: t, Err: err}
			}
			return v, nil
		}
		return r.construct(t, append(chain[:len(chain):len(chain)], t))
	})
}

func cyclePath(chain []reflect.Type, t reflect.Type) string {
	parts := make([]string, 0, len(chain)+1)
	for _, c := range chain {
		parts = append(parts, c.String())
	}
	return strings.Join(append(parts, t.String()), " -> ")
}

// Resolve returns the instance of T from r.
func Resolve[T any](r *Registry) (T, error) {
	var zero T
	v, err := r.Resolve(typeOf[T]())
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, &ResolutionError{Type: typeOf[T](), Err: fmt.Errorf("factory returned %T", v)}
	}
	return typed, nil
}

// construct is the default constructor: a new zero struct whose exported
// fields tagged `inject` are resolved from r. `inject:"optional"` fields are
// left zero when they cannot be resolved.
func (r *Registry) construct(t reflect.Type, chain []reflect.Type) (any, error) {
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, &ResolutionError{Type: t}
	}

	v := reflect.New(t.Elem())
	st := t.Elem()
	for i := 0; i < st.NumField(); i++ {
		sf := st.Field(i)
		tag, ok := sf.Tag.Lookup("inject")
		if !ok || !sf.IsExported() {
			continue
		}

		dep, err := r.resolve(sf.Type, chain)
		if err != nil {
			if tag == "optional" {
				continue
			}
			return nil, &ResolutionError{Type: t, Err: fmt.Errorf("field %s: %w", sf.Name, err)}
		}
		if dep == nil {
			continue
		}
		dv := reflect.ValueOf(dep)
		if !dv.Type().AssignableTo(sf.Type) {
			return nil, &ResolutionError{Type: t, Err: fmt.Errorf("field %s: %s is not assignable to %s", sf.Name, dv.Type(), sf.Type)}
		}
		v.Elem().Field(i).Set(dv)
	}

	return v.Interface(), nil
}

// typeKey distinguishes same-named types from different packages.
func typeKey(t reflect.Type) string {
	base := t
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	return base.PkgPath() + ":" + t.String()
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
