package testdef

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTestNotFound is wrapped by TestNotFoundError.
var ErrTestNotFound = errors.New("test not found")

// TestNotFoundError reports a lookup of an unknown test name.
type TestNotFoundError struct {
	Name string
}

func (e *TestNotFoundError) Error() string {
	return fmt.Sprintf("test %q is not defined", e.Name)
}

func (e *TestNotFoundError) Unwrap() error {
	return ErrTestNotFound
}

// RegistryConfig controls name matching.
type RegistryConfig struct {
	CaseInsensitive bool
}

// Registry is the immutable set of discovered tests.
type Registry struct {
	cfg         RegistryConfig
	definitions []*Definition
	byName      map[string]*Definition
}

// NewRegistry discovers tests from sources in order. Colliding names are
// suffixed with __1, __2, ... in discovery order.
func NewRegistry(cfg RegistryConfig, sources ...Source) (*Registry, error) {
	r := &Registry{
		cfg:    cfg,
		byName: make(map[string]*Definition),
	}

	collisions := make(map[string]int)
	for _, src := range sources {
		defs, err := src.Definitions()
		if err != nil {
			return nil, fmt.Errorf("discovering tests: %w", err)
		}

		for _, def := range defs {
			base := def.Name
			name := base
			for {
				n := collisions[r.key(base)]
				collisions[r.key(base)]++
				if n > 0 {
					name = fmt.Sprintf("%s__%d", base, n)
				}
				if _, taken := r.byName[r.key(name)]; !taken {
					break
				}
			}
			def.Name = name
			r.byName[r.key(name)] = def
			r.definitions = append(r.definitions, def)
		}
	}

	return r, nil
}

func (r *Registry) key(name string) string {
	if r.cfg.CaseInsensitive {
		return strings.ToLower(name)
	}
	return name
}

// Get returns the test with the given route name.
func (r *Registry) Get(name string) (*Definition, error) {
	def, ok := r.byName[r.key(name)]
	if !ok {
		return nil, &TestNotFoundError{Name: name}
	}
	return def, nil
}

// All returns every test in discovery order.
func (r *Registry) All() []*Definition {
	return r.definitions
}

// Len returns the number of tests.
func (r *Registry) Len() int {
	return len(r.definitions)
}
