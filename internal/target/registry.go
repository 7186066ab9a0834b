package target

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotDefined is wrapped by NotDefinedError.
	ErrNotDefined = errors.New("target not defined")
	// ErrDuplicateTarget is returned by Build when a pair is added twice.
	ErrDuplicateTarget = errors.New("duplicate target")
)

// NotDefinedError reports a lookup of an unknown environment/application pair.
type NotDefinedError struct {
	Environment string
	Application string
}

func (e *NotDefinedError) Error() string {
	return fmt.Sprintf("no target is defined for environment %q and application %q", e.Environment, e.Application)
}

func (e *NotDefinedError) Unwrap() error {
	return ErrNotDefined
}

type pending struct {
	environment, application, baseURL string
	opts                              []Option
}

// Builder collects targets; Build validates them all at once.
type Builder struct {
	client  ClientConfig
	pending []pending
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{client: DefaultClientConfig()}
}

// WithClientConfig sets the HTTP client settings shared by all targets.
func (b *Builder) WithClientConfig(cfg ClientConfig) *Builder {
	b.client = cfg
	return b
}

// Add registers a target. Errors surface from Build.
func (b *Builder) Add(environment, application, baseURL string, opts ...Option) *Builder {
	b.pending = append(b.pending, pending{
		environment: environment,
		application: application,
		baseURL:     baseURL,
		opts:        opts,
	})
	return b
}

// Len returns the number of targets added so far.
func (b *Builder) Len() int {
	return len(b.pending)
}

// Build creates the registry. Adding the same environment/application pair
// twice, compared case-insensitively, fails with ErrDuplicateTarget.
func (b *Builder) Build() (*Registry, error) {
	r := &Registry{
		byKey: make(map[string]*Target, len(b.pending)),
	}

	var errs []error
	for _, p := range b.pending {
		k := key(p.environment, p.application)
		if existing, ok := r.byKey[k]; ok {
			errs = append(errs, fmt.Errorf("%w: %s/%s already registered as %s", ErrDuplicateTarget, p.environment, p.application, existing))
			continue
		}

		t, err := newTarget(p.environment, p.application, p.baseURL, b.client, p.opts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.byKey[k] = t
		r.targets = append(r.targets, t)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// Registry is the immutable set of targets.
type Registry struct {
	targets []*Target
	byKey   map[string]*Target
}

// Get returns the target for an environment/application pair, ignoring case.
func (r *Registry) Get(environment, application string) (*Target, error) {
	t, ok := r.byKey[key(environment, application)]
	if !ok {
		return nil, &NotDefinedError{Environment: environment, Application: application}
	}
	return t, nil
}

// All returns every target in registration order.
func (r *Registry) All() []*Target {
	return r.targets
}

// Filter returns the targets matching environment and application. An empty
// argument matches everything.
func (r *Registry) Filter(environment, application string) []*Target {
	var out []*Target
	for _, t := range r.targets {
		if environment != "" && !strings.EqualFold(t.Environment, environment) {
			continue
		}
		if application != "" && !strings.EqualFold(t.Application, application) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Environment returns the registered spelling of an environment name.
func (r *Registry) Environment(name string) (string, bool) {
	for _, t := range r.targets {
		if strings.EqualFold(t.Environment, name) {
			return t.Environment, true
		}
	}
	return "", false
}

// HasApplication reports whether any target deploys application.
func (r *Registry) HasApplication(name string) bool {
	for _, t := range r.targets {
		if strings.EqualFold(t.Application, name) {
			return true
		}
	}
	return false
}
