// Package target holds the fleet of deployed environments/applications that
// diagnostics run against.
package target

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/container-resource-predictor/fleet-diagnostics/internal/dependency"
)

// Target is one deployed application in one environment.
type Target struct {
	Environment string
	Application string
	BaseURL     *url.URL

	deps   *dependency.Registry
	warmup *warmupGate
}

// Key identifies the target case-insensitively.
func (t *Target) Key() string {
	return key(t.Environment, t.Application)
}

func key(environment, application string) string {
	return strings.ToLower(environment) + "/" + strings.ToLower(application)
}

func (t *Target) String() string {
	return t.Environment + "/" + t.Application
}

// Dependencies returns the target's private dependency container.
func (t *Target) Dependencies() *dependency.Registry {
	return t.deps
}

// RequiresWarmup reports whether runs must wait for the target's warm-up.
func (t *Target) RequiresWarmup() bool {
	return t.warmup != nil
}

// WarmUp blocks until the target's warm-up has completed, starting it if no
// other caller has. It returns immediately for targets without warm-up.
func (t *Target) WarmUp(ctx context.Context) error {
	if t.warmup == nil {
		return nil
	}
	return t.warmup.wait(ctx, t)
}

// Client returns the HTTP client bound to the target.
func (t *Target) Client() (*Client, error) {
	return dependency.Resolve[*Client](t.deps)
}

// Option configures a target when it is added.
type Option func(*Target)

// WithDependencies seeds the target's dependency container.
func WithDependencies(configure func(*dependency.Registry)) Option {
	return func(t *Target) {
		configure(t.deps)
	}
}

// WithWarmup makes runs against the target wait for fn to succeed once.
func WithWarmup(fn func(ctx context.Context, client *Client) error) Option {
	return func(t *Target) {
		t.warmup = &warmupGate{fn: fn}
	}
}

func newTarget(environment, application, baseURL string, cfg ClientConfig, opts []Option) (*Target, error) {
	if environment == "" || application == "" {
		return nil, fmt.Errorf("target %q/%q: environment and application are required", environment, application)
	}
	if strings.Contains(environment, "/") || strings.Contains(application, "/") {
		return nil, fmt.Errorf("target %s/%s: names may not contain '/'", environment, application)
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("target %s/%s: invalid base URL: %w", environment, application, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("target %s/%s: base URL %q must be absolute", environment, application, baseURL)
	}

	t := &Target{
		Environment: environment,
		Application: application,
		BaseURL:     u,
		deps:        dependency.New(),
	}

	dependency.RegisterValue(t.deps, t)
	dependency.Register(t.deps, func(*dependency.Registry) (*Client, error) {
		return NewClient(u, cfg), nil
	})

	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}
