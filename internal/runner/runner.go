// Package runner executes a single test against a single target and turns
// whatever happens into a result.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/container-resource-predictor/fleet-diagnostics/internal/jsonsafe"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/metrics"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/result"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/target"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/testdef"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/tracelog"
)

// Request describes one test run.
type Request struct {
	Target     *target.Target
	Definition *testdef.Definition
	// Query holds the raw argument values.
	Query url.Values
	// URL renders the public URL of the test for an encoded query string.
	URL func(query string) string
}

// Runner runs tests.
type Runner struct {
	timeout time.Duration
	metrics *metrics.Metrics
}

// New returns a Runner. A zero timeout leaves runs bounded only by the
// caller's context; m may be nil.
func New(timeout time.Duration, m *metrics.Metrics) *Runner {
	return &Runner{timeout: timeout, metrics: m}
}

// Run binds the request's arguments, waits for the target to be warm, invokes
// the test and classifies the outcome. It never panics and never returns nil.
func (r *Runner) Run(ctx context.Context, req Request) *result.TestResult {
	t, def := req.Target, req.Definition

	test := result.Test{
		Environment: t.Environment,
		Application: t.Application,
		Name:        def.Name,
		Tags:        def.Tags,
		Parameters:  def.Parameters,
	}
	if req.URL != nil {
		test.URL = req.URL(declared(def, req.Query).Encode())
	}

	ctx, sink := tracelog.WithSink(ctx)
	start := time.Now()
	value, err := r.execute(ctx, t, def, req.Query)
	elapsed := time.Since(start)

	res := result.New(test, jsonsafe.Sanitize(value), err, elapsed)
	res.Log = sink.Lines()

	r.metrics.ObserveRun(t.Environment, t.Application, string(res.Outcome), elapsed)
	slog.Info("Test run finished",
		"test", def.Name,
		"target", t.String(),
		"outcome", res.Outcome,
		"duration", elapsed,
	)
	if err != nil && res.Outcome == result.Failed {
		slog.Warn("Test failed", "test", def.Name, "target", t.String(), "error", err)
	}
	return res
}

type completion struct {
	value any
	err   error
}

func (r *Runner) execute(ctx context.Context, t *target.Target, def *testdef.Definition, query url.Values) (any, error) {
	bound, err := def.Bind(query)
	if err != nil {
		return nil, err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if err := t.WarmUp(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, deadline(ctx, def)
		}
		return nil, &result.InconclusiveError{Message: fmt.Sprintf("target %s failed to warm up", t), Err: err}
	}

	done := make(chan completion, 1)
	go func() {
		var c completion
		defer func() {
			if p := recover(); p != nil {
				c = completion{err: fmt.Errorf("test %s panicked: %v", def.Name, p)}
			}
			done <- c
		}()
		c.value, c.err = invoke(ctx, t, def, bound)
	}()

	select {
	case c := <-done:
		return c.value, c.err
	case <-ctx.Done():
		return nil, deadline(ctx, def)
	}
}

func invoke(ctx context.Context, t *target.Target, def *testdef.Definition, bound testdef.Bound) (any, error) {
	outcome, err := def.Invoke(ctx, t.Dependencies(), bound)
	if err != nil {
		return nil, err
	}
	value, ok, err := outcome.Resolve(ctx)
	if err != nil || !ok {
		return nil, err
	}
	return value, nil
}

func deadline(ctx context.Context, def *testdef.Definition) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &result.TimeoutError{Message: fmt.Sprintf("test %s did not complete in time", def.Name), Err: ctx.Err()}
	}
	return ctx.Err()
}

// declared keeps the query keys that name a parameter of def.
func declared(def *testdef.Definition, query url.Values) url.Values {
	out := url.Values{}
	for _, p := range def.Parameters {
		if vs := query[p.Name]; len(vs) > 0 {
			out.Set(p.Name, vs[0])
			continue
		}
		for k, vs := range query {
			if strings.EqualFold(k, p.Name) && len(vs) > 0 {
				out.Set(p.Name, vs[0])
				break
			}
		}
	}
	return out
}
