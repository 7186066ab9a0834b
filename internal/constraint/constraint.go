// Package constraint decides which tests apply to which targets.
package constraint

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/container-resource-predictor/fleet-diagnostics/internal/memo"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/target"
)

// Constraint decides whether something applies to a target.
type Constraint interface {
	Match(ctx context.Context, t *target.Target) bool
}

// Func adapts a function to Constraint.
type Func func(ctx context.Context, t *target.Target) bool

// Match calls f.
func (f Func) Match(ctx context.Context, t *target.Target) bool {
	return f(ctx, t)
}

// All matches when every constraint matches. Evaluation stops at the first
// mismatch.
type All []Constraint

// Match implements Constraint.
func (a All) Match(ctx context.Context, t *target.Target) bool {
	for _, c := range a {
		if !c.Match(ctx, t) {
			return false
		}
	}
	return true
}

// Memoized caches the result of a constraint per target.
type Memoized struct {
	inner Constraint
	cache memo.Map[bool]
}

// Memoize wraps c so it is evaluated at most once per target, including when
// the first evaluations race.
func Memoize(c Constraint) *Memoized {
	return &Memoized{inner: c}
}

// Match implements Constraint. The inner constraint runs on a context
// detached from the caller's cancellation. A panicking constraint does not
// apply.
func (m *Memoized) Match(ctx context.Context, t *target.Target) bool {
	detached := context.WithoutCancel(ctx)
	v, _ := m.cache.GetOrCompute(t.Key(), func() (applies bool, err error) {
		defer func() {
			if p := recover(); p != nil {
				slog.Warn("Constraint panicked, treating as not applicable", "target", t.String(), "panic", fmt.Sprint(p))
				applies = false
			}
		}()
		return m.inner.Match(detached, t), nil
	})
	return v
}

// Reset forgets every cached result.
func (m *Memoized) Reset() {
	m.cache.Reset()
}
