package constraint

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/container-resource-predictor/fleet-diagnostics/internal/testdef"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/target"
)

// EnvironmentApplier is implemented by suites whose tests only apply to some
// environments.
type EnvironmentApplier interface {
	AppliesToEnvironment(environment string) bool
}

// TargetApplier is implemented by suites that decide per target.
type TargetApplier interface {
	AppliesToTarget(t *target.Target) bool
}

// TargetPredicate, when registered in a target's dependencies, decides whether
// tests apply to that target. It typically queries the target itself.
type TargetPredicate func(ctx context.Context, client *target.Client) bool

var targetPredicateType = reflect.TypeOf(TargetPredicate(nil))

// Environment is the capability constraint of a test: the suite's
// AppliesToEnvironment, if implemented.
func Environment(def *testdef.Definition) Constraint {
	return Func(func(ctx context.Context, t *target.Target) bool {
		if def.SuiteType == nil || !def.SuiteType.Implements(reflect.TypeOf((*EnvironmentApplier)(nil)).Elem()) {
			return true
		}
		suite, err := t.Dependencies().Resolve(def.SuiteType)
		if err != nil {
			slog.Warn("Cannot resolve suite for environment constraint", "test", def.Name, "target", t.String(), "error", err)
			return false
		}
		return suite.(EnvironmentApplier).AppliesToEnvironment(t.Environment)
	})
}

// Target is the target-predicate constraint of a test: a TargetPredicate
// registered for the target, and the suite's AppliesToTarget, if implemented.
func Target(def *testdef.Definition) Constraint {
	return Func(func(ctx context.Context, t *target.Target) bool {
		deps := t.Dependencies()

		if deps.Has(targetPredicateType) {
			v, err := deps.Resolve(targetPredicateType)
			if err != nil {
				slog.Warn("Cannot resolve target predicate", "target", t.String(), "error", err)
				return false
			}
			client, err := t.Client()
			if err != nil {
				slog.Warn("Cannot resolve target client", "target", t.String(), "error", err)
				return false
			}
			if predicate, ok := v.(TargetPredicate); ok && predicate != nil && !predicate(ctx, client) {
				return false
			}
		}

		if def.SuiteType != nil && def.SuiteType.Implements(reflect.TypeOf((*TargetApplier)(nil)).Elem()) {
			suite, err := deps.Resolve(def.SuiteType)
			if err != nil {
				slog.Warn("Cannot resolve suite for target constraint", "test", def.Name, "target", t.String(), "error", err)
				return false
			}
			return suite.(TargetApplier).AppliesToTarget(t)
		}

		return true
	})
}

// Observer is notified whenever a constraint is actually evaluated, as
// opposed to served from cache.
type Observer func(def *testdef.Definition, t *target.Target, applies bool)

// Evaluator holds one memoized constraint per test definition.
type Evaluator struct {
	constraints map[*testdef.Definition]*Memoized
}

// NewEvaluator builds the constraints for defs. observe may be nil.
func NewEvaluator(defs []*testdef.Definition, observe Observer) *Evaluator {
	e := &Evaluator{constraints: make(map[*testdef.Definition]*Memoized, len(defs))}
	for _, def := range defs {
		def := def
		all := All{Environment(def), Target(def)}
		e.constraints[def] = Memoize(Func(func(ctx context.Context, t *target.Target) bool {
			applies := all.Match(ctx, t)
			if observe != nil {
				observe(def, t, applies)
			}
			return applies
		}))
	}
	return e
}

// AppliesTo reports whether def applies to t. Definitions unknown to the
// evaluator never apply.
func (e *Evaluator) AppliesTo(ctx context.Context, def *testdef.Definition, t *target.Target) bool {
	c, ok := e.constraints[def]
	if !ok {
		return false
	}
	return c.Match(ctx, t)
}

// Reset clears every cached constraint result.
func (e *Evaluator) Reset() {
	for _, c := range e.constraints {
		c.Reset()
	}
}
