package constraint_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/container-resource-predictor/fleet-diagnostics/internal/constraint"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/dependency"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/target"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/testdef"
)

type ProductionOnly struct{}

func (s *ProductionOnly) AppliesToEnvironment(environment string) bool {
	return environment == "production"
}

func (s *ProductionOnly) InternalOnlyTest(ctx context.Context) error { return nil }

type Unconstrained struct{}

func (s *Unconstrained) IsReachable(ctx context.Context) error { return nil }

type WidgetOnly struct {
	Target *target.Target `inject:""`
}

func (s *WidgetOnly) AppliesToTarget(t *target.Target) bool {
	return t.Application == "widgetapi" && s.Target == t
}

func (s *WidgetOnly) WidgetapiOnlyTest(ctx context.Context) error { return nil }

type Moody struct{}

func (s *Moody) AppliesToEnvironment(environment string) bool {
	panic("environment lookup exploded")
}

func (s *Moody) MoodyTest(ctx context.Context) error { return nil }

func definition(t *testing.T, src testdef.Source) *testdef.Definition {
	t.Helper()
	reg, err := testdef.NewRegistry(testdef.RegistryConfig{}, src)
	require.NoError(t, err)
	require.Equal(t, 1, reg.Len())
	return reg.All()[0]
}

func fleet(t *testing.T, predicate constraint.TargetPredicate) *target.Registry {
	t.Helper()
	b := target.NewBuilder().
		Add("staging", "sprocketapi", "http://staging.sprockets.com").
		Add("production", "sprocketapi", "http://sprockets.com")
	if predicate != nil {
		b.Add("staging", "widgetapi", "http://staging.widgets.com", target.WithDependencies(func(d *dependency.Registry) {
			dependency.RegisterValue(d, predicate)
		}))
	} else {
		b.Add("staging", "widgetapi", "http://staging.widgets.com")
	}
	r, err := b.Build()
	require.NoError(t, err)
	return r
}

func TestEnvironmentCapability(t *testing.T) {
	def := definition(t, testdef.FromType[*ProductionOnly]())
	targets := fleet(t, nil)
	e := constraint.NewEvaluator([]*testdef.Definition{def}, nil)
	ctx := context.Background()

	prod, _ := targets.Get("production", "sprocketapi")
	staging, _ := targets.Get("staging", "sprocketapi")

	assert.True(t, e.AppliesTo(ctx, def, prod))
	assert.False(t, e.AppliesTo(ctx, def, staging))
}

func TestAbsentCapabilitiesApply(t *testing.T) {
	def := definition(t, testdef.FromType[*Unconstrained]())
	targets := fleet(t, nil)
	e := constraint.NewEvaluator([]*testdef.Definition{def}, nil)

	for _, tt := range targets.All() {
		assert.True(t, e.AppliesTo(context.Background(), def, tt), tt.String())
	}
}

func TestTargetApplierCapability(t *testing.T) {
	def := definition(t, testdef.FromType[*WidgetOnly]())
	targets := fleet(t, nil)
	e := constraint.NewEvaluator([]*testdef.Definition{def}, nil)

	widget, _ := targets.Get("staging", "widgetapi")
	sprocket, _ := targets.Get("staging", "sprocketapi")

	assert.True(t, e.AppliesTo(context.Background(), def, widget))
	assert.False(t, e.AppliesTo(context.Background(), def, sprocket))
}

func TestTargetPredicateHidesTests(t *testing.T) {
	def := definition(t, testdef.FromType[*Unconstrained]())
	targets := fleet(t, func(ctx context.Context, client *target.Client) bool {
		return client.BaseURL.Host != "staging.widgets.com"
	})
	e := constraint.NewEvaluator([]*testdef.Definition{def}, nil)

	widget, _ := targets.Get("staging", "widgetapi")
	sprocket, _ := targets.Get("staging", "sprocketapi")

	assert.False(t, e.AppliesTo(context.Background(), def, widget))
	assert.True(t, e.AppliesTo(context.Background(), def, sprocket))
}

func TestPredicateIsEvaluatedOncePerTarget(t *testing.T) {
	var calls atomic.Int32
	def := definition(t, testdef.FromType[*Unconstrained]())
	targets := fleet(t, func(ctx context.Context, client *target.Client) bool {
		calls.Add(1)
		return false
	})

	var observed atomic.Int32
	e := constraint.NewEvaluator([]*testdef.Definition{def}, func(*testdef.Definition, *target.Target, bool) {
		observed.Add(1)
	})
	widget, _ := targets.Get("staging", "widgetapi")

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.False(t, e.AppliesTo(context.Background(), def, widget))
		}()
	}
	wg.Wait()
	for i := 0; i < 3; i++ {
		assert.False(t, e.AppliesTo(context.Background(), def, widget))
	}

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), observed.Load())

	e.Reset()
	e.AppliesTo(context.Background(), def, widget)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMemoizedIgnoresCallerCancellation(t *testing.T) {
	targets := fleet(t, nil)
	widget, _ := targets.Get("staging", "widgetapi")

	m := constraint.Memoize(constraint.Func(func(ctx context.Context, _ *target.Target) bool {
		return ctx.Err() == nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, m.Match(ctx, widget))
}

func TestUnknownDefinitionNeverApplies(t *testing.T) {
	def := definition(t, testdef.FromType[*Unconstrained]())
	targets := fleet(t, nil)
	e := constraint.NewEvaluator(nil, nil)

	assert.False(t, e.AppliesTo(context.Background(), def, targets.All()[0]))
}

func TestAllShortCircuits(t *testing.T) {
	targets := fleet(t, nil)
	called := false
	all := constraint.All{
		constraint.Func(func(context.Context, *target.Target) bool { return false }),
		constraint.Func(func(context.Context, *target.Target) bool { called = true; return true }),
	}

	assert.False(t, all.Match(context.Background(), targets.All()[0]))
	assert.False(t, called)
}

func TestPanickingCapabilityDoesNotApply(t *testing.T) {
	def := definition(t, testdef.FromType[*Moody]())
	targets := fleet(t, nil)
	e := constraint.NewEvaluator([]*testdef.Definition{def}, nil)
	widget, _ := targets.Get("staging", "widgetapi")

	assert.NotPanics(t, func() {
		assert.False(t, e.AppliesTo(context.Background(), def, widget))
	})
	assert.False(t, e.AppliesTo(context.Background(), def, widget))
}
