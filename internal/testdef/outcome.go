package testdef

import (
	"context"
	"go/token"
	"reflect"
)

// OutcomeKind discriminates what a test invocation produced.
type OutcomeKind int

const (
	OutcomeVoid OutcomeKind = iota
	OutcomeValue
	OutcomePending
)

// Awaitable is returned by tests whose result is computed asynchronously.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

// AwaitFunc adapts a function to Awaitable.
type AwaitFunc func(ctx context.Context) (any, error)

// Await calls f.
func (f AwaitFunc) Await(ctx context.Context) (any, error) {
	return f(ctx)
}

// Outcome is the raw result of invoking a test.
type Outcome struct {
	Kind    OutcomeKind
	Value   any
	Pending Awaitable
}

func VoidOutcome() Outcome { return Outcome{Kind: OutcomeVoid} }

func ValueOutcome(v any) Outcome { return Outcome{Kind: OutcomeValue, Value: v} }

func PendingOutcome(a Awaitable) Outcome { return Outcome{Kind: OutcomePending, Pending: a} }

// Resolve awaits pending outcomes and returns the produced value. ok is false
// when the test produced nothing, or a value whose type is not exported.
func (o Outcome) Resolve(ctx context.Context) (value any, ok bool, err error) {
	switch o.Kind {
	case OutcomeValue:
		value = o.Value
	case OutcomePending:
		if o.Pending == nil {
			return nil, false, nil
		}
		value, err = o.Pending.Await(ctx)
		if err != nil {
			return nil, false, err
		}
	default:
		return nil, false, nil
	}

	if !Inspectable(value) {
		return nil, false, nil
	}
	return value, true, nil
}

// Inspectable reports whether v is non-nil and its type is visible outside its
// package.
func Inspectable(v any) bool {
	if v == nil {
		return false
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" || t.PkgPath() == "" {
		return true
	}
	return token.IsExported(t.Name())
}
