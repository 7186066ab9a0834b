package dependency

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/container-resource-predictor/fleet-diagnostics/internal/testdef"
)

type caseSet struct {
	order []string
	sets  map[string]testdef.ParameterSet
}

type caseStore struct {
	mu      sync.RWMutex
	methods map[string]*caseSet
}

// add stores set under its canonical query string. The first registration of
// a query string wins.
func (s *caseStore) add(methodKey string, set testdef.ParameterSet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.methods == nil {
		s.methods = make(map[string]*caseSet)
	}
	cs, ok := s.methods[methodKey]
	if !ok {
		cs = &caseSet{sets: make(map[string]testdef.ParameterSet)}
		s.methods[methodKey] = cs
	}

	key := set.QueryString()
	if _, exists := cs.sets[key]; exists {
		return false
	}
	cs.sets[key] = set
	cs.order = append(cs.order, key)
	return true
}

func (s *caseStore) get(methodKey string) []testdef.ParameterSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.methods[methodKey]
	if !ok {
		return nil
	}
	out := make([]testdef.ParameterSet, 0, len(cs.order))
	for _, key := range cs.order {
		out = append(out, cs.sets[key])
	}
	return out
}

// RegisterParameters records a test case for a parameterized test. method is
// a method expression such as (*Suite).Check or a method value s.Check; args
// is the value of the method's parameter struct:
//
//	cases.RegisterParameters((*Suite).Check, CheckParams{Region: "eu"})
//
// Registering the same arguments twice keeps the first registration.
func (r *Registry) RegisterParameters(method any, args any) error {
	mv := reflect.ValueOf(method)
	if mv.Kind() != reflect.Func {
		return fmt.Errorf("register parameters: %T is not a method", method)
	}
	mt := mv.Type()
	if mt.NumIn() == 0 || mt.In(mt.NumIn()-1) != reflect.TypeOf(args) {
		return fmt.Errorf("register parameters: %T does not match the parameters of %s", args, mt)
	}

	key := testdef.MethodKey(method)
	if key == "" {
		return fmt.Errorf("register parameters: cannot identify method %s", mt)
	}

	set, err := testdef.ParametersOf(args)
	if err != nil {
		return fmt.Errorf("register parameters: %w", err)
	}

	r.cases.add(key, set)
	return nil
}

// ParameterSetsFor returns the registered cases of a method, in registration
// order.
func (r *Registry) ParameterSetsFor(methodKey string) []testdef.ParameterSet {
	return r.cases.get(methodKey)
}

// EnsureCases runs register once per suite key. A failed registration is
// retried by the next caller.
func (r *Registry) EnsureCases(suiteKey string, register func(*Registry) error) error {
	_, err := r.caseRuns.GetOrCompute(suiteKey, func() (struct{}, error) {
		return struct{}{}, register(r)
	})
	return err
}
