// Package memo provides a concurrency-safe get-or-compute map.
package memo

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Map caches one computed value per key. Concurrent first callers for the same
// key share a single computation; failed computations are not cached.
type Map[V any] struct {
	mu     sync.RWMutex
	values map[string]V
	group  singleflight.Group
}

// Get returns the cached value for key, if any.
func (m *Map[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// GetOrCompute returns the cached value for key or runs compute exactly once
// to produce it.
func (m *Map[V]) GetOrCompute(key string, compute func() (V, error)) (V, error) {
	if v, ok := m.Get(key); ok {
		return v, nil
	}

	result, err, _ := m.group.Do(key, func() (interface{}, error) {
		// A previous flight may have published while we were waiting to enter Do.
		if v, ok := m.Get(key); ok {
			return v, nil
		}

		v, err := compute()
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		if m.values == nil {
			m.values = make(map[string]V)
		}
		m.values[key] = v
		m.mu.Unlock()

		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}

	v, _ := result.(V)
	return v, nil
}

// Len returns the number of cached values.
func (m *Map[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// Reset drops every cached value.
func (m *Map[V]) Reset() {
	m.mu.Lock()
	m.values = nil
	m.mu.Unlock()
}
