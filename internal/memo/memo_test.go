package memo

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrComputeCachesValue(t *testing.T) {
	var m Map[int]
	calls := 0

	for i := 0; i < 3; i++ {
		v, err := m.GetOrCompute("k", func() (int, error) {
			calls++
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	}

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, m.Len())
}

func TestGetOrComputeConcurrentFirstAccess(t *testing.T) {
	var m Map[bool]
	var calls atomic.Int32
	start := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			v, err := m.GetOrCompute("target", func() (bool, error) {
				calls.Add(1)
				return true, nil
			})
			assert.NoError(t, err)
			assert.True(t, v)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrComputeDoesNotCacheErrors(t *testing.T) {
	var m Map[string]
	boom := errors.New("boom")

	_, err := m.GetOrCompute("k", func() (string, error) { return "", boom })
	require.ErrorIs(t, err, boom)

	v, err := m.GetOrCompute("k", func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestReset(t *testing.T) {
	var m Map[int]
	_, _ = m.GetOrCompute("k", func() (int, error) { return 1, nil })
	m.Reset()

	_, ok := m.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}
