package script

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoCacheComputesOnce(t *testing.T) {
	cache := NewMemoCache()
	var calls int32
	compute := func() (Value, error) {
		atomic.AddInt32(&calls, 1)
		return ScalarValue(42), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := cache.GetOrCompute(7, compute)
			require.NoError(t, err)
			assert.Equal(t, 42.0, v.Num)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestMemoCacheDistinctKeysComputeIndependently(t *testing.T) {
	cache := NewMemoCache()
	v1, err := cache.GetOrCompute(1, func() (Value, error) { return ScalarValue(1), nil })
	require.NoError(t, err)
	v2, err := cache.GetOrCompute(2, func() (Value, error) { return ScalarValue(2), nil })
	require.NoError(t, err)
	assert.Equal(t, 1.0, v1.Num)
	assert.Equal(t, 2.0, v2.Num)
}

func TestHashExprStableForEquivalentCanonicalForm(t *testing.T) {
	e1 := mustParse(t, "1 + 2")
	e2 := mustParse(t, "1+2")
	assert.Equal(t, HashExpr(e1), HashExpr(e2))
}

func TestHashExprDiffersForDifferentExpressions(t *testing.T) {
	e1 := mustParse(t, "1 + 2")
	e2 := mustParse(t, "1 + 3")
	assert.NotEqual(t, HashExpr(e1), HashExpr(e2))
}
