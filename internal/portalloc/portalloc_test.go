package portalloc

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate_Idempotent(t *testing.T) {
	a := New(DefaultBasePort, DefaultPoolSize)

	p1, err := a.Allocate("cam_a")
	require.NoError(t, err)

	p2, err := a.Allocate("cam_a")
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
	assert.Equal(t, 1, a.CountUsed())
}

func TestPortExhaustion_S2(t *testing.T) {
	a := New(8090, 2)

	pA, err := a.Allocate("cam_a")
	require.NoError(t, err)
	assert.Equal(t, 8090, pA)

	pB, err := a.Allocate("cam_b")
	require.NoError(t, err)
	assert.Equal(t, 8091, pB)

	_, err = a.Allocate("cam_c")
	assert.ErrorIs(t, err, ErrFull)

	assert.True(t, a.Release("cam_b"))

	pC, err := a.Allocate("cam_c")
	require.NoError(t, err)
	assert.Equal(t, 8091, pC)
}

func TestTenConcurrentAdds_S1(t *testing.T) {
	a := New(8090, 16)

	var wg sync.WaitGroup
	ports := make([]int, 10)
	errs := make([]error, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := a.Allocate(fmt.Sprintf("cam_%d", i))
			ports[i] = p
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, a.List(), 10)

	seen := make(map[int]bool)
	for _, p := range ports {
		assert.False(t, seen[p], "port %d allocated twice", p)
		assert.True(t, p >= 8090 && p < 8106)
		seen[p] = true
	}
}

func TestReleaseUnallocated(t *testing.T) {
	a := New(DefaultBasePort, DefaultPoolSize)
	assert.False(t, a.Release("ghost"))
}

func TestPortUniquenessUnderConcurrency(t *testing.T) {
	a := New(8090, 8)
	var wg sync.WaitGroup
	const n = 200

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cam := fmt.Sprintf("cam_%d", i%12)
			if i%3 == 0 {
				a.Release(cam)
			} else {
				a.Allocate(cam)
			}
		}(i)
	}
	wg.Wait()

	ports := a.SortedPorts()
	assert.LessOrEqual(t, len(ports), a.PoolSize())
	for i := 1; i < len(ports); i++ {
		assert.NotEqual(t, ports[i-1], ports[i])
	}
	assert.Equal(t, a.PoolSize(), a.CountFree()+a.CountUsed())
}
