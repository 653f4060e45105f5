package lockorder

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_AscendingOrderSucceeds(t *testing.T) {
	g := New(false, nil)
	tok := NewToken()

	require.NoError(t, g.Acquire(tok, LevelPortAllocator, "ports"))
	require.NoError(t, g.Acquire(tok, LevelCrossCameraRegistry, "crosscam"))
	require.NoError(t, g.Acquire(tok, LevelSupervisor, "supervisor"))
	assert.Equal(t, LevelSupervisor, g.CurrentLevel(tok))
	assert.Zero(t, g.Violations())
}

func TestAcquire_DescendingOrderRefused(t *testing.T) {
	g := New(false, nil)
	tok := NewToken()

	require.NoError(t, g.Acquire(tok, LevelSupervisor, "supervisor"))
	err := g.Acquire(tok, LevelPortAllocator, "ports")
	assert.Error(t, err)
	var violation *ErrViolation
	assert.ErrorAs(t, err, &violation)
	assert.Equal(t, uint64(1), g.Violations())
}

func TestAcquire_SameLevelRefusedUnlessRecursive(t *testing.T) {
	g := New(false, nil)
	tok := NewToken()

	require.NoError(t, g.Acquire(tok, LevelPipeline, "pipeline-a"))
	// Same level, different name: refused.
	err := g.Acquire(tok, LevelPipeline, "pipeline-b")
	assert.Error(t, err)

	// Same level, same name: treated as recursive re-entry.
	require.NoError(t, g.Acquire(tok, LevelPipeline, "pipeline-a"))
	assert.Equal(t, LevelPipeline, g.CurrentLevel(tok))
}

func TestAcquire_StrictModePanics(t *testing.T) {
	g := New(true, nil)
	tok := NewToken()
	require.NoError(t, g.Acquire(tok, LevelSupervisor, "supervisor"))

	assert.Panics(t, func() {
		_ = g.Acquire(tok, LevelPortAllocator, "ports")
	})
}

func TestRelease_PopsTopOfStack(t *testing.T) {
	g := New(false, nil)
	tok := NewToken()

	require.NoError(t, g.Acquire(tok, LevelPortAllocator, "ports"))
	require.NoError(t, g.Acquire(tok, LevelSupervisor, "supervisor"))
	require.NoError(t, g.Release(tok, "supervisor"))
	assert.Equal(t, LevelPortAllocator, g.CurrentLevel(tok))
	require.NoError(t, g.Release(tok, "ports"))
	assert.Equal(t, Level(0), g.CurrentLevel(tok))
}

func TestRelease_MismatchedNameErrors(t *testing.T) {
	g := New(false, nil)
	tok := NewToken()
	require.NoError(t, g.Acquire(tok, LevelSupervisor, "supervisor"))
	err := g.Release(tok, "ports")
	assert.Error(t, err)
}

func TestRelease_EmptyStackErrors(t *testing.T) {
	g := New(false, nil)
	tok := NewToken()
	err := g.Release(tok, "anything")
	assert.Error(t, err)
}

// TestRandomizedWorkload_NoDeadlockUnderHierarchy is spec.md §8 item 4: a
// randomized workload touching PortAllocator, CrossCameraRegistry and
// Supervisor levels across many goroutines (each with its own Token)
// completes within a bounded time and never reports a hierarchy
// violation when acquisitions are always attempted in ascending order.
func TestRandomizedWorkload_NoDeadlockUnderHierarchy(t *testing.T) {
	g := New(false, nil)
	levels := []Level{LevelPortAllocator, LevelCrossCameraRegistry, LevelEventSink, LevelSupervisor, LevelPipeline, LevelAttributeStats}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok := NewToken()
			// Acquire a random ascending prefix of the hierarchy, then
			// release it in reverse order — never out of order.
			n := 1 + rand.Intn(len(levels))
			for l := 0; l < n; l++ {
				name := fmt.Sprintf("lock-%d-%d", i, l)
				if err := g.Acquire(tok, levels[l], name); err != nil {
					t.Errorf("unexpected violation in ascending-order workload: %v", err)
					return
				}
			}
			for l := n - 1; l >= 0; l-- {
				name := fmt.Sprintf("lock-%d-%d", i, l)
				if err := g.Release(tok, name); err != nil {
					t.Errorf("unexpected release error: %v", err)
					return
				}
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("randomized workload did not complete within bound, suspect deadlock")
	}
	assert.Zero(t, g.Violations())
}

func TestLevel_StringCoversAllLevels(t *testing.T) {
	for _, l := range []Level{LevelPortAllocator, LevelCrossCameraRegistry, LevelEventSink, LevelSupervisor, LevelPipeline, LevelAttributeStats} {
		assert.NotEqual(t, "Unknown", l.String())
	}
	assert.Equal(t, "Unknown", Level(99).String())
}
