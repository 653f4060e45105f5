// Package portalloc assigns preview ports to cameras from a fixed
// contiguous pool, grounded on the C++ original's MJPEGPortManager
// (src/core/MJPEGPortManager.{h,cpp}): default range [8090, 8106).
package portalloc

import (
	"errors"
	"sort"
	"sync"
)

// ErrFull is returned by Allocate when the pool is exhausted.
var ErrFull = errors.New("portalloc: pool exhausted")

const (
	DefaultBasePort = 8090
	DefaultPoolSize = 16
)

// Allocator hands out ports from [Base, Base+Size) to cameras, FIFO over
// the free set, idempotent per camera. Its lock sits at the lowest level
// of the global hierarchy (lockorder.LevelPortAllocator): callers must
// never invoke back into higher-level components while holding it.
type Allocator struct {
	mu        sync.Mutex
	base      int
	size      int
	free      []int          // ordered free list, FIFO pop from front
	allocated map[string]int // cameraID -> port
}

// New builds an Allocator over the pool [base, base+size).
func New(base, size int) *Allocator {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if base <= 0 {
		base = DefaultBasePort
	}
	free := make([]int, size)
	for i := range free {
		free[i] = base + i
	}
	return &Allocator{
		base:      base,
		size:      size,
		free:      free,
		allocated: make(map[string]int),
	}
}

// Allocate returns the camera's existing reservation if any (idempotent),
// otherwise pops the next free port FIFO. Returns ErrFull if none remain.
func (a *Allocator) Allocate(cameraID string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port, ok := a.allocated[cameraID]; ok {
		return port, nil
	}
	if len(a.free) == 0 {
		return 0, ErrFull
	}
	port := a.free[0]
	a.free = a.free[1:]
	a.allocated[cameraID] = port
	return port, nil
}

// Release returns a camera's port to the free pool. Returns false
// (idempotent no-op) if the camera held no reservation.
func (a *Allocator) Release(cameraID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	port, ok := a.allocated[cameraID]
	if !ok {
		return false
	}
	delete(a.allocated, cameraID)
	a.free = append(a.free, port)
	return true
}

// Reserve binds a specific port to a camera. Succeeds only if the port is
// in-pool, currently free, and the camera holds no reservation yet.
func (a *Allocator) Reserve(cameraID string, port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.allocated[cameraID]; exists {
		return false
	}
	if port < a.base || port >= a.base+a.size {
		return false
	}
	idx := -1
	for i, p := range a.free {
		if p == port {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}
	a.free = append(a.free[:idx], a.free[idx+1:]...)
	a.allocated[cameraID] = port
	return true
}

// Port returns the port for cameraID, or (0, false) if unallocated.
func (a *Allocator) Port(cameraID string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	port, ok := a.allocated[cameraID]
	return port, ok
}

// List returns a copy of all current allocations as a cameraID -> port
// map; map iteration order is not defined (SortedPorts gives ordered ports).
func (a *Allocator) List() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.allocated))
	for k, v := range a.allocated {
		out[k] = v
	}
	return out
}

// SortedPorts is a convenience used by tests to assert uniqueness.
func (a *Allocator) SortedPorts() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	ports := make([]int, 0, len(a.allocated))
	for _, p := range a.allocated {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

// CountFree returns the number of unallocated ports in the pool.
func (a *Allocator) CountFree() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}

// CountUsed returns the number of allocated ports.
func (a *Allocator) CountUsed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.allocated)
}

// PoolSize returns the total pool capacity.
func (a *Allocator) PoolSize() int {
	return a.size
}

// Stats is the Supervisor's health-surface view of pool occupancy.
type Stats struct {
	Free     int
	Used     int
	PoolSize int
}

// Stats returns a point-in-time snapshot of pool occupancy.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{Free: len(a.free), Used: len(a.allocated), PoolSize: a.size}
}
