// Package hostmetrics samples host-wide CPU and load figures for the
// supervisor's monitoring loop via golang.org/x/sys/unix, the one real
// syscall-level dependency the example corpus wires for platform
// facts (the teacher repo's windows/eventlog.go and service.go use the
// sibling golang.org/x/sys/windows packages the same way: a thin,
// direct syscall wrapper rather than a higher-level stats library).
package hostmetrics

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Sample is one point-in-time host reading.
type Sample struct {
	CPUPercent float64 // 0-100, derived from two successive /proc/stat-equivalent cpu-tick readings
	Load1      float64 // 1-minute load average
	NumCPU     int
}

// Sampler tracks previous cpu ticks so CPUPercent can be derived from a
// delta between two /proc/stat reads, the same two-sample technique
// top(1) and friends use.
type Sampler struct {
	mu        sync.Mutex
	lastIdle  uint64
	lastTotal uint64
	numCPU    int
	haveLast  bool
}

// New constructs a Sampler. numCPU is normally runtime.NumCPU().
func New(numCPU int) *Sampler {
	if numCPU <= 0 {
		numCPU = 1
	}
	return &Sampler{numCPU: numCPU}
}

// Sample reads current host figures. The first call after construction
// always reports CPUPercent 0 since there is no prior reading to diff
// against.
func (s *Sampler) Sample() (Sample, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return Sample{}, err
	}

	// Sysinfo reports load averages as fixed-point values scaled by
	// 1<<16, per the Linux sysinfo(2) man page.
	const loadScale = 1 << 16
	load1 := float64(info.Loads[0]) / loadScale

	idle, total := readCPUTicks()

	s.mu.Lock()
	defer s.mu.Unlock()

	var cpuPct float64
	if s.haveLast && total > s.lastTotal {
		idleDelta := float64(idle - s.lastIdle)
		totalDelta := float64(total - s.lastTotal)
		if totalDelta > 0 {
			cpuPct = (1 - idleDelta/totalDelta) * 100
		}
	}
	s.lastIdle = idle
	s.lastTotal = total
	s.haveLast = true

	return Sample{CPUPercent: cpuPct, Load1: load1, NumCPU: s.numCPU}, nil
}
