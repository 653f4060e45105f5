package hostmetrics

import (
	"os"
	"strconv"
	"strings"
)

// readCPUTicks parses the aggregate "cpu" line of /proc/stat into
// (idleTicks, totalTicks). No third-party library in the pack wraps
// this kernel pseudo-file, so this one helper reads it directly;
// everything else in this package goes through golang.org/x/sys/unix.
func readCPUTicks() (idle, total uint64) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0
	}
	lines := strings.SplitN(string(data), "\n", 2)
	if len(lines) == 0 {
		return 0, 0
	}
	fields := strings.Fields(lines[0])
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0
	}
	var ticks []uint64
	for _, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			continue
		}
		ticks = append(ticks, v)
		total += v
	}
	if len(ticks) >= 4 {
		idle = ticks[3] // idle
		if len(ticks) >= 5 {
			idle += ticks[4] // iowait counts as idle for this purpose
		}
	}
	return idle, total
}
