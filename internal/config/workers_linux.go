package config

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// DefaultWorkers is one less than the CPUs this process may run on, so the
// channel reader keeps a core. It is never below one.
func DefaultWorkers() int {
	var set unix.CPUSet
	n := runtime.NumCPU()
	if err := unix.SchedGetaffinity(0, &set); err == nil {
		n = set.Count()
	}
	return max(n-1, 1)
}
