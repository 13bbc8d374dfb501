//go:build !linux

package config

import "runtime"

// DefaultWorkers is one less than the CPU count, never below one.
func DefaultWorkers() int {
	return max(runtime.NumCPU()-1, 1)
}
