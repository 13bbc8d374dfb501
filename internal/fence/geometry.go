package fence

import (
	"fmt"
)

// WarpSize is the number of lanes that execute in lock-step.
const WarpSize = 32

// Geometry is the launch shape of the analyzed kernel.
type Geometry struct {
	Threads         uint64 // threads in the grid
	ThreadsPerBlock uint32
	WarpsPerBlock   uint32
	WarpsInGrid     int
}

// NewGeometry derives warp counts from the launch shape.
func NewGeometry(threads uint64, threadsPerBlock uint32) (Geometry, error) {
	if threadsPerBlock == 0 {
		return Geometry{}, fmt.Errorf("threads per block must be positive")
	}
	if threads == 0 {
		return Geometry{}, fmt.Errorf("thread count must be positive")
	}

	warpsPerBlock := (threadsPerBlock + WarpSize - 1) / WarpSize
	blocks := (threads + uint64(threadsPerBlock) - 1) / uint64(threadsPerBlock)
	return Geometry{
		Threads:         threads,
		ThreadsPerBlock: threadsPerBlock,
		WarpsPerBlock:   warpsPerBlock,
		//nolint:gosec // grid sizes fit in int
		WarpsInGrid: int(blocks * uint64(warpsPerBlock)),
	}, nil
}

// Lane returns the grid-wide warp index of thread tid and its lane bit
// within that warp.
func (g Geometry) Lane(tid uint64) (warp int, bit uint32) {
	blockDim := uint64(g.ThreadsPerBlock)
	local := tid % blockDim
	block := tid / blockDim
	//nolint:gosec // bounded by WarpsInGrid
	warp = int(local/WarpSize + block*uint64(g.WarpsPerBlock))
	bit = 1 << (local % WarpSize)
	return warp, bit
}
