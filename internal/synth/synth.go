// Package synth generates synthetic kernel traces: fence epochs separated
// by windows of random memory accesses, in the producer's record order.
package synth

import (
	"fmt"
	"math/rand/v2"

	"github.com/mrzor/scope-advice/internal/record"
	"github.com/mrzor/scope-advice/internal/tracefile"
)

// Params shape a synthetic kernel.
type Params struct {
	Kernel          string  `env:"SYNTH_KERNEL" envDefault:"synthetic"`
	Threads         uint64  `env:"SYNTH_THREADS" envDefault:"1024"`
	ThreadsPerBlock uint32  `env:"SYNTH_BLOCK" envDefault:"256"`
	Sites           uint32  `env:"SYNTH_SITES" envDefault:"4"`
	Fences          int     `env:"SYNTH_FENCES" envDefault:"16"`
	Accesses        int     `env:"SYNTH_ACCESSES" envDefault:"256"` // per window
	Empty           float64 `env:"SYNTH_EMPTY" envDefault:"0.25"`   // share of windows without accesses
	AllocBytes      uint64  `env:"SYNTH_ALLOC_BYTES" envDefault:"1048576"`
	Seed            uint64  `env:"SYNTH_SEED" envDefault:"1"`
}

const allocBase = 0x7f0000000000

// Generate writes one kernel section following p.
func Generate(w *tracefile.Writer, p Params) error {
	if p.Threads == 0 || p.ThreadsPerBlock == 0 || p.Sites == 0 {
		return fmt.Errorf("threads, block size and sites must be positive")
	}
	if p.AllocBytes == 0 {
		return fmt.Errorf("allocation size must be positive")
	}

	sites := make(map[uint32]string, p.Sites)
	for i := uint32(0); i < p.Sites; i++ {
		sites[i] = fmt.Sprintf("%s.cu:%d", p.Kernel, 10*(i+1))
	}
	err := w.BeginKernel(tracefile.Header{
		Kernel:             p.Kernel,
		Threads:            p.Threads,
		ThreadsPerBlock:    p.ThreadsPerBlock,
		StaticInstrumented: p.Sites,
		Sites:              sites,
	})
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))
	if err := w.Write(record.Allocation{Base: allocBase, Bound: allocBase + p.AllocBytes}.Encode()); err != nil {
		return err
	}

	for e := 0; e <= p.Fences; e++ {
		if e > 0 {
			f := record.SyncFence{
				ThreadID: rng.Uint64N(p.Threads),
				FenceID:  uint32(e-1) % p.Sites, //nolint:gosec // small
			}
			if err := w.Write(f.Encode()); err != nil {
				return err
			}
		}
		if rng.Float64() < p.Empty {
			continue
		}
		for i := 0; i < p.Accesses; i++ {
			if err := w.Write(access(rng, p, uint32(e)).Encode()); err != nil { //nolint:gosec // small
				return err
			}
		}
	}
	return w.EndKernel()
}

func access(rng *rand.Rand, p Params, epoch uint32) record.MemoryAccess {
	load, store := true, false
	switch rng.IntN(4) {
	case 0:
		load, store = false, true
	case 1:
		store = true // atomic
	}
	scope := record.Scope(rng.IntN(4))    //nolint:gosec // 0..3
	tid := uint32(rng.Uint64N(p.Threads)) //nolint:gosec // thread ids fit in the info word
	return record.MemoryAccess{
		Addr: allocBase + rng.Uint64N(p.AllocBytes)&^7,
		Info: record.NewInfo(load, store, scope, tid, epoch),
	}
}
