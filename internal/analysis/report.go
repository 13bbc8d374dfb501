package analysis

import (
	"sort"

	"github.com/mrzor/scope-advice/internal/fence"
	"github.com/mrzor/scope-advice/internal/metrics"
)

// FenceReport is the verdict on one dynamic fence with its static site.
type FenceReport struct {
	fence.Result
	FenceID  uint32
	Bound    bool // FenceID is known
	Location string
}

// Report is the frozen result of one kernel analysis.
type Report struct {
	Kernel   Kernel
	Coarse   bool
	Counters metrics.Counters
	Timings  metrics.Timings
	Memory   metrics.Memory
	Latency  metrics.Latency
	Fences   []FenceReport // epoch order
	Issues   []string
}

// Fence returns the verdict on the fence that opened epoch.
func (r *Report) Fence(epoch int64) (FenceReport, bool) {
	i := sort.Search(len(r.Fences), func(i int) bool { return r.Fences[i].Epoch >= epoch })
	if i < len(r.Fences) && r.Fences[i].Epoch == epoch {
		return r.Fences[i], true
	}
	return FenceReport{}, false
}

// Removable returns the epochs whose fence can be weakened or removed.
func (r *Report) Removable() []int64 {
	var out []int64
	for _, f := range r.Fences {
		if f.Class.Removable() {
			out = append(out, f.Epoch)
		}
	}
	return out
}
