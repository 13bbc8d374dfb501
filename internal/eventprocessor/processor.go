package eventprocessor

import (
	"errors"
	"fmt"
	"math"

	"github.com/mrzor/scope-advice/internal/alloc"
	"github.com/mrzor/scope-advice/internal/bufpool"
	"github.com/mrzor/scope-advice/internal/fence"
	"github.com/mrzor/scope-advice/internal/metrics"
	"github.com/mrzor/scope-advice/internal/record"
	"github.com/mrzor/scope-advice/internal/sitemeta"
)

// ErrCorrupt is returned for records whose tag is not a known variant.
var ErrCorrupt = errors.New("corrupt record")

// Interval selects the memory accesses to analyze by sequence index,
// [Begin, End).
type Interval struct {
	Begin uint64
	End   uint64
}

// All is the interval covering the whole stream.
var All = Interval{Begin: 0, End: math.MaxUint64}

// Contains reports whether seq lies inside the interval.
func (i Interval) Contains(seq uint64) bool {
	return seq >= i.Begin && seq < i.End
}

// Options tune the processor.
type Options struct {
	Interval          Interval
	FilterAllocations bool
}

// Processor routes records to the fence tracker, the allocation tracker
// and the site metadata. It is shared by all workers.
type Processor struct {
	tracker *fence.Tracker
	sites   *sitemeta.Manager
	allocs  *alloc.Tracker
	dedup   alloc.Deduper
	metrics *metrics.Tracker
	opts    Options
}

// NewProcessor creates a new record processor. dedup may be nil.
func NewProcessor(
	tracker *fence.Tracker,
	sites *sitemeta.Manager,
	allocs *alloc.Tracker,
	dedup alloc.Deduper,
	m *metrics.Tracker,
	opts Options,
) *Processor {
	return &Processor{
		tracker: tracker,
		sites:   sites,
		allocs:  allocs,
		dedup:   dedup,
		metrics: m,
		opts:    opts,
	}
}

// HandleJob handles every record of j in order. It returns the record
// errors joined; none of them stop the job.
func (p *Processor) HandleJob(j bufpool.Job) error {
	var errs []error
	buf := j.Records()
	for i := 0; i < j.Count; i++ {
		if err := p.HandleRecord(j.Seq+uint64(i), record.At(buf, i)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleRecord routes one record by type.
func (p *Processor) HandleRecord(seq uint64, r record.Record) error {
	switch r.Type() {
	case record.TypeMemory:
		m, _ := r.MemoryAccess()
		return p.handleAccess(seq, m)
	case record.TypeSync:
		f, _ := r.SyncFence()
		return p.handleFence(f)
	case record.TypeAlloc:
		a, _ := r.Allocation()
		return p.handleAllocation(a)
	default:
		p.metrics.Corrupt.Add(1)
		return fmt.Errorf("%w: tag %d at %d", ErrCorrupt, uint8(r.Type()), seq)
	}
}

// handleAccess applies the interval, allocation and de-duplication filters
// before the access reaches the fence tracker.
func (p *Processor) handleAccess(seq uint64, m record.MemoryAccess) error {
	p.metrics.Packets.Add(1)

	if !p.opts.Interval.Contains(seq) {
		p.metrics.OutOfInterval.Add(1)
		return nil
	}
	if p.opts.FilterAllocations && !p.allocs.IsTracked(m.Addr) {
		p.metrics.Filtered.Add(1)
		return nil
	}
	if p.dedup != nil && p.dedup.Seen(alloc.Key{Addr: m.Addr, Info: uint64(m.Info)}) {
		p.metrics.Deduped.Add(1)
		return nil
	}

	if err := p.tracker.Access(m); err != nil {
		p.metrics.Rejected.Add(1)
		return fmt.Errorf("access at %d: %w", seq, err)
	}
	return nil
}

// handleFence opens an epoch and binds it to its static site.
func (p *Processor) handleFence(f record.SyncFence) error {
	epoch, err := p.tracker.Fence(f)
	if err != nil {
		p.metrics.Rejected.Add(1)
		return fmt.Errorf("fence %d: %w", f.FenceID, err)
	}
	p.metrics.Fences.Add(1)
	p.sites.Bind(epoch, f.FenceID)
	return nil
}

// handleAllocation records a live range.
func (p *Processor) handleAllocation(a record.Allocation) error {
	if p.allocs.Record(a.Base, a.Bound) {
		p.metrics.Allocations.Add(1)
	}
	return nil
}
