package fence

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/mrzor/scope-advice/internal/record"
)

// NoFence is returned by the searches when no matching fence exists.
const NoFence int64 = -1

// ErrLaneOutOfRange is returned for thread ids outside the launch geometry.
var ErrLaneOutOfRange = errors.New("thread id outside launch geometry")

// Tracker is the Epoch/Fence Tracker of one kernel invocation. Fence and
// Access may be called from any number of workers concurrently.
//
// Locally scoped loads and all stores depend on fences that may not have
// been processed yet when the access arrives: the closing fence of a store
// window comes later in the stream, and workers run out of order. Access
// only records such lanes as pending per (epoch, warp); Resolve applies the
// search rules once every fence is known.
type Tracker struct {
	geom   Geometry
	bitmap *Bitmap
	infos  Infos
	coarse bool

	next  atomic.Int64 // last reserved epoch
	epoch atomic.Int64 // last published epoch

	loads     *laneSet // pending locally scoped loads
	stores    *laneSet // pending stores
	pending   atomic.Int64
	resolveMu sync.Mutex

	unfencedLoads  atomic.Uint64
	unfencedStores atomic.Uint64
}

// NewTracker creates a tracker for the given launch geometry.
func NewTracker(geom Geometry, coarse bool) *Tracker {
	t := &Tracker{
		geom:   geom,
		bitmap: NewBitmap(geom.WarpsInGrid),
		loads:  newLaneSet(geom.WarpsInGrid),
		stores: newLaneSet(geom.WarpsInGrid),
		coarse: coarse,
	}
	t.infos.GetOrCreate(0)
	return t
}

// Geometry returns the launch geometry.
func (t *Tracker) Geometry() Geometry { return t.geom }

// Coarse reports whether the coarse classification mode is active.
func (t *Tracker) Coarse() bool { return t.coarse }

// MaxEpoch returns the current global epoch.
func (t *Tracker) MaxEpoch() int64 { return t.epoch.Load() }

// Bitmap exposes the lane fence bitmap for inspection.
func (t *Tracker) Bitmap() *Bitmap { return t.bitmap }

// Info returns the record of epoch, or nil if nothing referenced it.
func (t *Tracker) Info(epoch int64) *Info { return t.infos.Get(epoch) }

// UnfencedLoads counts the (lane, epoch) pairs of locally scoped loads with
// no earlier fence. Valid after Resolve.
func (t *Tracker) UnfencedLoads() uint64 { return t.unfencedLoads.Load() }

// UnfencedStores counts the (lane, epoch) pairs of stores with no later
// fence. Valid after Resolve.
func (t *Tracker) UnfencedStores() uint64 { return t.unfencedStores.Load() }

func (t *Tracker) lane(tid uint64) (int, uint32, error) {
	if tid >= t.geom.Threads {
		return 0, 0, fmt.Errorf("%w: tid %d, %d threads", ErrLaneOutOfRange, tid, t.geom.Threads)
	}
	warp, bit := t.geom.Lane(tid)
	if warp >= t.geom.WarpsInGrid {
		return 0, 0, fmt.Errorf("%w: warp %d, %d warps", ErrLaneOutOfRange, warp, t.geom.WarpsInGrid)
	}
	return warp, bit, nil
}

// Fence opens a new epoch for f and marks the participating lanes. The
// bitmap row is written before the epoch becomes the search bound.
func (t *Tracker) Fence(f record.SyncFence) (int64, error) {
	warp, bit, err := t.lane(f.ThreadID)
	if err != nil {
		return NoFence, err
	}
	mask := f.Mask
	if mask == 0 {
		mask = bit
	}

	e := t.reserve()
	t.bitmap.Set(e, warp, mask)
	t.infos.GetOrCreate(e)
	t.publish(e)
	return e, nil
}

func (t *Tracker) reserve() int64 {
	return t.next.Add(1)
}

func (t *Tracker) publish(e int64) {
	for {
		cur := t.epoch.Load()
		if cur >= e || t.epoch.CompareAndSwap(cur, e) {
			return
		}
	}
}

// Access applies the load and store rules to one memory access. Rules that
// search the bitmap take effect at the next Resolve.
func (t *Tracker) Access(m record.MemoryAccess) error {
	info := m.Info
	e := info.Epoch()

	if info.IsAtomic() {
		t.infos.GetOrCreate(e).Observe(OpAtomic)
		return nil
	}
	if !info.IsLoad() && !info.IsStore() {
		return nil
	}

	warp, bit, err := t.lane(info.ThreadID())
	if err != nil {
		return err
	}
	scope := info.Scope()

	if info.IsLoad() {
		if scope == record.ScopeNone {
			t.infos.GetOrCreate(e).Observe(OpWeakLoad)
		}
		if scope.DeviceWide() {
			t.infos.GetOrCreate(e).Observe(OpVolatileLoad)
		} else {
			t.markPending(t.loads, e, warp, bit)
		}
	}

	if info.IsStore() {
		if scope == record.ScopeNone {
			t.infos.GetOrCreate(e).Observe(OpWeakStore)
		}
		t.markPending(t.stores, e, warp, bit)
	}
	return nil
}

func (t *Tracker) markPending(s *laneSet, e int64, warp int, bit uint32) {
	if s.add(e, warp, bit) {
		t.pending.Add(1)
	}
}

// Resolve applies the search rules to every pending access: a load latches
// the nearest fence at or before its epoch, a store the nearest fence after
// it. A store with no later fence records a volatile store on its own
// window. Call it once the fences the accesses depend on are processed;
// Classification calls it first.
func (t *Tracker) Resolve() {
	t.resolveMu.Lock()
	defer t.resolveMu.Unlock()
	if t.pending.Swap(0) == 0 {
		return
	}

	last := t.MaxEpoch()
	loads, stores := t.loads.sorted(), t.stores.sorted()
	for w := 0; w < t.geom.WarpsInGrid; w++ {
		t.resolveLoads(w, last, loads)
		t.resolveStores(w, last, stores)
	}
}

// resolveLoads walks epochs upwards, carrying the last fence of every lane.
func (t *Tracker) resolveLoads(w int, last int64, rows []laneRow) {
	var prev [32]int64
	for i := range prev {
		prev[i] = NoFence
	}
	f := int64(1)
	for _, r := range rows {
		for ; f <= min(r.epoch, last); f++ {
			for word := t.bitmap.Word(f, w); word != 0; word &= word - 1 {
				prev[bits.TrailingZeros32(word)] = f
			}
		}
		for word := r.words[w].Swap(0); word != 0; word &= word - 1 {
			if e := prev[bits.TrailingZeros32(word)]; e != NoFence {
				t.infos.GetOrCreate(e).MarkNotOversynchronized()
			} else {
				t.unfencedLoads.Add(1)
			}
		}
	}
}

// resolveStores walks epochs downwards, carrying the next fence of every lane.
func (t *Tracker) resolveStores(w int, last int64, rows []laneRow) {
	var next [32]int64
	for i := range next {
		next[i] = NoFence
	}
	f := last
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		for ; f > r.epoch; f-- {
			for word := t.bitmap.Word(f, w); word != 0; word &= word - 1 {
				next[bits.TrailingZeros32(word)] = f
			}
		}
		for word := r.words[w].Swap(0); word != 0; word &= word - 1 {
			if e := next[bits.TrailingZeros32(word)]; e != NoFence {
				fi := t.infos.GetOrCreate(e)
				fi.Observe(OpVolatileStore)
				fi.MarkNotOversynchronized()
			} else {
				t.infos.GetOrCreate(r.epoch).Observe(OpVolatileStore)
				t.unfencedStores.Add(1)
			}
		}
	}
}

// FindPreceding returns the nearest epoch at or before epoch in which the
// lane of tid took part in a fence, or NoFence.
func (t *Tracker) FindPreceding(epoch int64, tid uint64) int64 {
	warp, bit, err := t.lane(tid)
	if err != nil {
		return NoFence
	}
	for c := min(epoch, t.MaxEpoch()); c >= 1; c-- {
		if t.bitmap.Test(c, warp, bit) {
			return c
		}
	}
	return NoFence
}

// FindFollowing returns the nearest epoch after epoch in which the lane of
// tid took part in a fence, or NoFence.
func (t *Tracker) FindFollowing(epoch int64, tid uint64) int64 {
	warp, bit, err := t.lane(tid)
	if err != nil {
		return NoFence
	}
	last := t.MaxEpoch()
	for c := max(epoch+1, 1); c <= last; c++ {
		if t.bitmap.Test(c, warp, bit) {
			return c
		}
	}
	return NoFence
}

// Result is the verdict on the fence that opened Epoch.
type Result struct {
	Epoch   int64
	Class   Classification
	Ops     Ops
	NextOps Ops
}

// Classification settles and returns the verdict of the fence that opened
// epoch. It must only be called once every record has been processed.
func (t *Tracker) Classification(epoch int64) (Result, bool) {
	t.Resolve()
	if epoch < 1 || epoch > t.MaxEpoch() {
		return Result{}, false
	}
	info := t.infos.GetOrCreate(epoch)
	var next Ops
	if ni := t.infos.Get(epoch + 1); ni != nil {
		next = ni.Ops()
	}
	cur := info.Ops()
	redundant := info.settleRedundant(cur == 0 && next == 0)
	return Result{
		Epoch:   epoch,
		Class:   Decide(info.NotOversynchronized(), redundant, cur, next, t.coarse),
		Ops:     cur,
		NextOps: next,
	}, true
}

// Classify returns the verdicts of every fence in epoch order.
func (t *Tracker) Classify() []Result {
	last := t.MaxEpoch()
	out := make([]Result, 0, last)
	for e := int64(1); e <= last; e++ {
		r, _ := t.Classification(e)
		out = append(out, r)
	}
	return out
}

// Bytes estimates the fence metadata footprint.
func (t *Tracker) Bytes() int {
	const infoSize = 24
	return t.bitmap.Bytes() + t.loads.bytes() + t.stores.bytes() + t.infos.Len()*infoSize
}
