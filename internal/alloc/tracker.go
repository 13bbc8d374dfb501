package alloc

import (
	"sync"
	"sync/atomic"
)

// Range is one live allocation, [Base, Bound).
type Range struct {
	Base  uint64
	Bound uint64
}

// Contains reports whether addr falls inside the range.
func (r Range) Contains(addr uint64) bool {
	return addr >= r.Base && addr < r.Bound
}

// Tracker is the append-only allocation list of one kernel invocation.
type Tracker struct {
	capacity int

	mu     sync.RWMutex
	ranges []Range

	overflow atomic.Uint64
}

// NewTracker creates a tracker holding at most capacity ranges.
// A capacity of zero means unbounded.
func NewTracker(capacity int) *Tracker {
	return &Tracker{capacity: capacity}
}

// Record appends an allocation. It returns false when the range was empty
// or capacity was exceeded; the latter is counted and disables filtering.
func (t *Tracker) Record(base, bound uint64) bool {
	if bound <= base {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.capacity > 0 && len(t.ranges) >= t.capacity {
		t.overflow.Add(1)
		return false
	}
	t.ranges = append(t.ranges, Range{Base: base, Bound: bound})
	return true
}

// IsTracked reports whether addr belongs to a recorded allocation. With no
// ranges recorded, or after an overflow, every address is tracked.
func (t *Tracker) IsTracked(addr uint64) bool {
	if t.overflow.Load() > 0 {
		return true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.ranges) == 0 {
		return true
	}
	for _, r := range t.ranges {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// Ranges returns a copy of the recorded ranges.
func (t *Tracker) Ranges() []Range {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Range(nil), t.ranges...)
}

// Len returns the number of recorded ranges.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ranges)
}

// Overflows counts ranges refused because capacity was exceeded.
func (t *Tracker) Overflows() uint64 { return t.overflow.Load() }

// AppBytes sums the sizes of the recorded ranges.
func (t *Tracker) AppBytes() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var n uint64
	for _, r := range t.ranges {
		n += r.Bound - r.Base
	}
	return n
}

// Reset forgets every range. It is not safe to call while workers run.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ranges = t.ranges[:0]
	t.overflow.Store(0)
}
