package fence

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Ops is the set of operation kinds observed in an epoch window.
type Ops uint32

// Operation kinds.
const (
	OpVolatileLoad Ops = 1 << iota
	OpVolatileStore
	OpAtomic
	OpWeakLoad
	OpWeakStore
)

var opNames = []struct {
	op   Ops
	name string
}{
	{OpVolatileLoad, "LDV"},
	{OpVolatileStore, "STV"},
	{OpAtomic, "ATM"},
	{OpWeakLoad, "LDW"},
	{OpWeakStore, "STW"},
}

func (o Ops) String() string {
	if o == 0 {
		return "-"
	}
	var parts []string
	for _, n := range opNames {
		if o&n.op != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Info is the per-epoch fence record. Every field is either written once or
// updated with a single atomic operation, so workers share it without locks.
type Info struct {
	ID int64

	ops         atomic.Uint32
	notOversync atomic.Bool
	redundant   atomic.Uint32 // 0 unsettled, 1 kept, 2 redundant
}

// Observe ORs op into the window's operation set.
func (i *Info) Observe(op Ops) {
	i.ops.Or(uint32(op))
}

// Ops returns the observed operation set.
func (i *Info) Ops() Ops {
	return Ops(i.ops.Load())
}

// MarkNotOversynchronized latches the flag. It reports whether this call
// flipped it.
func (i *Info) MarkNotOversynchronized() bool {
	return !i.notOversync.Swap(true)
}

// NotOversynchronized reports whether some access relied on this fence.
func (i *Info) NotOversynchronized() bool {
	return i.notOversync.Load()
}

// settleRedundant records the redundancy verdict. Only the first call has
// an effect; the settled value is returned.
func (i *Info) settleRedundant(v bool) bool {
	want := uint32(1)
	if v {
		want = 2
	}
	i.redundant.CompareAndSwap(0, want)
	return i.redundant.Load() == 2
}

// Redundant returns the verdict and whether it was settled.
func (i *Info) Redundant() (redundant, settled bool) {
	v := i.redundant.Load()
	return v == 2, v != 0
}

// Infos maps epochs to their Info, creating entries on first reference.
type Infos struct {
	m sync.Map // int64 -> *Info
}

// GetOrCreate returns the Info for epoch, creating it if needed.
func (s *Infos) GetOrCreate(epoch int64) *Info {
	if v, ok := s.m.Load(epoch); ok {
		return v.(*Info)
	}
	v, _ := s.m.LoadOrStore(epoch, &Info{ID: epoch})
	return v.(*Info)
}

// Get returns the Info for epoch, or nil.
func (s *Infos) Get(epoch int64) *Info {
	if v, ok := s.m.Load(epoch); ok {
		return v.(*Info)
	}
	return nil
}

// Len counts the entries.
func (s *Infos) Len() int {
	n := 0
	s.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
