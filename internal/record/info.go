package record

// Bit positions and widths of the packed metadata word sent with every
// memory access.
const (
	posLoad   = 0
	posStore  = 1
	posScope  = 2
	posThread = 4
	posEpoch  = 27

	sizeScope  = 2
	sizeThread = 23
	sizeEpoch  = 32
)

// Scope is the visibility a memory operation declares.
type Scope uint8

// Scope values. The numbering is part of the wire format.
const (
	ScopeNone Scope = 0
	ScopeCTA  Scope = 1
	ScopeGPU  Scope = 2
	ScopeSys  Scope = 3
)

func (s Scope) String() string {
	switch s {
	case ScopeCTA:
		return "CTA"
	case ScopeGPU:
		return "GPU"
	case ScopeSys:
		return "SYS"
	default:
		return "NONE"
	}
}

// DeviceWide reports whether s is GPU or system scope.
func (s Scope) DeviceWide() bool {
	return s == ScopeGPU || s == ScopeSys
}

// Info is the packed metadata word of a memory access.
//
// Layout: [epoch:32 @27][thread:23 @4][scope:2 @2][store:1 @1][load:1 @0].
// Device builds that only fill five epoch bits decode identically.
type Info uint64

// NewInfo packs the metadata word.
func NewInfo(load, store bool, scope Scope, thread uint32, epoch uint32) Info {
	var w uint64
	if load {
		w = setBits(w, posLoad, 1, 1)
	}
	if store {
		w = setBits(w, posStore, 1, 1)
	}
	w = setBits(w, posScope, sizeScope, uint64(scope))
	w = setBits(w, posThread, sizeThread, uint64(thread))
	w = setBits(w, posEpoch, sizeEpoch, uint64(epoch))
	return Info(w)
}

// IsLoad reports whether the access reads memory.
func (i Info) IsLoad() bool { return getBits(uint64(i), posLoad, 1) == 1 }

// IsStore reports whether the access writes memory.
func (i Info) IsStore() bool { return getBits(uint64(i), posStore, 1) == 1 }

// IsAtomic reports a read-modify-write: both load and store are set.
func (i Info) IsAtomic() bool { return i.IsLoad() && i.IsStore() }

// Scope returns the declared scope.
func (i Info) Scope() Scope {
	//nolint:gosec // two-bit field
	return Scope(getBits(uint64(i), posScope, sizeScope))
}

// ThreadID returns the global thread id of the issuing lane.
func (i Info) ThreadID() uint64 { return getBits(uint64(i), posThread, sizeThread) }

// Epoch returns the synchronization epoch the access was issued in.
func (i Info) Epoch() int64 {
	//nolint:gosec // 32-bit field
	return int64(getBits(uint64(i), posEpoch, sizeEpoch))
}

func getBits(w uint64, start, depth uint) uint64 {
	return (w >> start) & ((1 << depth) - 1)
}

func setBits(w uint64, start, depth uint, v uint64) uint64 {
	mask := uint64((1<<depth)-1) << start
	return (w &^ mask) | ((v << start) & mask)
}
