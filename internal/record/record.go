// Package record provides Go bindings for the trace records the instrumented
// kernel pushes through the device-to-host channel.
package record

import (
	"encoding/binary"
	"fmt"
)

// Size is the fixed wire size of a single record in bytes.
const Size = 24

// Type tags the variant carried in a record's union.
type Type uint8

// Record type constants matching the device-side channel_t tags.
const (
	TypeInvalid Type = 0
	TypeMemory  Type = 1
	TypeSync    Type = 2
	TypeAlloc   Type = 3
)

func (t Type) String() string {
	switch t {
	case TypeMemory:
		return "memory"
	case TypeSync:
		return "sync"
	case TypeAlloc:
		return "alloc"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(t))
	}
}

// Record is a view over Size bytes of wire data.
//
// Layout (little endian):
//
//	offset 0      type tag
//	offset 1..7   padding
//	offset 8..23  union payload
type Record []byte

// Type returns the record's variant tag.
func (r Record) Type() Type {
	return Type(r[0])
}

// MemoryAccess extracts the memory access payload.
// It returns false if the record is not a memory access.
func (r Record) MemoryAccess() (MemoryAccess, bool) {
	if r.Type() != TypeMemory {
		return MemoryAccess{}, false
	}
	return MemoryAccess{
		Addr: binary.LittleEndian.Uint64(r[8:16]),
		Info: Info(binary.LittleEndian.Uint64(r[16:24])),
	}, true
}

// SyncFence extracts the fence payload.
// It returns false if the record is not a fence.
func (r Record) SyncFence() (SyncFence, bool) {
	if r.Type() != TypeSync {
		return SyncFence{}, false
	}
	return SyncFence{
		ThreadID: binary.LittleEndian.Uint64(r[8:16]),
		Mask:     binary.LittleEndian.Uint32(r[16:20]),
		FenceID:  binary.LittleEndian.Uint32(r[20:24]),
	}, true
}

// Allocation extracts the allocation payload.
// It returns false if the record is not an allocation notification.
func (r Record) Allocation() (Allocation, bool) {
	if r.Type() != TypeAlloc {
		return Allocation{}, false
	}
	return Allocation{
		Base:  binary.LittleEndian.Uint64(r[8:16]),
		Bound: binary.LittleEndian.Uint64(r[16:24]),
	}, true
}

// MemoryAccess is a single global memory operation observed on the device.
type MemoryAccess struct {
	Addr uint64
	Info Info
}

// SyncFence is a fence executed by the lanes in Mask of the warp that
// contains thread ThreadID.
type SyncFence struct {
	ThreadID uint64
	Mask     uint32
	FenceID  uint32 // static instrumentation site
}

// Allocation announces a live device allocation [Base, Bound).
type Allocation struct {
	Base  uint64
	Bound uint64
}

// Encode returns the wire form of a memory access.
func (m MemoryAccess) Encode() [Size]byte {
	var b [Size]byte
	b[0] = byte(TypeMemory)
	binary.LittleEndian.PutUint64(b[8:16], m.Addr)
	binary.LittleEndian.PutUint64(b[16:24], uint64(m.Info))
	return b
}

// Encode returns the wire form of a fence.
func (f SyncFence) Encode() [Size]byte {
	var b [Size]byte
	b[0] = byte(TypeSync)
	binary.LittleEndian.PutUint64(b[8:16], f.ThreadID)
	binary.LittleEndian.PutUint32(b[16:20], f.Mask)
	binary.LittleEndian.PutUint32(b[20:24], f.FenceID)
	return b
}

// Encode returns the wire form of an allocation notification.
func (a Allocation) Encode() [Size]byte {
	var b [Size]byte
	b[0] = byte(TypeAlloc)
	binary.LittleEndian.PutUint64(b[8:16], a.Base)
	binary.LittleEndian.PutUint64(b[16:24], a.Bound)
	return b
}

// Count returns how many whole records fit in n bytes.
func Count(n int) int {
	return n / Size
}

// At returns the i-th record of buf.
func At(buf []byte, i int) Record {
	return Record(buf[i*Size : (i+1)*Size])
}
