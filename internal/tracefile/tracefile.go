// Package tracefile stores captured record streams on disk.
//
// A trace file is one snappy framed stream. Inside it:
//
//	magic "SCOPEADV", version u32
//	per kernel:
//	    header (name, launch geometry, static counters, fence sites)
//	    chunks of (count u32, count records), terminated by count 0
//
// All integers are little-endian. A Reader replays one kernel at a time
// and implements channel.Source, so a capture can be analyzed exactly like
// a live channel.
package tracefile

import (
	"errors"
	"time"
)

const (
	magic   = "SCOPEADV"
	version = 1

	chunkRecords = 1024
)

var (
	// ErrBadMagic is returned when the stream is not a trace file.
	ErrBadMagic = errors.New("not a scope-advice trace file")
	// ErrVersion is returned for trace files written by another format version.
	ErrVersion = errors.New("unsupported trace file version")
)

// Header describes one captured kernel launch.
type Header struct {
	Kernel             string
	Threads            uint64
	ThreadsPerBlock    uint32
	StaticInstrumented uint32
	Instrumentation    time.Duration
	Sites              map[uint32]string // fence id -> source location
}
