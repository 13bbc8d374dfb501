package analysis

import (
	"time"

	"github.com/mrzor/scope-advice/internal/tracefile"
)

// Kernel describes the invocation being analyzed, as announced by the
// producer.
type Kernel struct {
	Name               string
	Threads            uint64
	ThreadsPerBlock    uint32
	StaticInstrumented uint32
	Instrumentation    time.Duration
	Sites              map[uint32]string // fence id -> source location
}

// KernelFromHeader converts a trace file kernel header.
func KernelFromHeader(h *tracefile.Header) Kernel {
	return Kernel{
		Name:               h.Kernel,
		Threads:            h.Threads,
		ThreadsPerBlock:    h.ThreadsPerBlock,
		StaticInstrumented: h.StaticInstrumented,
		Instrumentation:    h.Instrumentation,
		Sites:              h.Sites,
	}
}

// Selector decides which kernel invocations are analyzed. With a name set
// only that kernel is selected; either way only the first invocation of a
// kernel is.
type Selector struct {
	name string
	seen map[string]bool
}

// NewSelector creates a selector. An empty name selects every kernel.
func NewSelector(name string) *Selector {
	return &Selector{name: name, seen: make(map[string]bool)}
}

// Select reports whether the invocation of kernel should be analyzed.
func (s *Selector) Select(kernel string) bool {
	if s.name != "" && s.name != kernel {
		return false
	}
	if s.seen[kernel] {
		return false
	}
	s.seen[kernel] = true
	return true
}
