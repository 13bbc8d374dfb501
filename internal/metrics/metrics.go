// Package metrics accumulates the timing, counter and memory figures of one
// kernel analysis. It makes no decisions; the session reads it once when the
// analysis stops.
package metrics

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aclements/go-moremath/stats"
)

// Phase names a timed stage of an analysis.
type Phase int

// Phases in the order they normally begin.
const (
	PhaseInstrumentation Phase = iota
	PhaseSetup
	PhaseKernel
	PhaseMessage
	PhaseDetection
	numPhases
)

func (p Phase) String() string {
	switch p {
	case PhaseInstrumentation:
		return "instrumentation"
	case PhaseSetup:
		return "setup"
	case PhaseKernel:
		return "kernel"
	case PhaseMessage:
		return "message"
	case PhaseDetection:
		return "detection"
	default:
		return "unknown"
	}
}

type span struct {
	begin, end time.Time
	total      time.Duration
}

// Tracker is safe for concurrent use. Counter fields are updated directly
// by the pipeline stages.
type Tracker struct {
	StaticInstrumented atomic.Uint64
	Received           atomic.Uint64
	Packets            atomic.Uint64
	MessagePasses      atomic.Uint64
	Fences             atomic.Uint64
	Allocations        atomic.Uint64
	Corrupt            atomic.Uint64
	Filtered           atomic.Uint64
	Deduped            atomic.Uint64
	OutOfInterval      atomic.Uint64
	Rejected           atomic.Uint64

	now func() time.Time

	mu      sync.Mutex
	spans   [numPhases]span
	latency jobLatency
	memory  Memory
}

// New creates a tracker reading the wall clock.
func New() *Tracker {
	return &Tracker{now: time.Now}
}

// Begin marks the start of phase p.
func (t *Tracker) Begin(p Phase) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans[p].begin = now
}

// End closes phase p and adds its duration to the phase total.
func (t *Tracker) End(p Phase) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.spans[p]
	s.end = now
	if !s.begin.IsZero() {
		s.total += now.Sub(s.begin)
	}
}

// Add credits d to phase p without moving its begin/end marks. It is used
// for phases measured by the producer.
func (t *Tracker) Add(p Phase, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans[p].total += d
}

// Duration returns the accumulated time of phase p.
func (t *Tracker) Duration(p Phase) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spans[p].total
}

// Timings are the reported durations, in milliseconds.
type Timings struct {
	Instrumentation float64
	Setup           float64
	Kernel          float64
	Channel         float64
	Detection       float64
	EndToEnd        float64
}

// Timings derives the reported durations. Channel is the delay between the
// first message and the start of detection; EndToEnd spans kernel start to
// detection end plus the instrumentation and setup time.
func (t *Tracker) Timings() Timings {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.spans
	out := Timings{
		Instrumentation: millis(s[PhaseInstrumentation].total),
		Setup:           millis(s[PhaseSetup].total),
		Kernel:          millis(s[PhaseKernel].total),
		Detection:       millis(s[PhaseDetection].total),
	}
	if !s[PhaseMessage].begin.IsZero() && !s[PhaseDetection].begin.IsZero() {
		out.Channel = millis(s[PhaseDetection].begin.Sub(s[PhaseMessage].begin))
	}
	var part time.Duration
	if !s[PhaseKernel].begin.IsZero() && !s[PhaseDetection].end.IsZero() {
		part = s[PhaseDetection].end.Sub(s[PhaseKernel].begin)
	}
	out.EndToEnd = millis(part + s[PhaseInstrumentation].total + s[PhaseSetup].total)
	return out
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// Memory is the memory footprint of an analysis, in bytes.
type Memory struct {
	App      uint64 // application allocations
	Meta     uint64 // stream buffers and aggregation state
	Fence    uint64 // fence bitmap and fence records
	Sampling uint64 // de-duplication state
}

// Overhead is the metadata to application memory ratio, or 0 when no
// application memory is known.
func (m Memory) Overhead() float64 {
	if m.App == 0 {
		return 0
	}
	return float64(m.Meta+m.Fence+m.Sampling) / float64(m.App)
}

// SetMemory records the memory footprint.
func (t *Tracker) SetMemory(m Memory) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.memory = m
}

// Memory returns the recorded memory footprint.
func (t *Tracker) Memory() Memory {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.memory
}

// LatencySamples bounds the job latencies kept for the p99 estimate.
const LatencySamples = 4096

// jobLatency keeps exact count, sum and max, plus a uniform reservoir of
// at most LatencySamples latencies in ms.
type jobLatency struct {
	n       int
	sum     float64
	max     float64
	samples []float64
}

func (l *jobLatency) add(ms float64) {
	l.n++
	l.sum += ms
	l.max = max(l.max, ms)
	if len(l.samples) < LatencySamples {
		l.samples = append(l.samples, ms)
		return
	}
	if i := rand.IntN(l.n); i < LatencySamples {
		l.samples[i] = ms
	}
}

// RecordJob records how long a worker held one job.
func (t *Tracker) RecordJob(d time.Duration) {
	ms := float64(d.Nanoseconds()) / 1e6
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latency.add(ms)
}

// Latency summarizes job latencies, in milliseconds.
type Latency struct {
	Jobs int
	Mean float64
	P99  float64
	Max  float64
}

// JobLatency summarizes the recorded job latencies. Past LatencySamples
// jobs the p99 is estimated from a uniform sample.
func (t *Tracker) JobLatency() Latency {
	t.mu.Lock()
	l := t.latency
	xs := append([]float64(nil), l.samples...)
	t.mu.Unlock()

	if l.n == 0 {
		return Latency{}
	}
	s := stats.Sample{Xs: xs}
	s.Sort()
	return Latency{
		Jobs: l.n,
		Mean: l.sum / float64(l.n),
		P99:  s.Quantile(0.99),
		Max:  l.max,
	}
}
