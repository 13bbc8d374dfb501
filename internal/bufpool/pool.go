// Package bufpool implements the fixed pool of record buffers exchanged
// between the channel reader and the workers.
//
// Every buffer is in exactly one of four states:
//
//	free ──AcquireFree──▶ filling ──SubmitJob──▶ queued ──AcquireJob──▶ draining
//	  ▲                      │                                            │
//	  └────────Release───────┴────────────────────Release─────────────────┘
//
// A transition from any other state panics: two owners of one buffer is a
// fatal race. The pool size bounds memory and is the pipeline's flow-control
// valve: when workers fall behind, the reader waits for a free buffer.
package bufpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrzor/scope-advice/internal/record"
)

// ErrClosed is returned by AcquireJob once the job queue is closed and empty.
var ErrClosed = errors.New("job queue closed")

type state uint32

const (
	stateFree state = iota
	stateFilling
	stateQueued
	stateDraining
)

func (s state) String() string {
	switch s {
	case stateFree:
		return "free"
	case stateFilling:
		return "filling"
	case stateQueued:
		return "queued"
	case stateDraining:
		return "draining"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// Buffer is a reusable fixed-size record buffer.
type Buffer struct {
	id    int
	data  []byte
	state atomic.Uint32
}

// ID returns the buffer's index in the pool.
func (b *Buffer) ID() int { return b.id }

// Bytes returns the whole backing storage.
func (b *Buffer) Bytes() []byte { return b.data }

func (b *Buffer) transition(from, to state) {
	if !b.state.CompareAndSwap(uint32(from), uint32(to)) {
		panic(fmt.Sprintf("bufpool: buffer %d is %v, want %v (moving to %v)", b.id, state(b.state.Load()), from, to))
	}
}

// Job is a filled buffer in transit from the reader to one worker.
type Job struct {
	Buffer *Buffer
	Count  int    // records in Buffer
	Seq    uint64 // stream sequence index of the first record
}

// Records returns the filled part of the buffer.
func (j Job) Records() []byte {
	return j.Buffer.data[:j.Count*record.Size]
}

// Stats is a snapshot of buffer ownership. Free+Filling+Queued+Draining
// always equals Size.
type Stats struct {
	Size     int
	Free     int
	Filling  int
	Queued   int
	Draining int
}

// Pool owns the buffers and the two queues.
type Pool struct {
	buffers      []*Buffer
	free         chan *Buffer
	jobs         chan Job
	stallTimeout time.Duration
	stalls       atomic.Uint64
	closeOnce    sync.Once
}

// New creates a pool of n buffers, each holding recordsPerBuffer records.
// A zero stallTimeout disables stall reporting.
func New(n, recordsPerBuffer int, stallTimeout time.Duration) *Pool {
	if n < 1 {
		n = 1
	}
	if recordsPerBuffer < 1 {
		recordsPerBuffer = 1
	}

	p := &Pool{
		buffers:      make([]*Buffer, n),
		free:         make(chan *Buffer, n),
		jobs:         make(chan Job, n),
		stallTimeout: stallTimeout,
	}
	for i := range p.buffers {
		b := &Buffer{id: i, data: make([]byte, recordsPerBuffer*record.Size)}
		p.buffers[i] = b
		p.free <- b
	}
	return p
}

// Size returns the number of buffers.
func (p *Pool) Size() int { return len(p.buffers) }

// Bytes returns the memory held by all buffers.
func (p *Pool) Bytes() int {
	return len(p.buffers) * len(p.buffers[0].data)
}

// Stalls returns how many waits exceeded the stall timeout.
func (p *Pool) Stalls() uint64 { return p.stalls.Load() }

// AcquireFree takes a free buffer, waiting while none is available.
func (p *Pool) AcquireFree(ctx context.Context) (*Buffer, error) {
	b, ok, err := receive(ctx, p.free, p.stallTimeout, &p.stalls)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrClosed
	}
	b.transition(stateFree, stateFilling)
	return b, nil
}

// SubmitJob queues a filled buffer for the workers.
// The job queue holds every buffer, so SubmitJob never blocks.
func (p *Pool) SubmitJob(j Job) {
	j.Buffer.transition(stateFilling, stateQueued)
	p.jobs <- j
}

// AcquireJob takes a queued job, waiting while none is available.
// It returns ErrClosed once CloseJobs was called and the queue is empty.
func (p *Pool) AcquireJob(ctx context.Context) (Job, error) {
	j, ok, err := receive(ctx, p.jobs, p.stallTimeout, nil)
	if err != nil {
		return Job{}, err
	}
	if !ok {
		return Job{}, ErrClosed
	}
	j.Buffer.transition(stateQueued, stateDraining)
	return j, nil
}

// Release returns a buffer to the free queue. The caller must be the
// reader holding an unsubmitted buffer or the worker draining it.
func (p *Pool) Release(b *Buffer) {
	if !b.state.CompareAndSwap(uint32(stateDraining), uint32(stateFree)) {
		b.transition(stateFilling, stateFree)
	}
	p.free <- b
}

// CloseJobs marks the end of submissions. Only the reader calls it.
func (p *Pool) CloseJobs() {
	p.closeOnce.Do(func() { close(p.jobs) })
}

// Stats returns the current ownership snapshot.
func (p *Pool) Stats() Stats {
	s := Stats{Size: len(p.buffers)}
	for _, b := range p.buffers {
		switch state(b.state.Load()) {
		case stateFree:
			s.Free++
		case stateFilling:
			s.Filling++
		case stateQueued:
			s.Queued++
		case stateDraining:
			s.Draining++
		}
	}
	return s
}

// receive waits on ch. When stallTimeout elapses without a value the wait
// is counted as a stall and continues; only ctx ends it early.
func receive[T any](ctx context.Context, ch <-chan T, stallTimeout time.Duration, stalls *atomic.Uint64) (T, bool, error) {
	select {
	case v, ok := <-ch:
		return v, ok, nil
	default:
	}

	var tick <-chan time.Time
	if stallTimeout > 0 && stalls != nil {
		ticker := time.NewTicker(stallTimeout)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case v, ok := <-ch:
			return v, ok, nil
		case <-ctx.Done():
			var zero T
			return zero, false, ctx.Err()
		case <-tick:
			stalls.Add(1)
		}
	}
}
