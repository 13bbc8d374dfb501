// Package eventstream runs the channel reader: the single goroutine that
// drains a channel.Source into pool buffers and queues them as jobs.
package eventstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/mrzor/scope-advice/internal/bufpool"
	"github.com/mrzor/scope-advice/internal/channel"
	"github.com/mrzor/scope-advice/internal/metrics"
)

// Stream reads records from a Source and hands them to workers through the
// buffer pool. It never drops a record: when no buffer is free it waits.
type Stream struct {
	source  channel.Source
	pool    *bufpool.Pool
	metrics *metrics.Tracker
	verbose int

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	err      error

	seq uint64
}

// New creates a new Stream over source.
func New(source channel.Source, pool *bufpool.Pool, m *metrics.Tracker, verbose int) *Stream {
	return &Stream{
		source:  source,
		pool:    pool,
		metrics: m,
		verbose: verbose,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins reading in a goroutine. It returns immediately; the reader
// runs until the source is exhausted, the context is cancelled or Stop is
// called. The job queue is closed when it returns.
func (s *Stream) Start(ctx context.Context) error {
	go s.processRecords(ctx)
	return nil
}

// Stop signals the reader to stop after its current drain.
func (s *Stream) Stop() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

// Wait blocks until the reader has returned and reports why it stopped.
// A source that ran out, a producer that terminated early and Stop all
// count as clean exits.
func (s *Stream) Wait() error {
	<-s.done
	return s.err
}

// Done is closed when the reader returns.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Records returns how many records were queued.
func (s *Stream) Records() uint64 {
	<-s.done
	return s.seq
}

func (s *Stream) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// processRecords is the reader loop.
func (s *Stream) processRecords(ctx context.Context) {
	defer close(s.done)
	defer s.pool.CloseJobs()

	var (
		backoff    bufpool.Backoff
		lastStalls uint64
		first      = true
	)
	for {
		if s.stopped() {
			return
		}
		if err := ctx.Err(); err != nil {
			s.err = err
			return
		}

		buf, err := s.pool.AcquireFree(ctx)
		if err != nil {
			s.err = fmt.Errorf("acquiring free buffer: %w", err)
			return
		}
		if stalls := s.pool.Stalls(); stalls != lastStalls {
			if s.verbose >= 2 {
				log.Printf("buffer pool exhausted, %d stalls so far", stalls)
			}
			lastStalls = stalls
		}

		n, drainErr := s.source.Drain(buf.Bytes())
		if n > 0 {
			if first {
				s.metrics.Begin(metrics.PhaseMessage)
				first = false
			}
			s.pool.SubmitJob(bufpool.Job{Buffer: buf, Count: n, Seq: s.seq})
			s.seq += uint64(n)
			s.metrics.Received.Add(uint64(n))
			s.metrics.MessagePasses.Add(1)
			backoff.Reset()
		} else {
			s.pool.Release(buf)
		}

		switch {
		case drainErr == nil:
		case errors.Is(drainErr, io.EOF):
			s.finish()
			return
		case errors.Is(drainErr, channel.ErrProducerTerminated):
			log.Printf("warning: %v, draining %d queued records", drainErr, s.seq)
			s.finish()
			return
		default:
			s.err = fmt.Errorf("draining channel: %w", drainErr)
			return
		}

		if n == 0 {
			if err := backoff.Wait(ctx); err != nil {
				s.err = err
				return
			}
		}
	}
}

func (s *Stream) finish() {
	if s.seq > 0 {
		s.metrics.End(metrics.PhaseMessage)
	}
	if s.verbose >= 1 {
		log.Printf("channel drained: %d records", s.seq)
	}
}
