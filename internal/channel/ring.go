package channel

import (
	"context"
	"fmt"
	"io"

	"github.com/mrzor/scope-advice/internal/record"
)

// Ring is a bounded single-producer record channel.
// Push, Close and Abort must be called from the producer goroutine.
type Ring struct {
	ch     chan [record.Size]byte
	closed bool
	cause  error
}

// NewRing creates a ring holding up to capacity records.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		ch: make(chan [record.Size]byte, capacity),
	}
}

// Push appends a record, blocking while the ring is full.
func (r *Ring) Push(ctx context.Context, rec [record.Size]byte) error {
	if r.closed {
		return ErrClosed
	}
	select {
	case r.ch <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the end of the stream. Records already pushed stay drainable.
func (r *Ring) Close() {
	if r.closed {
		return
	}
	r.closed = true
	close(r.ch)
}

// Abort ends the stream without an end-of-stream marker. Drain reports
// ErrProducerTerminated after the remaining records are consumed.
func (r *Ring) Abort(cause error) {
	if r.closed {
		return
	}
	if cause == nil {
		cause = fmt.Errorf("aborted")
	}
	// Written before close, so the consumer observes it after the channel closes.
	r.cause = cause
	r.closed = true
	close(r.ch)
}

// Len returns the number of buffered records.
func (r *Ring) Len() int {
	return len(r.ch)
}

// Drain implements Source.
func (r *Ring) Drain(dst []byte) (int, error) {
	limit := record.Count(len(dst))
	n := 0
	for n < limit {
		select {
		case rec, ok := <-r.ch:
			if !ok {
				if r.cause != nil {
					return n, fmt.Errorf("%w: %v", ErrProducerTerminated, r.cause)
				}
				return n, io.EOF
			}
			copy(dst[n*record.Size:], rec[:])
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}
