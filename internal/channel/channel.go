// Package channel defines the device-to-host record channel the analysis
// drains, and provides its implementations.
//
// A Source never blocks in Drain: it copies whatever records are ready and
// returns. The single reader goroutine in eventstream owns the Source.
//
//   - Ring: an in-process bounded ring. Push blocks while the ring is full,
//     so back-pressure reaches the producer.
//   - RingbufSource: a BPF ring-buffer map read through cilium/ebpf.
//   - tracefile.Reader: a captured trace replayed from disk.
package channel

import (
	"errors"
)

// ErrProducerTerminated is returned by Drain once every buffered record has
// been handed out but the producer stopped without an end-of-stream marker.
var ErrProducerTerminated = errors.New("producer terminated without end-of-stream marker")

// ErrClosed is returned by Push after the ring was closed.
var ErrClosed = errors.New("channel closed")

// Source is the consumer side of a record channel.
type Source interface {
	// Drain copies up to record.Count(len(dst)) ready records into dst and
	// returns how many were copied. It returns io.EOF once the producer has
	// finished and the channel is empty.
	Drain(dst []byte) (int, error)
}
