package channel

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"

	"github.com/mrzor/scope-advice/internal/record"
)

// NewRingbufMap creates a BPF ring-buffer map of size bytes for a producer
// program to write records into. size must be a power of two multiple of the
// page size.
func NewRingbufMap(size uint32) (*ebpf.Map, error) {
	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "scope_adv_rb",
		Type:       ebpf.RingBuf,
		MaxEntries: size,
	})
	if err != nil {
		return nil, fmt.Errorf("creating ring buffer map: %w", err)
	}
	return m, nil
}

// OpenPinnedRingbuf opens a source on the ring-buffer map a producer pinned
// at path on a BPF filesystem.
func OpenPinnedRingbuf(path string) (*RingbufSource, error) {
	m, err := ebpf.LoadPinnedMap(path, nil)
	if err != nil {
		return nil, fmt.Errorf("loading pinned map %s: %w", path, err)
	}
	if m.Type() != ebpf.RingBuf {
		_ = m.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("pinned map %s is a %v, want %v", path, m.Type(), ebpf.RingBuf)
	}
	src, err := NewRingbufSource(m)
	if err != nil {
		_ = m.Close() //nolint:errcheck // already failing
		return nil, err
	}
	src.owned = m
	return src, nil
}

// RingbufSource drains records from a BPF ring-buffer map.
type RingbufSource struct {
	owned    *ebpf.Map // closed with the source when set
	reader   *ringbuf.Reader
	rec      ringbuf.Record
	finished atomic.Bool
	short    atomic.Uint64
}

// NewRingbufSource opens a reader on a ring-buffer map.
func NewRingbufSource(m *ebpf.Map) (*RingbufSource, error) {
	rd, err := ringbuf.NewReader(m)
	if err != nil {
		return nil, fmt.Errorf("opening ring buffer: %w", err)
	}
	return &RingbufSource{reader: rd}, nil
}

// Finish records that the producer is done. Drain returns io.EOF once the
// ring is empty afterwards.
func (s *RingbufSource) Finish() {
	s.finished.Store(true)
}

// Short returns how many samples were dropped for being smaller than a record.
func (s *RingbufSource) Short() uint64 {
	return s.short.Load()
}

// Drain implements Source. It polls the ring with an expired deadline so it
// never waits for new samples.
func (s *RingbufSource) Drain(dst []byte) (int, error) {
	limit := record.Count(len(dst))
	s.reader.SetDeadline(time.Now())

	n := 0
	for n < limit {
		if err := s.reader.ReadInto(&s.rec); err != nil {
			switch {
			case errors.Is(err, os.ErrDeadlineExceeded):
				if n == 0 && s.finished.Load() {
					return 0, io.EOF
				}
				return n, nil
			case errors.Is(err, ringbuf.ErrClosed):
				return n, io.EOF
			default:
				return n, fmt.Errorf("reading from ring buffer: %w", err)
			}
		}

		if len(s.rec.RawSample) < record.Size {
			s.short.Add(1)
			continue
		}
		copy(dst[n*record.Size:], s.rec.RawSample[:record.Size])
		n++
	}
	return n, nil
}

// Close releases the reader, and the map if the source opened it.
func (s *RingbufSource) Close() error {
	var errs []error
	if err := s.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing ring buffer: %w", err))
	}
	if s.owned != nil {
		if err := s.owned.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing map: %w", err))
		}
	}
	return errors.Join(errs...)
}
