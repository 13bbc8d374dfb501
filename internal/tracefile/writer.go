package tracefile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/golang/snappy"

	"github.com/mrzor/scope-advice/internal/record"
)

// Writer writes a trace file.
type Writer struct {
	zw    *snappy.Writer
	chunk []byte
	open  bool
	err   error
}

// NewWriter starts a trace file on w. Close must be called to flush it.
func NewWriter(w io.Writer) (*Writer, error) {
	tw := &Writer{
		zw:    snappy.NewBufferedWriter(w),
		chunk: make([]byte, 0, chunkRecords*record.Size),
	}
	tw.write([]byte(magic))
	tw.u32(version)
	if tw.err != nil {
		return nil, fmt.Errorf("writing trace header: %w", tw.err)
	}
	return tw, nil
}

// BeginKernel starts a kernel section, ending the previous one if needed.
func (w *Writer) BeginKernel(h Header) error {
	if w.open {
		if err := w.EndKernel(); err != nil {
			return err
		}
	}
	if len(h.Kernel) > math.MaxUint16 {
		return fmt.Errorf("kernel name too long: %d bytes", len(h.Kernel))
	}

	w.str(h.Kernel)
	w.u64(h.Threads)
	w.u32(h.ThreadsPerBlock)
	w.u32(h.StaticInstrumented)
	w.u64(uint64(h.Instrumentation.Microseconds())) //nolint:gosec // durations are positive

	ids := make([]uint32, 0, len(h.Sites))
	for id := range h.Sites {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	w.u32(uint32(len(ids))) //nolint:gosec // site counts fit in u32
	for _, id := range ids {
		w.u32(id)
		w.str(h.Sites[id])
	}

	if w.err != nil {
		return fmt.Errorf("writing kernel header: %w", w.err)
	}
	w.open = true
	return nil
}

// Write appends one record to the open kernel section.
func (w *Writer) Write(rec [record.Size]byte) error {
	if !w.open {
		return errors.New("no kernel section open")
	}
	w.chunk = append(w.chunk, rec[:]...)
	if len(w.chunk) == cap(w.chunk) {
		return w.flushChunk()
	}
	return nil
}

// EndKernel terminates the open kernel section.
func (w *Writer) EndKernel() error {
	if !w.open {
		return nil
	}
	if err := w.flushChunk(); err != nil {
		return err
	}
	w.u32(0)
	w.open = false
	if w.err != nil {
		return fmt.Errorf("ending kernel section: %w", w.err)
	}
	return nil
}

// Close ends the open kernel section and flushes the stream. It does not
// close the underlying writer.
func (w *Writer) Close() error {
	return errors.Join(w.EndKernel(), w.zw.Close())
}

func (w *Writer) flushChunk() error {
	if len(w.chunk) == 0 {
		return nil
	}
	w.u32(uint32(len(w.chunk) / record.Size)) //nolint:gosec // bounded by chunkRecords
	w.write(w.chunk)
	w.chunk = w.chunk[:0]
	if w.err != nil {
		return fmt.Errorf("writing records: %w", w.err)
	}
	return nil
}

func (w *Writer) write(b []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.zw.Write(b)
}

func (w *Writer) u32(v uint32) {
	w.write(binary.LittleEndian.AppendUint32(nil, v))
}

func (w *Writer) u64(v uint64) {
	w.write(binary.LittleEndian.AppendUint64(nil, v))
}

func (w *Writer) str(s string) {
	w.write(binary.LittleEndian.AppendUint16(nil, uint16(len(s)))) //nolint:gosec // checked by callers
	w.write([]byte(s))
}
