package tracefile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang/snappy"

	"github.com/mrzor/scope-advice/internal/record"
)

// Reader replays a trace file one kernel at a time.
type Reader struct {
	r *bufio.Reader

	inKernel bool
	left     uint32 // records left in the current chunk
}

// NewReader checks the file header and returns a Reader positioned before
// the first kernel.
func NewReader(r io.Reader) (*Reader, error) {
	tr := &Reader{r: bufio.NewReader(snappy.NewReader(r))}

	var m [len(magic)]byte
	if _, err := io.ReadFull(tr.r, m[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if string(m[:]) != magic {
		return nil, ErrBadMagic
	}
	v, err := tr.u32()
	if err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	if v != version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, v)
	}
	return tr, nil
}

// Next skips what is left of the current kernel and reads the next kernel
// header. It returns io.EOF after the last kernel.
func (r *Reader) Next() (*Header, error) {
	if err := r.Skip(); err != nil {
		return nil, err
	}

	name, err := r.str()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("reading kernel name: %w", err)
	}

	h := &Header{Kernel: name, Sites: map[uint32]string{}}
	if h.Threads, err = r.u64(); err != nil {
		return nil, fmt.Errorf("reading kernel %q header: %w", name, unexpected(err))
	}
	if h.ThreadsPerBlock, err = r.u32(); err != nil {
		return nil, fmt.Errorf("reading kernel %q header: %w", name, unexpected(err))
	}
	if h.StaticInstrumented, err = r.u32(); err != nil {
		return nil, fmt.Errorf("reading kernel %q header: %w", name, unexpected(err))
	}
	instr, err := r.u64()
	if err != nil {
		return nil, fmt.Errorf("reading kernel %q header: %w", name, unexpected(err))
	}
	h.Instrumentation = time.Duration(instr) * time.Microsecond //nolint:gosec // written from a Duration

	sites, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("reading kernel %q header: %w", name, unexpected(err))
	}
	for i := uint32(0); i < sites; i++ {
		id, err := r.u32()
		if err != nil {
			return nil, fmt.Errorf("reading fence site: %w", unexpected(err))
		}
		loc, err := r.str()
		if err != nil {
			return nil, fmt.Errorf("reading fence site %d: %w", id, unexpected(err))
		}
		h.Sites[id] = loc
	}

	r.inKernel = true
	r.left = 0
	return h, nil
}

// Drain implements channel.Source for the current kernel. It returns io.EOF
// at the end of the kernel section.
func (r *Reader) Drain(dst []byte) (int, error) {
	if !r.inKernel {
		return 0, io.EOF
	}
	limit := record.Count(len(dst))
	n := 0
	for n < limit {
		if r.left == 0 {
			count, err := r.u32()
			if err != nil {
				return n, fmt.Errorf("reading chunk: %w", unexpected(err))
			}
			if count == 0 {
				r.inKernel = false
				return n, io.EOF
			}
			r.left = count
		}

		take := min(uint32(limit-n), r.left) //nolint:gosec // limit-n is positive
		end := (n + int(take)) * record.Size
		if _, err := io.ReadFull(r.r, dst[n*record.Size:end]); err != nil {
			return n, fmt.Errorf("reading records: %w", unexpected(err))
		}
		n += int(take)
		r.left -= take
	}
	return n, nil
}

// Skip discards the rest of the current kernel.
func (r *Reader) Skip() error {
	buf := make([]byte, chunkRecords*record.Size)
	for r.inKernel {
		if _, err := r.Drain(buf); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (r *Reader) u32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (r *Reader) u64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func (r *Reader) str() (string, error) {
	var b [2]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return "", err
	}
	s := make([]byte, binary.LittleEndian.Uint16(b[:]))
	if _, err := io.ReadFull(r.r, s); err != nil {
		return "", unexpected(err)
	}
	return string(s), nil
}

// unexpected turns a clean EOF in the middle of a structure into
// io.ErrUnexpectedEOF.
func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
