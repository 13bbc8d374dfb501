package tracefile

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/scope-advice/internal/channel"
	"github.com/mrzor/scope-advice/internal/record"
)

var _ channel.Source = (*Reader)(nil)

func fenceRec(i int) [record.Size]byte {
	return record.SyncFence{ThreadID: uint64(i), FenceID: uint32(i % 7)}.Encode()
}

func writeTrace(t *testing.T, kernels map[string]int, order []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	for _, name := range order {
		require.NoError(t, w.BeginKernel(Header{
			Kernel:             name,
			Threads:            1024,
			ThreadsPerBlock:    128,
			StaticInstrumented: 42,
			Instrumentation:    1500 * time.Microsecond,
			Sites:              map[uint32]string{2: "k.cu:20", 1: "k.cu:10"},
		}))
		for i := 0; i < kernels[name]; i++ {
			require.NoError(t, w.Write(fenceRec(i)))
		}
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func drainAll(t *testing.T, src channel.Source, bufRecords int) []uint64 {
	t.Helper()
	buf := make([]byte, bufRecords*record.Size)
	var ids []uint64
	for {
		n, err := src.Drain(buf)
		for i := 0; i < n; i++ {
			f, ok := record.At(buf, i).SyncFence()
			require.True(t, ok)
			ids = append(ids, f.ThreadID)
		}
		if errors.Is(err, io.EOF) {
			return ids
		}
		require.NoError(t, err)
	}
}

func TestRoundTrip(t *testing.T) {
	data := writeTrace(t, map[string]int{"reduce": 2500, "scan": 3}, []string{"reduce", "scan"})

	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)

	h, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "reduce", h.Kernel)
	assert.Equal(t, uint64(1024), h.Threads)
	assert.Equal(t, uint32(128), h.ThreadsPerBlock)
	assert.Equal(t, uint32(42), h.StaticInstrumented)
	assert.Equal(t, 1500*time.Microsecond, h.Instrumentation)
	assert.Equal(t, map[uint32]string{1: "k.cu:10", 2: "k.cu:20"}, h.Sites)

	ids := drainAll(t, r, 300)
	require.Len(t, ids, 2500)
	for i, id := range ids {
		assert.Equal(t, uint64(i), id)
	}

	h, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "scan", h.Kernel)
	assert.Len(t, drainAll(t, r, 1), 3)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestNextSkipsUnreadRecords(t *testing.T) {
	data := writeTrace(t, map[string]int{"a": 5000, "b": 1}, []string{"a", "b"})
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)

	_, err = r.Next()
	require.NoError(t, err)
	buf := make([]byte, 10*record.Size)
	n, err := r.Drain(buf)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	h, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", h.Kernel)
	assert.Equal(t, []uint64{0}, drainAll(t, r, 4))
}

func TestEmptyKernel(t *testing.T) {
	data := writeTrace(t, map[string]int{"empty": 0}, []string{"empty"})
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	_, err = r.Next()
	require.NoError(t, err)

	n, err := r.Drain(make([]byte, record.Size))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDrainBeforeNext(t *testing.T) {
	data := writeTrace(t, map[string]int{"k": 1}, []string{"k"})
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	_, err = r.Drain(make([]byte, record.Size))
	assert.ErrorIs(t, err, io.EOF)
}

func TestBadInput(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte("definitely not snappy")))
	assert.ErrorIs(t, err, ErrBadMagic)

	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	data := buf.Bytes()

	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF, "a file without kernels is valid")
}

func TestTruncated(t *testing.T) {
	var raw bytes.Buffer
	w, err := NewWriter(&raw)
	require.NoError(t, err)
	require.NoError(t, w.BeginKernel(Header{Kernel: "k", Threads: 32, ThreadsPerBlock: 32}))
	for i := 0; i < 10; i++ {
		require.NoError(t, w.Write(fenceRec(i)))
	}
	// flush the chunk without the terminator
	require.NoError(t, w.flushChunk())
	require.NoError(t, w.zw.Close())

	r, err := NewReader(bytes.NewReader(raw.Bytes()))
	require.NoError(t, err)
	_, err = r.Next()
	require.NoError(t, err)

	buf := make([]byte, 20*record.Size)
	n, err := r.Drain(buf)
	assert.Equal(t, 10, n)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestWriteWithoutKernel(t *testing.T) {
	w, err := NewWriter(io.Discard)
	require.NoError(t, err)
	assert.Error(t, w.Write(fenceRec(0)))
}

func TestVersionMismatch(t *testing.T) {
	var buf bytes.Buffer
	zw := snappy.NewBufferedWriter(&buf)
	_, err := zw.Write(append([]byte(magic), 9, 0, 0, 0))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = NewReader(&buf)
	assert.ErrorIs(t, err, ErrVersion)
}
