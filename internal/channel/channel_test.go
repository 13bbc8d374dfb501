package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/scope-advice/internal/record"
)

func fence(id uint32) [record.Size]byte {
	return record.SyncFence{ThreadID: 0, Mask: 1, FenceID: id}.Encode()
}

func TestRing_DrainInOrder(t *testing.T) {
	r := NewRing(8)
	ctx := context.Background()
	for i := uint32(1); i <= 3; i++ {
		require.NoError(t, r.Push(ctx, fence(i)))
	}

	dst := make([]byte, 2*record.Size)
	n, err := r.Drain(dst)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	f, ok := record.At(dst, 0).SyncFence()
	require.True(t, ok)
	assert.Equal(t, uint32(1), f.FenceID)
	f, _ = record.At(dst, 1).SyncFence()
	assert.Equal(t, uint32(2), f.FenceID)

	n, err = r.Drain(dst)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = r.Drain(dst)
	require.NoError(t, err, "empty open ring is not EOF")
	assert.Equal(t, 0, n)
}

func TestRing_CloseDrainsThenEOF(t *testing.T) {
	r := NewRing(4)
	require.NoError(t, r.Push(context.Background(), fence(1)))
	r.Close()

	assert.ErrorIs(t, r.Push(context.Background(), fence(2)), ErrClosed)

	dst := make([]byte, 4*record.Size)
	n, err := r.Drain(dst)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestRing_AbortReportsTermination(t *testing.T) {
	r := NewRing(4)
	require.NoError(t, r.Push(context.Background(), fence(1)))
	r.Abort(errors.New("device reset"))

	dst := make([]byte, record.Size)
	n, err := r.Drain(dst)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = r.Drain(dst)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, ErrProducerTerminated)
	assert.Contains(t, err.Error(), "device reset")
}

func TestRing_PushBlocksWhenFull(t *testing.T) {
	r := NewRing(1)
	require.NoError(t, r.Push(context.Background(), fence(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Push(ctx, fence(2))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, r.Len())
}

func TestRingbufSource_FinishedEmptyIsEOF(t *testing.T) {
	m, err := NewRingbufMap(4096)
	if err != nil {
		t.Skipf("ring buffer maps unavailable: %v", err)
	}
	defer func() {
		_ = m.Close() //nolint:errcheck // test cleanup
	}()

	src, err := NewRingbufSource(m)
	require.NoError(t, err)
	defer func() {
		_ = src.Close() //nolint:errcheck // test cleanup
	}()

	dst := make([]byte, 4*record.Size)
	n, err := src.Drain(dst)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	src.Finish()
	_, err = src.Drain(dst)
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpenPinnedRingbuf_Errors(t *testing.T) {
	_, err := OpenPinnedRingbuf(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	m, err := NewRingbufMap(4096)
	if err != nil {
		t.Skipf("ring buffer maps unavailable: %v", err)
	}
	defer func() {
		_ = m.Close() //nolint:errcheck // test cleanup
	}()
	pin := filepath.Join("/sys/fs/bpf", fmt.Sprintf("scope_adv_test_%d", os.Getpid()))
	if err := m.Pin(pin); err != nil {
		t.Skipf("bpffs unavailable: %v", err)
	}
	defer func() {
		_ = m.Unpin() //nolint:errcheck // test cleanup
	}()

	src, err := OpenPinnedRingbuf(pin)
	require.NoError(t, err)
	src.Finish()
	_, err = src.Drain(make([]byte, record.Size))
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, src.Close())
}
