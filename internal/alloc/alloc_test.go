package alloc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_FilteringStartsWithFirstRange(t *testing.T) {
	tr := NewTracker(4)
	assert.True(t, tr.IsTracked(0xdead), "no ranges means no filtering")

	require.True(t, tr.Record(0x1000, 0x2000))
	tests := []struct {
		addr uint64
		want bool
	}{
		{0x0fff, false},
		{0x1000, true},
		{0x1fff, true},
		{0x2000, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tr.IsTracked(tt.addr), "addr %#x", tt.addr)
	}
	assert.Equal(t, uint64(0x1000), tr.AppBytes())
}

func TestTracker_RejectsEmptyRange(t *testing.T) {
	tr := NewTracker(0)
	assert.False(t, tr.Record(0x10, 0x10))
	assert.False(t, tr.Record(0x20, 0x10))
	assert.Zero(t, tr.Len())
	assert.Zero(t, tr.Overflows())
}

func TestTracker_OverflowDegrades(t *testing.T) {
	tr := NewTracker(1)
	require.True(t, tr.Record(0x1000, 0x1100))
	assert.False(t, tr.IsTracked(0x5000))

	assert.False(t, tr.Record(0x5000, 0x5100))
	assert.Equal(t, uint64(1), tr.Overflows())
	assert.True(t, tr.IsTracked(0x9000), "overflow turns filtering off")
	assert.Equal(t, 1, tr.Len())

	tr.Reset()
	assert.Zero(t, tr.Len())
	assert.Zero(t, tr.Overflows())
	assert.Empty(t, tr.Ranges())
}

func TestTracker_ConcurrentRecordAndLookup(t *testing.T) {
	tr := NewTracker(0)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				base := uint64(w*100+i) * 0x100
				tr.Record(base, base+0x10)
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tr.IsTracked(uint64(i) * 0x100)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 400, tr.Len())
	assert.True(t, tr.IsTracked(0x105))
	assert.False(t, tr.IsTracked(0x185))
}

func TestNewDeduper(t *testing.T) {
	tests := []struct {
		policy  string
		wantErr bool
	}{
		{"", false},
		{PolicyBounded, false},
		{PolicyLRU, false},
		{"fifo", true},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			d, err := NewDeduper(tt.policy, 8)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.False(t, d.Seen(Key{Addr: 1}))
			assert.True(t, d.Seen(Key{Addr: 1}))
			assert.False(t, d.Seen(Key{Addr: 1, Info: 2}))
			assert.Equal(t, 2, d.Len())
		})
	}

	_, err := NewDeduper(PolicyBounded, 0)
	assert.Error(t, err)
}

func TestBoundedSet_RefusesWhenFull(t *testing.T) {
	s := NewBoundedSet(2)
	assert.False(t, s.Seen(Key{Addr: 1}))
	assert.False(t, s.Seen(Key{Addr: 2}))
	assert.False(t, s.Seen(Key{Addr: 3}))
	assert.False(t, s.Seen(Key{Addr: 3}), "refused keys are never remembered")

	assert.True(t, s.Seen(Key{Addr: 1}))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, uint64(2), s.Dropped())
}

func TestLRUSet_EvictsOldest(t *testing.T) {
	s, err := NewLRUSet(2)
	require.NoError(t, err)

	assert.False(t, s.Seen(Key{Addr: 1}))
	assert.False(t, s.Seen(Key{Addr: 2}))
	assert.True(t, s.Seen(Key{Addr: 1}))
	assert.False(t, s.Seen(Key{Addr: 3}))

	assert.True(t, s.Seen(Key{Addr: 1}))
	assert.False(t, s.Seen(Key{Addr: 2}), "2 was least recently seen")
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, uint64(2), s.Dropped())
}
