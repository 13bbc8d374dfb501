package fence

import (
	"sync"
	"sync/atomic"
)

// Bitmap is the LaneFenceBitmap: one 32-bit lane word per (epoch, warp).
// A set bit at (e, w) means that lane of warp w executed the fence whose
// resulting epoch is e.
//
// Rows are published through an atomic pointer, so readers never lock.
// Only growth takes the mutex.
type Bitmap struct {
	warps int
	mu    sync.Mutex
	rows  atomic.Pointer[[]*bitmapRow]
}

type bitmapRow struct {
	words []atomic.Uint32
}

// NewBitmap creates a bitmap for warps warps.
func NewBitmap(warps int) *Bitmap {
	b := &Bitmap{warps: warps}
	rows := make([]*bitmapRow, 0, 64)
	b.rows.Store(&rows)
	return b
}

// Set ORs mask into (epoch, warp) and returns the bits that were newly set.
func (b *Bitmap) Set(epoch int64, warp int, mask uint32) uint32 {
	r := b.row(epoch, true)
	old := r.words[warp].Or(mask)
	return mask &^ old
}

// Test reports whether any bit of mask is set at (epoch, warp).
func (b *Bitmap) Test(epoch int64, warp int, mask uint32) bool {
	r := b.row(epoch, false)
	if r == nil {
		return false
	}
	return r.words[warp].Load()&mask != 0
}

// Word returns the lane word at (epoch, warp).
func (b *Bitmap) Word(epoch int64, warp int) uint32 {
	r := b.row(epoch, false)
	if r == nil {
		return 0
	}
	return r.words[warp].Load()
}

// Epochs returns the number of epoch rows allocated.
func (b *Bitmap) Epochs() int {
	rows := *b.rows.Load()
	n := 0
	for _, r := range rows {
		if r != nil {
			n++
		}
	}
	return n
}

// Bytes returns the memory held by allocated rows.
func (b *Bitmap) Bytes() int {
	return b.Epochs() * b.warps * 4
}

func (b *Bitmap) row(epoch int64, create bool) *bitmapRow {
	if epoch < 0 || b.warps == 0 {
		return nil
	}
	rows := *b.rows.Load()
	if epoch < int64(len(rows)) && rows[epoch] != nil {
		return rows[epoch]
	}
	if !create {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rows = *b.rows.Load()
	if epoch < int64(len(rows)) && rows[epoch] != nil {
		return rows[epoch]
	}

	grown := rows
	if epoch >= int64(len(rows)) {
		size := max(int64(2*len(rows)), epoch+1)
		grown = make([]*bitmapRow, size)
		copy(grown, rows)
	} else {
		grown = append([]*bitmapRow(nil), rows...)
	}
	r := &bitmapRow{words: make([]atomic.Uint32, b.warps)}
	grown[epoch] = r
	b.rows.Store(&grown)
	return r
}
