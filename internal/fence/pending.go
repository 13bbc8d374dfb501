package fence

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
)

// laneSet is a sparse set of (epoch, warp, lane) triples. Access epochs
// come from the record and may be far ahead of any fence, so rows are kept
// only for epochs that were touched.
type laneSet struct {
	warps int
	rows  sync.Map // int64 -> []atomic.Uint32
	n     atomic.Int64
}

type laneRow struct {
	epoch int64
	words []atomic.Uint32
}

func newLaneSet(warps int) *laneSet {
	return &laneSet{warps: warps}
}

// add ORs bit into (epoch, warp) and reports whether it was new.
func (s *laneSet) add(epoch int64, warp int, bit uint32) bool {
	v, ok := s.rows.Load(epoch)
	if !ok {
		var loaded bool
		v, loaded = s.rows.LoadOrStore(epoch, make([]atomic.Uint32, s.warps))
		if !loaded {
			s.n.Add(1)
		}
	}
	words := v.([]atomic.Uint32)
	return words[warp].Or(bit)&bit == 0
}

// sorted returns the rows in ascending epoch order.
func (s *laneSet) sorted() []laneRow {
	var rows []laneRow
	s.rows.Range(func(k, v any) bool {
		rows = append(rows, laneRow{epoch: k.(int64), words: v.([]atomic.Uint32)})
		return true
	})
	slices.SortFunc(rows, func(a, b laneRow) int { return cmp.Compare(a.epoch, b.epoch) })
	return rows
}

func (s *laneSet) bytes() int {
	return int(s.n.Load()) * s.warps * 4
}
