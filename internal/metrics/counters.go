package metrics

// Counters is a snapshot of the pipeline counters.
type Counters struct {
	StaticInstrumented uint64
	Received           uint64 // records of any kind read from the channel
	Packets            uint64 // memory access records processed
	MessagePasses      uint64 // non-empty drains of the channel
	Fences             uint64
	Allocations        uint64
	Corrupt            uint64 // records with an unknown tag
	Filtered           uint64 // accesses outside every allocation
	Deduped            uint64
	OutOfInterval      uint64
	Rejected           uint64 // records whose thread lies outside the launch
	Stalls             uint64
	UnfencedLoads      uint64
	UnfencedStores     uint64
	AllocOverflows     uint64 // allocations refused once the range table was full
	DedupDropped       uint64 // keys refused or evicted by the de-duplication set
}

// Counters snapshots the counters owned by the tracker. Stalls, unfenced,
// overflow and dedup counts belong to other components and are filled by
// the caller.
func (t *Tracker) Counters() Counters {
	return Counters{
		StaticInstrumented: t.StaticInstrumented.Load(),
		Received:           t.Received.Load(),
		Packets:            t.Packets.Load(),
		MessagePasses:      t.MessagePasses.Load(),
		Fences:             t.Fences.Load(),
		Allocations:        t.Allocations.Load(),
		Corrupt:            t.Corrupt.Load(),
		Filtered:           t.Filtered.Load(),
		Deduped:            t.Deduped.Load(),
		OutOfInterval:      t.OutOfInterval.Load(),
		Rejected:           t.Rejected.Load(),
	}
}
