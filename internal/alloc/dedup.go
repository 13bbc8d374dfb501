package alloc

import (
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
)

// Policies accepted by NewDeduper.
const (
	PolicyBounded = "bounded"
	PolicyLRU     = "lru"
)

// DefaultCapacity is the default number of remembered accesses.
const DefaultCapacity = 20000

// Key identifies a memory access for de-duplication. The packed info word
// carries the thread, the epoch, the scope and the operation kind, so two
// accesses with the same key have the same effect on the fence tracker.
type Key struct {
	Addr uint64
	Info uint64
}

// Deduper remembers accesses that were already processed.
type Deduper interface {
	// Seen reports whether k was seen before, remembering it if not.
	Seen(k Key) bool
	Len() int
	// Dropped counts keys that are no longer (or never were) remembered.
	Dropped() uint64
}

// NewDeduper builds the de-duplication set for a policy.
func NewDeduper(policy string, capacity int) (Deduper, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("dedup capacity must be positive, got %d", capacity)
	}
	switch policy {
	case PolicyBounded, "":
		return NewBoundedSet(capacity), nil
	case PolicyLRU:
		return NewLRUSet(capacity)
	default:
		return nil, fmt.Errorf("unknown dedup policy %q", policy)
	}
}

// BoundedSet stops remembering new keys once it holds capacity keys.
type BoundedSet struct {
	capacity int

	mu   sync.Mutex
	seen map[Key]struct{}

	refused atomic.Uint64
}

// NewBoundedSet creates a set of at most capacity keys.
func NewBoundedSet(capacity int) *BoundedSet {
	return &BoundedSet{
		capacity: capacity,
		seen:     make(map[Key]struct{}, min(capacity, 1024)),
	}
}

func (s *BoundedSet) Seen(k Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[k]; ok {
		return true
	}
	if len(s.seen) >= s.capacity {
		s.refused.Add(1)
		return false
	}
	s.seen[k] = struct{}{}
	return false
}

func (s *BoundedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *BoundedSet) Dropped() uint64 { return s.refused.Load() }

// LRUSet evicts the least recently seen key when full.
type LRUSet struct {
	cache   *lru.Cache
	evicted atomic.Uint64
}

// NewLRUSet creates an LRU set of capacity keys.
func NewLRUSet(capacity int) (*LRUSet, error) {
	s := &LRUSet{}
	c, err := lru.NewWithEvict(capacity, func(_, _ interface{}) {
		s.evicted.Add(1)
	})
	if err != nil {
		return nil, fmt.Errorf("creating lru cache: %w", err)
	}
	s.cache = c
	return s, nil
}

func (s *LRUSet) Seen(k Key) bool {
	ok, _ := s.cache.ContainsOrAdd(k, struct{}{})
	if ok {
		// refresh recency
		s.cache.Get(k)
	}
	return ok
}

func (s *LRUSet) Len() int { return s.cache.Len() }

func (s *LRUSet) Dropped() uint64 { return s.evicted.Load() }
