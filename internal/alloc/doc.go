// Package alloc tracks the device allocations of the analyzed kernel and
// de-duplicates repeated memory accesses.
//
// Tracker holds the live allocation ranges. Filtering only engages once at
// least one range is recorded, and it degrades to "track everything" once
// the range capacity is exceeded, so overflow never hides accesses.
//
// A Deduper remembers accesses that were already classified. Two policies
// exist:
//
//   - bounded: a set that stops growing at capacity (best effort)
//   - lru: a github.com/hashicorp/golang-lru cache that evicts the least
//     recently seen access
package alloc
