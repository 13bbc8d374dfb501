// Package eventprocessor decodes pool jobs and routes trace records to the
// analysis state.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│      bufpool job queue                  │
//	└─────────────────┬───────────────────────┘
//	                  │  N workers (errgroup)
//	                  ▼
//	┌─────────────────────────────────────────┐
//	│   eventprocessor                        │  ← Record routing
//	│   - Routes by record type               │
//	│   - Applies interval/allocation/dedup   │
//	└─────────┬───────────────────────────────┘
//	          │
//	          ├──→ MemoryAccess ──→ fence.Tracker.Access
//	          │                      - Backward search for scoped loads
//	          │                      - Forward search for stores
//	          │
//	          ├──→ SyncFence ─────→ fence.Tracker.Fence
//	          │                      - Opens a new epoch
//	          │                      - Binds the epoch in sitemeta
//	          │
//	          ├──→ Allocation ────→ alloc.Tracker
//	          │                      - Records a live range
//	          │
//	          └──→ Unknown tag ───→ corrupt counter
//
// Records within one job are handled in arrival order by one worker. Jobs
// are not ordered across workers; the analysis relies only on epoch ids.
package eventprocessor
