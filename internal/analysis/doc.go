// Package analysis owns the state of one kernel invocation.
//
// A Session is the analysis context: it is built when a kernel starts,
// owns every shared table the pipeline mutates (fence tracker, site
// metadata, allocation ranges, de-duplication set, metrics, buffer pool)
// and is discarded when the kernel has been fully processed. Nothing is
// global, so two sessions never alias state.
//
//	Source ─▶ eventstream.Stream ─▶ bufpool.Pool ─▶ eventprocessor workers
//	                                                 │
//	                         fence.Tracker ◀─────────┼─▶ alloc.Tracker
//	                                                 └─▶ sitemeta.Manager
//
// Stop waits for the stream and the workers, then classifies every fence
// and freezes the figures into a Report.
package analysis
