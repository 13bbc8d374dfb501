package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"

	"github.com/mrzor/scope-advice/internal/alloc"
	"github.com/mrzor/scope-advice/internal/bufpool"
	"github.com/mrzor/scope-advice/internal/channel"
	"github.com/mrzor/scope-advice/internal/config"
	"github.com/mrzor/scope-advice/internal/eventprocessor"
	"github.com/mrzor/scope-advice/internal/eventstream"
	"github.com/mrzor/scope-advice/internal/fence"
	"github.com/mrzor/scope-advice/internal/metrics"
	"github.com/mrzor/scope-advice/internal/sitemeta"
)

// ErrNotStopped is returned by the queries that need a finished analysis.
var ErrNotStopped = errors.New("analysis still running")

const keyBytes = 16 // alloc.Key

// Session is the analysis context of one kernel invocation.
type Session struct {
	kernel Kernel
	opts   config.Options

	tracker   *fence.Tracker
	sites     *sitemeta.Manager
	allocs    *alloc.Tracker
	dedup     alloc.Deduper
	metrics   *metrics.Tracker
	pool      *bufpool.Pool
	stream    *eventstream.Stream
	processor *eventprocessor.Processor

	cancel context.CancelFunc
	done   chan struct{}
	err    error

	stopOnce sync.Once
	report   *Report
}

// Start builds the analysis context for kernel and starts draining src.
// The returned session runs until src is exhausted or ctx is cancelled;
// Stop collects the result.
func Start(ctx context.Context, opts config.Options, kernel Kernel, src channel.Source) (*Session, error) {
	m := metrics.New()
	m.Add(metrics.PhaseInstrumentation, kernel.Instrumentation)
	m.StaticInstrumented.Store(uint64(kernel.StaticInstrumented))
	m.Begin(metrics.PhaseSetup)

	geom, err := fence.NewGeometry(kernel.Threads, kernel.ThreadsPerBlock)
	if err != nil {
		return nil, fmt.Errorf("kernel %s: %w", kernel.Name, err)
	}

	var dedup alloc.Deduper
	if opts.Dedup() {
		dedup, err = alloc.NewDeduper(opts.DedupPolicy, opts.DedupCapacity)
		if err != nil {
			return nil, fmt.Errorf("creating de-duplication set: %w", err)
		}
	}

	sites := sitemeta.NewManager()
	for id, loc := range kernel.Sites {
		sites.SetLocation(id, loc)
	}

	s := &Session{
		kernel:  kernel,
		opts:    opts,
		tracker: fence.NewTracker(geom, opts.Coarse),
		sites:   sites,
		allocs:  alloc.NewTracker(opts.MaxAllocations),
		dedup:   dedup,
		metrics: m,
		pool:    bufpool.New(opts.NumBuffers, opts.BufferRecords, opts.StallTimeout),
		done:    make(chan struct{}),
	}
	s.stream = eventstream.New(src, s.pool, m, opts.Verbose)
	s.processor = eventprocessor.NewProcessor(s.tracker, s.sites, s.allocs, s.dedup, m,
		eventprocessor.Options{
			Interval:          eventprocessor.Interval{Begin: opts.InstrBegin, End: opts.InstrEnd},
			FilterAllocations: opts.FilterAllocations,
		})
	m.End(metrics.PhaseSetup)

	if opts.Verbose >= 1 {
		log.Printf("analyzing kernel %s: %d threads, %d per block, %d warps, %d workers",
			kernel.Name, geom.Threads, geom.ThreadsPerBlock, geom.WarpsInGrid, opts.Workers)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	workers := make(chan error, 1)
	m.Begin(metrics.PhaseKernel)
	if err := s.stream.Start(ctx); err != nil {
		s.cancel()
		return nil, fmt.Errorf("starting stream: %w", err)
	}
	go func() {
		workers <- s.processor.Run(ctx, s.pool, opts.Workers, opts.Verbose)
	}()
	go s.monitor(workers)
	return s, nil
}

// monitor times the kernel and detection phases. Detection is the tail of
// the processing left once the channel is exhausted.
func (s *Session) monitor(workers <-chan error) {
	defer close(s.done)

	<-s.stream.Done()
	s.metrics.End(metrics.PhaseKernel)
	s.metrics.Begin(metrics.PhaseDetection)

	werr := <-workers
	s.metrics.End(metrics.PhaseDetection)
	s.err = errors.Join(s.stream.Wait(), werr)
}

// Done is closed once every record has been processed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Kernel returns the analyzed invocation.
func (s *Session) Kernel() Kernel {
	return s.kernel
}

// Tracker exposes the fence tracker.
func (s *Session) Tracker() *fence.Tracker {
	return s.tracker
}

// Stop waits until the channel is exhausted and every queued record has
// been processed, then classifies the fences. It returns the report even
// when the pipeline failed; the error tells why it is partial.
func (s *Session) Stop() (*Report, error) {
	s.stopOnce.Do(func() {
		<-s.done
		s.cancel()
		s.report = s.buildReport()
		if s.opts.Verbose >= 1 {
			log.Printf("kernel %s done: %d records, %d fences, %d removable",
				s.kernel.Name, s.report.Counters.Received, len(s.report.Fences), len(s.report.Removable()))
		}
	})
	return s.report, s.err
}

// Abort stops reading the channel and waits for the queued records to be
// processed.
func (s *Session) Abort() (*Report, error) {
	if err := s.stream.Stop(); err != nil {
		return nil, err
	}
	return s.Stop()
}

func (s *Session) buildReport() *Report {
	s.tracker.Resolve()
	c := s.Counters()

	mem := metrics.Memory{
		App:   s.allocs.AppBytes(),
		Meta:  uint64(s.pool.Bytes()),    //nolint:gosec // sizes are positive
		Fence: uint64(s.tracker.Bytes()), //nolint:gosec // sizes are positive
	}
	if s.dedup != nil {
		mem.Sampling = uint64(s.dedup.Len()) * keyBytes //nolint:gosec // sizes are positive
	}
	s.metrics.SetMemory(mem)

	results := s.tracker.Classify()
	fences := make([]FenceReport, 0, len(results))
	for _, r := range results {
		fences = append(fences, s.fenceReport(r))
	}

	return &Report{
		Kernel:   s.kernel,
		Coarse:   s.tracker.Coarse(),
		Counters: c,
		Timings:  s.metrics.Timings(),
		Memory:   mem,
		Latency:  s.metrics.JobLatency(),
		Fences:   fences,
		Issues:   s.sites.Issues(),
	}
}

func (s *Session) fenceReport(r fence.Result) FenceReport {
	id, bound := s.sites.FenceID(r.Epoch)
	return FenceReport{
		Result:   r,
		FenceID:  id,
		Bound:    bound,
		Location: s.sites.Location(r.Epoch),
	}
}

// Counters returns the pipeline counters so far. Unfenced counts are only
// complete after Stop.
func (s *Session) Counters() metrics.Counters {
	c := s.metrics.Counters()
	c.Stalls = s.pool.Stalls()
	c.UnfencedLoads = s.tracker.UnfencedLoads()
	c.UnfencedStores = s.tracker.UnfencedStores()
	c.AllocOverflows = s.allocs.Overflows()
	if s.dedup != nil {
		c.DedupDropped = s.dedup.Dropped()
	}
	return c
}

// Timings returns the phase timings so far, in milliseconds.
func (s *Session) Timings() metrics.Timings {
	return s.metrics.Timings()
}

// MemoryOverhead returns the memory footprint computed by Stop.
func (s *Session) MemoryOverhead() (metrics.Memory, error) {
	if s.report == nil {
		return metrics.Memory{}, ErrNotStopped
	}
	return s.report.Memory, nil
}

// Classification returns the verdict on the fence that opened epoch.
func (s *Session) Classification(epoch int64) (FenceReport, error) {
	if s.report == nil {
		return FenceReport{}, ErrNotStopped
	}
	r, ok := s.report.Fence(epoch)
	if !ok {
		return FenceReport{}, fmt.Errorf("no fence opened epoch %d", epoch)
	}
	return r, nil
}

// ClassificationsForSite returns the verdicts on every execution of the
// static fence fenceID, in epoch order.
func (s *Session) ClassificationsForSite(fenceID uint32) ([]FenceReport, error) {
	if s.report == nil {
		return nil, ErrNotStopped
	}
	epochs := s.sites.Epochs(fenceID)
	slices.Sort(epochs)
	var out []FenceReport
	for _, e := range epochs {
		if r, ok := s.report.Fence(e); ok {
			out = append(out, r)
		}
	}
	return out, nil
}
