package output

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/mrzor/scope-advice/internal/analysis"
	"github.com/mrzor/scope-advice/internal/attributes"
)

// ReportHandler is the interface for handling finished kernel reports.
type ReportHandler interface {
	HandleReport(rep *analysis.Report) error
}

// Tee hands every report to each handler in turn.
type Tee []ReportHandler

// HandleReport implements ReportHandler. Every handler runs even when an
// earlier one failed.
func (t Tee) HandleReport(rep *analysis.Report) error {
	var errs []error
	for _, h := range t {
		if err := h.HandleReport(rep); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FenceFacts builds the expression facts of one fence verdict.
func FenceFacts(rep *analysis.Report, f analysis.FenceReport) *attributes.FenceFacts {
	return &attributes.FenceFacts{
		Kernel:    rep.Kernel.Name,
		Epoch:     f.Epoch,
		FenceID:   f.FenceID,
		Location:  f.Location,
		Type:      f.Class.String(),
		Ops:       f.Ops.String(),
		NextOps:   f.NextOps.String(),
		Removable: f.Class.Removable(),
	}
}

// KernelFacts builds the expression facts of one kernel report.
func KernelFacts(rep *analysis.Report, input string, environ map[string]string) *attributes.KernelFacts {
	return &attributes.KernelFacts{
		Kernel:          rep.Kernel.Name,
		Input:           input,
		Threads:         rep.Kernel.Threads,
		ThreadsPerBlock: rep.Kernel.ThreadsPerBlock,
		Fences:          len(rep.Fences),
		Removable:       len(rep.Removable()),
		Environ:         environ,
	}
}

// Advice selects the fences worth reporting: removable ones that pass the
// filter. Filter failures are logged and the fence is kept.
func Advice(rep *analysis.Report, filter *attributes.Filter) []analysis.FenceReport {
	var out []analysis.FenceReport
	for _, f := range rep.Fences {
		if !f.Class.Removable() {
			continue
		}
		ok, err := filter.Match(FenceFacts(rep, f))
		if err != nil {
			log.Printf("warning: %v", err)
			ok = true
		}
		if ok {
			out = append(out, f)
		}
	}
	return out
}

// FenceLine formats one verdict.
func FenceLine(f analysis.FenceReport) string {
	return fmt.Sprintf("Fence@%s | Epoch: %d | Info: %s/%s | Type: %s",
		f.Location, f.Epoch, f.Ops, f.NextOps, f.Class)
}

// TextFormatter prints reports as text.
type TextFormatter struct {
	w       io.Writer
	filter  *attributes.Filter
	verbose int
}

// NewTextFormatter creates a TextFormatter writing to w. filter may be nil.
func NewTextFormatter(w io.Writer, filter *attributes.Filter, verbose int) *TextFormatter {
	return &TextFormatter{w: w, filter: filter, verbose: verbose}
}

// HandleReport implements ReportHandler.
func (f *TextFormatter) HandleReport(rep *analysis.Report) error {
	p := &printer{w: f.w}

	p.printf("========== KERNEL %s ==========\n", rep.Kernel.Name)
	for _, fr := range Advice(rep, f.filter) {
		p.printf("%s\n", FenceLine(fr))
	}
	for _, issue := range rep.Issues {
		p.printf("warning: %s\n", issue)
	}

	c := rep.Counters
	p.printf("========== COUNTERS =============\n")
	p.printf("Static Instrumented Instructions: %d\n", c.StaticInstrumented)
	p.printf("Memory packets: %d\n", c.Packets)
	p.printf("GPU-CPU message passes: %d\n", c.MessagePasses)
	if f.verbose >= 1 {
		p.printf("Records received: %d\n", c.Received)
		p.printf("Fences: %d\n", c.Fences)
		p.printf("Allocations: %d\n", c.Allocations)
		p.printf("Corrupt records: %d\n", c.Corrupt)
		p.printf("Filtered / deduplicated / out of interval: %d / %d / %d\n", c.Filtered, c.Deduped, c.OutOfInterval)
		p.printf("Rejected records: %d\n", c.Rejected)
		p.printf("Unfenced loads / stores: %d / %d\n", c.UnfencedLoads, c.UnfencedStores)
		p.printf("Buffer pool stalls: %d\n", c.Stalls)
		p.printf("Allocation overflows: %d\n", c.AllocOverflows)
		p.printf("Dedup dropped: %d\n", c.DedupDropped)
		l := rep.Latency
		p.printf("Jobs: %d (mean %f ms, p99 %f ms, max %f ms)\n", l.Jobs, l.Mean, l.P99, l.Max)
	}

	t := rep.Timings
	p.printf("========== TIMING ==========\n")
	p.printf("Instrumentation time: %f ms\n", t.Instrumentation)
	p.printf("Setup time: %f ms\n", t.Setup)
	p.printf("Kernel time: %f ms\n", t.Kernel)
	p.printf("Channel process (communication channel): %f ms\n", t.Channel)
	p.printf("Detection time: %f ms\n", t.Detection)
	p.printf("E2E time: %f ms\n", t.EndToEnd)

	m := rep.Memory
	p.printf("========== MEMORY ==========\n")
	p.printf("App: %f MB\n", mb(m.App))
	p.printf("Metadata (Stream + Agg): %f MB\n", mb(m.Meta))
	p.printf("Metadata (Fen): %f MB\n", mb(m.Fence))
	p.printf("Metadata (Sampling): %f MB\n", mb(m.Sampling))
	p.printf("Overhead: %f x\n", m.Overhead())

	if p.err != nil {
		return fmt.Errorf("writing report: %w", p.err)
	}
	return nil
}

func mb(b uint64) float64 {
	return float64(b) / (1024 * 1024)
}

// printer remembers the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
