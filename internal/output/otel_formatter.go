package output

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrzor/scope-advice/internal/analysis"
	"github.com/mrzor/scope-advice/internal/attributes"
	"github.com/mrzor/scope-advice/internal/config"
)

// OTELFormatter formats kernel reports as OpenTelemetry spans.
type OTELFormatter struct {
	tracer            trace.Tracer
	input             string
	environ           map[string]string
	filter            *attributes.Filter
	attrEvaluator     *attributes.Evaluator
	traceIDEvaluator  *attributes.TraceIDEvaluator
	parentIDEvaluator *attributes.ParentIDEvaluator
	now               func() time.Time
}

// NewOTELFormatter creates a new OTELFormatter. input names the analyzed
// trace and environ is exposed to the expressions as env.
func NewOTELFormatter(
	tracer trace.Tracer,
	input string,
	environ map[string]string,
	customAttrs []config.CustomAttribute,
	traceIDExpr, parentIDExpr string,
	filter *attributes.Filter,
) (*OTELFormatter, error) {
	attrEvaluator, err := attributes.NewEvaluator(customAttrs)
	if err != nil {
		return nil, fmt.Errorf("failed to create attribute evaluator: %w", err)
	}
	traceIDEvaluator, err := attributes.NewTraceIDEvaluator(traceIDExpr)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace ID evaluator: %w", err)
	}
	parentIDEvaluator, err := attributes.NewParentIDEvaluator(parentIDExpr)
	if err != nil {
		return nil, fmt.Errorf("failed to create parent ID evaluator: %w", err)
	}

	return &OTELFormatter{
		tracer:            tracer,
		input:             input,
		environ:           environ,
		filter:            filter,
		attrEvaluator:     attrEvaluator,
		traceIDEvaluator:  traceIDEvaluator,
		parentIDEvaluator: parentIDEvaluator,
		now:               time.Now,
	}, nil
}

// parentContext builds the context the kernel span starts in. A configured
// trace ID without a parent gets a parent span ID derived from the trace ID,
// since a span context is only valid with both.
func (f *OTELFormatter) parentContext(facts *attributes.KernelFacts) (context.Context, []attribute.KeyValue) {
	ctx := context.Background()

	traceID, warnings, err := f.traceIDEvaluator.EvaluateAndValidate(facts)
	if err != nil {
		return ctx, append(warnings, attribute.String("_trace_id_error", err.Error()))
	}
	if !traceID.IsValid() {
		return ctx, warnings
	}

	parentID, parentWarnings, err := f.parentIDEvaluator.EvaluateAndValidate(facts)
	warnings = append(warnings, parentWarnings...)
	if err != nil {
		warnings = append(warnings, attribute.String("_parent_id_error", err.Error()))
	}
	if !parentID.IsValid() {
		copy(parentID[:], traceID[8:])
		warnings = append(warnings, attribute.Bool("_parent_id_synthetic", true))
	}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     parentID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithRemoteSpanContext(ctx, sc), warnings
}

// HandleReport implements ReportHandler.
func (f *OTELFormatter) HandleReport(rep *analysis.Report) error {
	facts := KernelFacts(rep, f.input, f.environ)
	ctx, warnings := f.parentContext(facts)

	end := f.now()
	start := end.Add(-time.Duration(rep.Timings.EndToEnd * float64(time.Millisecond)))

	_, span := f.tracer.Start(ctx, "kernel.analyze",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithTimestamp(start),
	)

	c := rep.Counters
	t := rep.Timings
	m := rep.Memory
	//nolint:gosec // counters fit in int64
	span.SetAttributes(
		attribute.String("kernel.name", rep.Kernel.Name),
		attribute.String("kernel.input", f.input),
		attribute.Int64("kernel.threads", int64(rep.Kernel.Threads)),
		attribute.Int("kernel.threads_per_block", int(rep.Kernel.ThreadsPerBlock)),
		attribute.Bool("analysis.coarse", rep.Coarse),
		attribute.Int("analysis.fences", len(rep.Fences)),
		attribute.Int("analysis.removable", len(rep.Removable())),
		attribute.Int64("counters.static_instrumented", int64(c.StaticInstrumented)),
		attribute.Int64("counters.packets", int64(c.Packets)),
		attribute.Int64("counters.message_passes", int64(c.MessagePasses)),
		attribute.Int64("counters.corrupt", int64(c.Corrupt)),
		attribute.Int64("counters.stalls", int64(c.Stalls)),
		attribute.Int64("counters.unfenced_loads", int64(c.UnfencedLoads)),
		attribute.Int64("counters.unfenced_stores", int64(c.UnfencedStores)),
		attribute.Int64("counters.alloc_overflows", int64(c.AllocOverflows)),
		attribute.Int64("counters.dedup_dropped", int64(c.DedupDropped)),
		attribute.Float64("timing.instrumentation_ms", t.Instrumentation),
		attribute.Float64("timing.setup_ms", t.Setup),
		attribute.Float64("timing.kernel_ms", t.Kernel),
		attribute.Float64("timing.channel_ms", t.Channel),
		attribute.Float64("timing.detection_ms", t.Detection),
		attribute.Float64("timing.e2e_ms", t.EndToEnd),
		attribute.Int64("memory.app_bytes", int64(m.App)),
		attribute.Int64("memory.meta_bytes", int64(m.Meta)),
		attribute.Int64("memory.fence_bytes", int64(m.Fence)),
		attribute.Int64("memory.sampling_bytes", int64(m.Sampling)),
		attribute.Float64("memory.overhead", m.Overhead()),
	)

	customAttrs, err := f.attrEvaluator.EvaluateCustomAttributes(facts)
	if err != nil {
		warnings = append(warnings, attribute.String("_custom_attributes_error", err.Error()))
	}
	if len(customAttrs) > 0 {
		span.SetAttributes(customAttrs...)
	}
	if len(warnings) > 0 {
		span.SetAttributes(warnings...)
	}

	for i, issue := range rep.Issues {
		span.SetAttributes(attribute.String(fmt.Sprintf("_tracing_warning_%d", i), issue))
	}

	for _, fr := range Advice(rep, f.filter) {
		span.AddEvent("fence", trace.WithTimestamp(end), trace.WithAttributes(
			attribute.Int64("fence.epoch", fr.Epoch),
			attribute.Int("fence.id", int(fr.FenceID)),
			attribute.String("fence.location", fr.Location),
			attribute.String("fence.type", fr.Class.String()),
			attribute.String("fence.ops", fr.Ops.String()),
			attribute.String("fence.next_ops", fr.NextOps.String()),
		))
	}

	if c.Corrupt > 0 || c.Rejected > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d corrupt and %d rejected records", c.Corrupt, c.Rejected))
	}
	span.End(trace.WithTimestamp(end))
	return nil
}
