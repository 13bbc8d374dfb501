// Package attributes provides expression evaluation for report attributes,
// the report filter, trace IDs, and parent span IDs.
//
// Expressions use the expr language. Kernel-level expressions see
// KernelFacts (kernel, input, threads, block, fences, removable, env);
// fence-level expressions see FenceFacts (kernel, epoch, fence_id,
// location, type, ops, next_ops, removable).
//
// Four evaluators:
//   - Evaluator: Evaluates custom attribute expressions for a kernel
//   - Filter: Selects which fence reports are printed and exported
//   - TraceIDEvaluator: Evaluates and validates trace ID expressions (32 hex chars)
//   - ParentIDEvaluator: Evaluates and validates parent span ID expressions (16 hex chars)
//
// Invalid trace IDs are automatically hashed with SHA-256 to produce valid IDs.
// Invalid parent IDs result in a null parent (zero span ID).
package attributes
