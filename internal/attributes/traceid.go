package attributes

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var errNoFacts = errors.New("no kernel facts")

// idExpr is an optional kernel expression whose result names a span or a
// trace. The zero value has no expression.
type idExpr struct {
	what    string
	program *vm.Program
}

func compileIDExpr(what, src string) (idExpr, error) {
	if src == "" {
		return idExpr{what: what}, nil
	}
	p, err := compileKernelExpr(src)
	if err != nil {
		return idExpr{}, fmt.Errorf("%s: %w", what, err)
	}
	return idExpr{what: what, program: p}, nil
}

// eval returns the printed result, or ok == false without an expression.
func (x idExpr) eval(facts *KernelFacts) (result string, ok bool, err error) {
	if x.program == nil {
		return "", false, nil
	}
	if facts == nil {
		return "", false, fmt.Errorf("%s: %w", x.what, errNoFacts)
	}
	v, err := expr.Run(x.program, facts.env())
	if err != nil {
		return "", false, fmt.Errorf("evaluating %s for kernel %s: %w", x.what, facts.Kernel, err)
	}
	return fmt.Sprint(v), true, nil
}

// TraceIDEvaluator picks the trace a kernel report joins. Results that are
// not 32 hex digits are hashed into a trace ID, so any stable value (a job
// name, an input path) groups the kernels that share it.
type TraceIDEvaluator struct {
	x idExpr
}

// NewTraceIDEvaluator compiles exprStr. Without one EvaluateAndValidate
// returns the zero ID and the exporter picks a random trace.
func NewTraceIDEvaluator(exprStr string) (*TraceIDEvaluator, error) {
	x, err := compileIDExpr("trace-id expression", exprStr)
	if err != nil {
		return nil, err
	}
	return &TraceIDEvaluator{x: x}, nil
}

// EvaluateAndValidate returns the trace ID for facts and the warnings to
// attach to the kernel span when the result had to be hashed.
func (e *TraceIDEvaluator) EvaluateAndValidate(facts *KernelFacts) (trace.TraceID, []attribute.KeyValue, error) {
	res, ok, err := e.x.eval(facts)
	if !ok {
		return trace.TraceID{}, nil, err
	}
	if len(res) == 32 {
		if id, err := trace.TraceIDFromHex(res); err == nil {
			return id, nil, nil
		}
	}

	sum := sha256.Sum256([]byte(res))
	var id trace.TraceID
	copy(id[:], sum[:len(id)])
	return id, []attribute.KeyValue{
		attribute.String("_trace_id_expr_result", res),
		attribute.String("_trace_id_invalid_warning",
			fmt.Sprintf("%q is not a 32-digit hex trace ID, using its SHA-256 prefix", res)),
	}, nil
}

// ParentIDEvaluator picks the span a kernel report hangs under, typically
// the job that launched the traced program.
type ParentIDEvaluator struct {
	x idExpr
}

// NewParentIDEvaluator compiles exprStr. Without one the kernel span is a
// root span.
func NewParentIDEvaluator(exprStr string) (*ParentIDEvaluator, error) {
	x, err := compileIDExpr("parent-id expression", exprStr)
	if err != nil {
		return nil, err
	}
	return &ParentIDEvaluator{x: x}, nil
}

// EvaluateAndValidate returns the parent span ID for facts. A result that
// is not 16 hex digits yields the zero ID and warnings for the span.
func (e *ParentIDEvaluator) EvaluateAndValidate(facts *KernelFacts) (trace.SpanID, []attribute.KeyValue, error) {
	res, ok, err := e.x.eval(facts)
	if !ok {
		return trace.SpanID{}, nil, err
	}
	if len(res) == 16 {
		if id, err := trace.SpanIDFromHex(res); err == nil {
			return id, nil, nil
		}
	}
	return trace.SpanID{}, []attribute.KeyValue{
		attribute.String("_parent_id_expr_result", res),
		attribute.String("_parent_id_invalid_warning",
			fmt.Sprintf("%q is not a 16-digit hex span ID, exporting the kernel span without a parent", res)),
	}, nil
}
