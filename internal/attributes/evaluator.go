package attributes

import (
	"fmt"
	"log"
	"reflect"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mrzor/scope-advice/internal/config"
)

// Evaluator computes the custom attributes attached to every kernel report.
type Evaluator struct {
	attrs    []config.CustomAttribute
	programs []*vm.Program
}

// NewEvaluator compiles every attribute expression against the kernel
// variables, so an unknown name fails before any trace is read.
func NewEvaluator(attrs []config.CustomAttribute) (*Evaluator, error) {
	programs := make([]*vm.Program, 0, len(attrs))
	for _, a := range attrs {
		p, err := compileKernelExpr(a.Expression)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", a.Name, err)
		}
		programs = append(programs, p)
	}
	return &Evaluator{attrs: attrs, programs: programs}, nil
}

func compileKernelExpr(src string) (*vm.Program, error) {
	p, err := expr.Compile(src, expr.Env(kernelEnvPrototype))
	if err != nil {
		return nil, fmt.Errorf("compiling %q: %w", src, err)
	}
	return p, nil
}

// EvaluateCustomAttributes runs the attribute expressions over one kernel.
// A map result becomes one attribute per key, named <attribute>.<key>.
// Expressions failing at run time are logged and left out.
func (e *Evaluator) EvaluateCustomAttributes(facts *KernelFacts) ([]attribute.KeyValue, error) {
	if facts == nil || len(e.attrs) == 0 {
		return nil, nil
	}

	env := facts.env()
	var out []attribute.KeyValue
	for i, a := range e.attrs {
		v, err := expr.Run(e.programs[i], env)
		if err != nil {
			log.Printf("warning: kernel %s: attribute %q: %v", facts.Kernel, a.Name, err)
			continue
		}
		out = appendResult(out, a.Name, v)
	}
	return out, nil
}

// appendResult flattens one level of map results; deeper values are
// printed with %v.
func appendResult(out []attribute.KeyValue, name string, v any) []attribute.KeyValue {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return append(out, attribute.String(name, fmt.Sprint(v)))
	}
	for it := rv.MapRange(); it.Next(); {
		key := name + "." + sanitizeAttributeName(fmt.Sprint(it.Key().Interface()))
		out = append(out, attribute.String(key, fmt.Sprint(it.Value().Interface())))
	}
	return out
}

// sanitizeAttributeName keeps ASCII letters, digits and underscores and
// turns everything else into an underscore.
func sanitizeAttributeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
