package attributes

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Filter selects fence reports with a boolean expression.
// The zero Filter and a Filter built from an empty expression match everything.
type Filter struct {
	program *vm.Program
	rawExpr string
}

// NewFilter compiles a report filter expression.
func NewFilter(exprStr string) (*Filter, error) {
	if exprStr == "" {
		return &Filter{}, nil
	}
	program, err := expr.Compile(exprStr, expr.Env(fenceEnvPrototype), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile report filter: %w", err)
	}
	return &Filter{program: program, rawExpr: exprStr}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	return f.rawExpr
}

// Match reports whether the fence report passes the filter.
func (f *Filter) Match(facts *FenceFacts) (bool, error) {
	if f == nil || f.program == nil {
		return true, nil
	}
	output, err := expr.Run(f.program, facts.env())
	if err != nil {
		return false, fmt.Errorf("failed to evaluate report filter: %w", err)
	}
	ok, _ := output.(bool)
	return ok, nil
}
