package sweep

import (
	"context"
	"fmt"
	"io"
	"log"
	"maps"
	"slices"

	"github.com/mrzor/scope-advice/internal/analysis"
	"github.com/mrzor/scope-advice/internal/attributes"
	"github.com/mrzor/scope-advice/internal/config"
	"github.com/mrzor/scope-advice/internal/output"
)

// Result is the advice for one kernel that held on every input.
type Result struct {
	Kernel string
	Inputs int              // inputs in which the kernel ran
	Lines  map[int64]string // epoch -> report line of the last input
}

// Epochs returns the epochs of the surviving advice in order.
func (r *Result) Epochs() []int64 {
	return slices.Sorted(maps.Keys(r.Lines))
}

// Write prints the surviving advice.
func (r *Result) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Suggestions after iterating over inputs for %s kernel\n", r.Kernel); err != nil {
		return err
	}
	for _, e := range r.Epochs() {
		if _, err := fmt.Fprintln(w, r.Lines[e]); err != nil {
			return err
		}
	}
	return nil
}

// Runner sweeps kernels over inputs.
type Runner struct {
	opts   config.Options
	filter *attributes.Filter
	// OnReport, when set, receives every kernel report of every input.
	OnReport func(*analysis.Report) error
}

// NewRunner creates a sweep runner. filter may be nil.
func NewRunner(opts config.Options, filter *attributes.Filter) *Runner {
	return &Runner{opts: opts, filter: filter}
}

// Run sweeps every configured kernel.
func (r *Runner) Run(ctx context.Context, cfg *Config) ([]*Result, error) {
	out := make([]*Result, 0, len(cfg.Kernels))
	for _, k := range cfg.Kernels {
		res, err := r.Kernel(ctx, k, cfg.Traces)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Kernel analyzes kernel in each trace and intersects the advice. A trace
// in which the kernel never ran does not narrow the result.
func (r *Runner) Kernel(ctx context.Context, kernel string, traces []string) (*Result, error) {
	opts := r.opts
	opts.KernelID = kernel
	res := &Result{Kernel: kernel}

	for _, path := range traces {
		var lines map[int64]string
		err := analysis.ReplayFile(ctx, opts, path, func(rep *analysis.Report) error {
			lines = make(map[int64]string)
			for _, f := range output.Advice(rep, r.filter) {
				lines[f.Epoch] = output.FenceLine(f)
			}
			if r.OnReport != nil {
				return r.OnReport(rep)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("sweeping %s over %s: %w", kernel, path, err)
		}
		if lines == nil {
			log.Printf("warning: kernel %s did not run in %s", kernel, path)
			continue
		}

		res.Inputs++
		if res.Inputs == 1 {
			res.Lines = lines
			continue
		}
		var removed []int64
		for e := range res.Lines {
			if _, ok := lines[e]; !ok {
				removed = append(removed, e)
				delete(res.Lines, e)
			}
		}
		if len(removed) > 0 {
			slices.Sort(removed)
			log.Printf("removing %v fence IDs from over-synchronized list", removed)
		}
		for e := range res.Lines {
			res.Lines[e] = lines[e]
		}
	}
	if res.Lines == nil {
		res.Lines = map[int64]string{}
	}
	return res, nil
}
