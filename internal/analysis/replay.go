package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/mrzor/scope-advice/internal/config"
	"github.com/mrzor/scope-advice/internal/tracefile"
)

// Replay analyzes the selected kernels of a trace, one session after the
// other, and hands every report to fn.
func Replay(ctx context.Context, opts config.Options, r *tracefile.Reader, fn func(*Report) error) error {
	sel := NewSelector(opts.KernelID)
	for {
		h, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading trace: %w", err)
		}
		if !sel.Select(h.Kernel) {
			if opts.Verbose >= 1 {
				log.Printf("skipping kernel %s", h.Kernel)
			}
			continue
		}

		s, err := Start(ctx, opts, KernelFromHeader(h), r)
		if err != nil {
			return err
		}
		rep, err := s.Stop()
		if err != nil {
			return fmt.Errorf("analyzing kernel %s: %w", h.Kernel, err)
		}
		if err := fn(rep); err != nil {
			return err
		}
	}
}

// ReplayFile opens path and replays it.
func ReplayFile(ctx context.Context, opts config.Options, path string, fn func(*Report) error) (err error) {
	f, err := os.Open(path) //nolint:gosec // user supplied trace path
	if err != nil {
		return fmt.Errorf("opening trace: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	r, err := tracefile.NewReader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return Replay(ctx, opts, r, fn)
}
