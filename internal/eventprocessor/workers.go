package eventprocessor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrzor/scope-advice/internal/bufpool"
)

// Run starts n workers that drain pool until its job queue is closed and
// empty. A worker always finishes the job it holds before it looks at ctx.
func (p *Processor) Run(ctx context.Context, pool *bufpool.Pool, n int, verbose int) error {
	if n < 1 {
		return fmt.Errorf("worker count must be positive, got %d", n)
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return p.work(ctx, pool, verbose)
		})
	}
	return g.Wait()
}

func (p *Processor) work(ctx context.Context, pool *bufpool.Pool, verbose int) error {
	for {
		j, err := pool.AcquireJob(ctx)
		if errors.Is(err, bufpool.ErrClosed) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("acquiring job: %w", err)
		}

		start := time.Now()
		err = p.HandleJob(j)
		pool.Release(j.Buffer)
		p.metrics.RecordJob(time.Since(start))

		if err != nil && verbose >= 2 {
			log.Printf("handling job %d: %v", j.Seq, err)
		}
	}
}
