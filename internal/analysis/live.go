package analysis

import (
	"context"
	"log"

	"github.com/mrzor/scope-advice/internal/channel"
	"github.com/mrzor/scope-advice/internal/config"
)

// LiveSource is a channel fed by a producer that runs until it is told to
// finish, such as channel.RingbufSource.
type LiveSource interface {
	channel.Source
	Finish()
}

// Live analyzes kernel while its producer writes into src. Cancelling ctx
// tells src to finish; records already in the channel are still analyzed
// before the report is built.
func Live(ctx context.Context, opts config.Options, kernel Kernel, src LiveSource) (*Report, error) {
	s, err := Start(context.WithoutCancel(ctx), opts, kernel, src)
	if err != nil {
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			if opts.Verbose >= 1 {
				log.Printf("finishing kernel %s: %v", kernel.Name, context.Cause(ctx))
			}
			src.Finish()
		case <-s.Done():
		}
	}()
	return s.Stop()
}
