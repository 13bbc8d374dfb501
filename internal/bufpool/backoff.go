package bufpool

import (
	"context"
	"time"
)

// Exponential backoff bounds used when the channel has nothing to offer.
const (
	BaseDelay = 16 * time.Microsecond
	MaxDelay  = 32 * time.Millisecond
)

// Backoff doubles its delay on every Wait, capped at MaxDelay.
// The zero value starts at BaseDelay.
type Backoff struct {
	delay time.Duration
}

// Next returns the delay the following Wait will sleep for.
func (b *Backoff) Next() time.Duration {
	if b.delay == 0 {
		return BaseDelay
	}
	return b.delay
}

// Wait sleeps for the current delay, then doubles it.
func (b *Backoff) Wait(ctx context.Context) error {
	d := b.Next()
	b.delay = min(d*2, MaxDelay)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset returns the delay to BaseDelay.
func (b *Backoff) Reset() {
	b.delay = 0
}
