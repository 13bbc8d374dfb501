package bufpool

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Lifecycle(t *testing.T) {
	p := New(2, 4, 0)
	ctx := context.Background()
	assert.Equal(t, Stats{Size: 2, Free: 2}, p.Stats())
	assert.Equal(t, 2*4*24, p.Bytes())

	b, err := p.AcquireFree(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Size: 2, Free: 1, Filling: 1}, p.Stats())

	p.SubmitJob(Job{Buffer: b, Count: 3, Seq: 10})
	assert.Equal(t, Stats{Size: 2, Free: 1, Queued: 1}, p.Stats())

	j, err := p.AcquireJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, j.Count)
	assert.Equal(t, uint64(10), j.Seq)
	assert.Len(t, j.Records(), 3*24)
	assert.Equal(t, Stats{Size: 2, Free: 1, Draining: 1}, p.Stats())

	p.Release(j.Buffer)
	assert.Equal(t, Stats{Size: 2, Free: 2}, p.Stats())
}

func TestPool_ReleaseUnsubmitted(t *testing.T) {
	p := New(1, 1, 0)
	b, err := p.AcquireFree(context.Background())
	require.NoError(t, err)
	p.Release(b)
	assert.Equal(t, 1, p.Stats().Free)
}

func TestPool_DoubleReleasePanics(t *testing.T) {
	p := New(2, 1, 0)
	b, err := p.AcquireFree(context.Background())
	require.NoError(t, err)
	p.Release(b)

	assert.Panics(t, func() { p.Release(b) })
}

func TestPool_SubmitWithoutAcquirePanics(t *testing.T) {
	p := New(1, 1, 0)
	b, err := p.AcquireFree(context.Background())
	require.NoError(t, err)
	p.SubmitJob(Job{Buffer: b, Count: 1})

	assert.Panics(t, func() { p.SubmitJob(Job{Buffer: b, Count: 1}) })
}

func TestPool_AcquireJobAfterClose(t *testing.T) {
	p := New(1, 1, 0)
	ctx := context.Background()
	b, err := p.AcquireFree(ctx)
	require.NoError(t, err)
	p.SubmitJob(Job{Buffer: b, Count: 1})
	p.CloseJobs()
	p.CloseJobs()

	j, err := p.AcquireJob(ctx)
	require.NoError(t, err, "queued jobs survive close")
	p.Release(j.Buffer)

	_, err = p.AcquireJob(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPool_AcquireFreeHonorsContext(t *testing.T) {
	p := New(1, 1, 0)
	_, err := p.AcquireFree(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.AcquireFree(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_StallIsCounted(t *testing.T) {
	p := New(1, 1, 5*time.Millisecond)
	held, err := p.AcquireFree(context.Background())
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		p.Release(held)
	}()

	b, err := p.AcquireFree(context.Background())
	require.NoError(t, err)
	assert.Same(t, held, b)
	assert.GreaterOrEqual(t, p.Stalls(), uint64(1))
}

// TestPool_OwnershipUnderContention runs a reader and several workers with
// random delays and checks that every snapshot accounts for each buffer once.
func TestPool_OwnershipUnderContention(t *testing.T) {
	const (
		size    = 8
		workers = 6
		jobs    = 2000
	)
	p := New(size, 2, 0)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		processed atomic.Int64
		violation atomic.Value
	)

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := p.Stats()
			if s.Free+s.Filling+s.Queued+s.Draining != size {
				violation.Store(s)
			}
		}
	}()

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for {
				j, err := p.AcquireJob(ctx)
				if err != nil {
					return
				}
				if rng.Intn(4) == 0 {
					time.Sleep(time.Duration(rng.Intn(50)) * time.Microsecond)
				}
				processed.Add(int64(j.Count))
				p.Release(j.Buffer)
			}
		}(int64(w))
	}

	for i := 0; i < jobs; i++ {
		b, err := p.AcquireFree(ctx)
		require.NoError(t, err)
		p.SubmitJob(Job{Buffer: b, Count: 1, Seq: uint64(i)})
	}
	p.CloseJobs()
	wg.Wait()
	close(stop)

	assert.Nil(t, violation.Load())
	assert.Equal(t, int64(jobs), processed.Load())
	assert.Equal(t, Stats{Size: size, Free: size}, p.Stats())
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	var b Backoff
	ctx := context.Background()
	assert.Equal(t, BaseDelay, b.Next())

	require.NoError(t, b.Wait(ctx))
	assert.Equal(t, 2*BaseDelay, b.Next())

	for i := 0; i < 12; i++ {
		require.NoError(t, b.Wait(ctx))
		assert.LessOrEqual(t, b.Next(), MaxDelay)
	}
	assert.Equal(t, MaxDelay, b.Next())

	b.Reset()
	assert.Equal(t, BaseDelay, b.Next())
}

func TestBackoff_WaitHonorsContext(t *testing.T) {
	b := Backoff{delay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Wait(ctx), context.Canceled)
}
