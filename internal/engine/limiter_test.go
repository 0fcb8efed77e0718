package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterBoundsConcurrency(t *testing.T) {
	t.Parallel()

	const permits = 4
	const workers = 20

	limiter := NewLimiter(permits)

	var current, peak int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			require.NoError(t, limiter.Acquire(context.Background()))
			defer limiter.Release()

			n := atomic.AddInt64(&current, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&current, -1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(permits))
	assert.Equal(t, int64(0), atomic.LoadInt64(&current))
}

func TestLimiterTryAcquire(t *testing.T) {
	t.Parallel()

	limiter := NewLimiter(1)

	assert.True(t, limiter.TryAcquire())
	assert.False(t, limiter.TryAcquire())

	limiter.Release()
	assert.True(t, limiter.TryAcquire())
}

func TestLimiterAcquireRespectsContext(t *testing.T) {
	t.Parallel()

	limiter := NewLimiter(1)
	require.NoError(t, limiter.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := limiter.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewLimiterCoercesInvalidSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, NewLimiter(0).Size())
	assert.Equal(t, 1, NewLimiter(-3).Size())
	assert.Equal(t, 8, NewLimiter(8).Size())
}
