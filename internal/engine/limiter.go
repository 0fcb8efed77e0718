package engine

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter is the counting permit pool bounding how many task executions run
// at once. Acquisition blocks until a permit frees up or the context is
// cancelled; release must happen on every exit path.
//
// The limiter is process-local: each dispatcher process enforces its own
// concurrency cap independently.
type Limiter struct {
	sem  *semaphore.Weighted
	size int
}

// NewLimiter creates a Limiter with the given number of permits. A size of
// zero or less is coerced to one.
func NewLimiter(size int) *Limiter {
	if size < 1 {
		size = 1
	}
	return &Limiter{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
	}
}

// Acquire blocks until a permit is available or ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// TryAcquire acquires a permit without blocking, reporting success.
func (l *Limiter) TryAcquire() bool {
	return l.sem.TryAcquire(1)
}

// Release returns a permit to the pool.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// Size returns the configured permit count.
func (l *Limiter) Size() int {
	return l.size
}
