// Package workerpool implements the bounded worker pool with caller-runs
// backpressure shared by VersionTracker and BackgroundRefresher
// (spec.md §5): a fixed number of concurrent slots, a bound on tasks in
// flight, and tasks submitted past that bound run
// synchronously on the submitting goroutine instead of blocking or being
// dropped.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// A Pool bounds concurrency to a fixed worker count and bounds the number of
// asynchronous tasks in flight (running or waiting for a worker slot);
// submissions past that bound run on the caller's own goroutine.
type Pool struct {
	sem      *semaphore.Weighted
	queued   int64
	queueCap int64
	wg       sync.WaitGroup
}

// New returns a Pool allowing at most `workers` tasks to run concurrently,
// and at most `queueDepth` asynchronous tasks in flight (running ones
// included) before Submit starts running tasks inline on the calling
// goroutine.
func New(workers, queueDepth int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		sem:      semaphore.NewWeighted(int64(workers)),
		queueCap: int64(queueDepth),
	}
}

// Submit runs task, either asynchronously on a pool worker or, if the pool
// is already at capacity, synchronously on the calling goroutine. It never
// blocks the caller waiting for a worker slot to free up. An asynchronous
// task whose ctx is done before it gets a worker slot is dropped without
// running.
func (p *Pool) Submit(ctx context.Context, task func()) {
	if atomic.AddInt64(&p.queued, 1) > p.queueCap {
		atomic.AddInt64(&p.queued, -1)
		task()
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer atomic.AddInt64(&p.queued, -1)
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		task()
	}()
}

// Wait blocks until every task submitted asynchronously so far has
// completed. It does not prevent new submissions from racing with it; it's
// meant for shutdown draining.
func (p *Pool) Wait() {
	p.wg.Wait()
}
