// Package refresher implements BackgroundRefresher: the server-mode sweep
// thread that periodically re-fetches every stale record through the same
// LockCache discipline VersionTracker uses for foreground queries
// (spec.md §4.I).
package refresher

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/mvnwatch/src/cachelayer"
	"github.com/thought-machine/mvnwatch/src/coordinate"
	"github.com/thought-machine/mvnwatch/src/lockcache"
	"github.com/thought-machine/mvnwatch/src/stale"
	"github.com/thought-machine/mvnwatch/src/tracker"
	"github.com/thought-machine/mvnwatch/src/upstream"
	"github.com/thought-machine/mvnwatch/src/workerpool"
)

var log = logging.MustGetLogger("refresher")

// DefaultCheckInterval is how often the sweep loop scans for stale records.
const DefaultCheckInterval = time.Minute

// watchdogRestartDelay is how long the supervisor waits before restarting a
// sweep loop that exited unexpectedly (spec.md §4.I).
const watchdogRestartDelay = 60 * time.Second

// A BackgroundRefresher owns the single long-lived sweep thread that keeps
// the cache warm in server mode: on each tick it lists every known record
// via CacheLayer.GetAll, filters through StaleRules, and submits an
// upstream update for each stale one to a bounded worker pool.
type BackgroundRefresher struct {
	cache    *cachelayer.CacheLayer
	locks    *lockcache.LockCache
	upstream *upstream.UpstreamFetcher
	pool     *workerpool.Pool

	CheckInterval         time.Duration
	MinDelayAfterSuccess  time.Duration
	MinDelayAfterFailure  time.Duration

	terminate chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

// New returns a BackgroundRefresher with a worker pool sized to the number
// of available CPUs, per spec.md §5.
func New(cache *cachelayer.CacheLayer, locks *lockcache.LockCache, fetcher *upstream.UpstreamFetcher) *BackgroundRefresher {
	return &BackgroundRefresher{
		cache:                cache,
		locks:                locks,
		upstream:             fetcher,
		pool:                 workerpool.New(runtime.GOMAXPROCS(0), tracker.DefaultQueueDepth),
		CheckInterval:        DefaultCheckInterval,
		MinDelayAfterSuccess: 30 * time.Minute,
		MinDelayAfterFailure: 5 * time.Minute,
		terminate:            make(chan struct{}),
		done:                 make(chan struct{}),
	}
}

// Start launches the sweep thread under a supervisor that restarts it 60s
// after an unexpected exit.
func (r *BackgroundRefresher) Start(ctx context.Context) {
	go r.supervise(ctx)
}

func (r *BackgroundRefresher) supervise(ctx context.Context) {
	for {
		if r.runLoop(ctx) {
			close(r.done)
			return
		}
		log.Errorf("refresher sweep loop exited unexpectedly, restarting in %s", watchdogRestartDelay)
		select {
		case <-r.terminate:
			close(r.done)
			return
		case <-time.After(watchdogRestartDelay):
		}
	}
}

func (r *BackgroundRefresher) runLoop(ctx context.Context) (clean bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("panic in refresher sweep loop: %v", rec)
			clean = false
		}
	}()
	ticker := time.NewTicker(r.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.terminate:
			return true
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep refreshes every stale record it finds, submitting each to the
// bounded pool. Individual failures don't abort the sweep; they're
// collected into a single multierror and logged as one summary once every
// submission has finished, so one bad upstream response doesn't bury the
// other failures from the same sweep in the log.
func (r *BackgroundRefresher) sweep(ctx context.Context) {
	records, err := r.cache.GetAll()
	if err != nil {
		log.Errorf("refresher: failed to list records: %v", err)
		return
	}
	now := time.Now().UTC()
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs *multierror.Error
	for _, info := range records {
		if !stale.IsStale(info, r.MinDelayAfterSuccess, r.MinDelayAfterFailure, now) {
			continue
		}
		coord := info.Artifact
		wg.Add(1)
		r.pool.Submit(ctx, func() {
			defer wg.Done()
			if err := r.refreshOne(ctx, coord); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	if errs != nil {
		log.Errorf("refresher: sweep finished with failures: %v", errs)
	}
}

func (r *BackgroundRefresher) refreshOne(ctx context.Context, coord coordinate.Coordinate) error {
	err := r.locks.DoWhileLockedErr(coord.Key(), func() error {
		current, ok, err := r.cache.Get(coord)
		if err != nil {
			return err
		}
		if !ok {
			current = coordinate.New(coord, time.Now().UTC())
		}
		r.upstream.Update(ctx, current, false)
		return r.cache.Put(current)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", coord.Key(), err)
	}
	return nil
}

// Stop sets the terminate flag, wakes the sleep monitor, and awaits the
// sweep thread's exit.
func (r *BackgroundRefresher) Stop() {
	r.stopOnce.Do(func() { close(r.terminate) })
	<-r.done
}
