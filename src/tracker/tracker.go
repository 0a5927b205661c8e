// Package tracker implements VersionTracker, the synchronous entry point
// QueryEngine calls to get up-to-date VersionInfo records for a batch of
// coordinates, coordinating LockCache, CacheLayer and UpstreamFetcher under
// a bounded worker pool (spec.md §4.H).
package tracker

import (
	"context"
	"runtime"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/mvnwatch/src/cachelayer"
	"github.com/thought-machine/mvnwatch/src/coordinate"
	"github.com/thought-machine/mvnwatch/src/lockcache"
	"github.com/thought-machine/mvnwatch/src/stale"
	"github.com/thought-machine/mvnwatch/src/upstream"
	"github.com/thought-machine/mvnwatch/src/workerpool"
)

var log = logging.MustGetLogger("tracker")

// DefaultQueueDepth is the tracker pool's bounded queue depth (spec.md §5).
const DefaultQueueDepth = 200

// StalePredicate is an alias for stale.Predicate, kept here so callers that
// only need VersionTracker's API don't have to import the stale package too.
type StalePredicate = stale.Predicate

// A VersionTracker is the single place that decides, per coordinate,
// whether the cache is good enough to answer from or whether an upstream
// fetch must run first — always under the coordinate's LockCache mutex so
// concurrent identical queries coalesce onto one fetch.
type VersionTracker struct {
	cache    *cachelayer.CacheLayer
	locks    *lockcache.LockCache
	upstream *upstream.UpstreamFetcher
	pool     *workerpool.Pool

	errorCount int64
	mu         sync.Mutex
}

// New returns a VersionTracker with a worker pool sized 2x the number of
// available CPUs (GOMAXPROCS, as corrected by automaxprocs at process
// start), per spec.md §5.
func New(cache *cachelayer.CacheLayer, locks *lockcache.LockCache, fetcher *upstream.UpstreamFetcher) *VersionTracker {
	workers := runtime.GOMAXPROCS(0) * 2
	return &VersionTracker{
		cache:    cache,
		locks:    locks,
		upstream: fetcher,
		pool:     workerpool.New(workers, DefaultQueueDepth),
	}
}

// GetVersionInfo resolves every coord in coords to its current VersionInfo
// record, fetching from upstream (under LockCache, coalesced with any
// concurrent identical request) wherever stale is true or the record is
// missing. It blocks until every submission has completed — the "dynamic
// latch" from spec.md §4.H, here just a sync.WaitGroup sized as work is
// submitted rather than a fixed-count latch.
func (t *VersionTracker) GetVersionInfo(ctx context.Context, coords []coordinate.Coordinate, stale StalePredicate) (map[coordinate.Coordinate]*coordinate.VersionInfo, error) {
	results := make(map[coordinate.Coordinate]*coordinate.VersionInfo, len(coords))
	var mu sync.Mutex
	var latch sync.WaitGroup

	for _, coord := range coords {
		coord := coord
		latch.Add(1)
		t.pool.Submit(ctx, func() {
			defer latch.Done()
			info, err := t.resolveOne(ctx, coord, stale)
			if err != nil {
				log.Errorf("error resolving %s: %v", coord.Key(), err)
				t.mu.Lock()
				t.errorCount++
				t.mu.Unlock()
				return
			}
			mu.Lock()
			results[coord] = info
			mu.Unlock()
		})
	}
	latch.Wait()
	return results, nil
}

func (t *VersionTracker) resolveOne(ctx context.Context, coord coordinate.Coordinate, stale StalePredicate) (*coordinate.VersionInfo, error) {
	var result *coordinate.VersionInfo
	err := t.locks.DoWhileLockedErr(coord.Key(), func() error {
		cached, ok, err := t.cache.Get(coord)
		if err != nil {
			return err
		}
		isNew := !ok
		if !isNew && !stale(cached, isNew) {
			if err := t.cache.UpdateLastRequestDate(coord, time.Now().UTC()); err != nil {
				return err
			}
			result = cached
			return nil
		}

		var info *coordinate.VersionInfo
		if ok {
			info = cached
		} else {
			info = coordinate.New(coord, time.Now().UTC())
		}
		t.upstream.Update(ctx, info, false)
		if err := t.cache.Put(info); err != nil {
			return err
		}
		result = info
		return nil
	})
	return result, err
}

// ErrorCount returns how many submissions have failed with an uncaught
// error since this tracker was created.
func (t *VersionTracker) ErrorCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errorCount
}
