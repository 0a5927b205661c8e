// Package lockcache implements the per-coordinate mutex pool that
// serializes all cache/upstream work on a single (group, artifact): the
// primitive that makes concurrent identical queries coalesce into a single
// upstream fetch (spec.md §4.F, §5).
package lockcache

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/thought-machine/mvnwatch/src/cmap"
	"github.com/thought-machine/mvnwatch/src/metrics"
)

var (
	acquisitionsTotal = metrics.NewCounter("lockcache", "acquisitions_total", "Calls to DoWhileLocked/DoWhileLockedErr")
	coalescedTotal    = metrics.NewCounter("lockcache", "coalesced_total", "Acquisitions that found the coordinate's mutex already held, i.e. a concurrent query coalescing onto the holder's work")
)

// A LockCache hands out a per-key mutex, created lazily on first use, and
// shared by every caller that asks for the same key afterwards. Keys are
// typically coordinate.Coordinate.Key() (group:artifact) strings.
type LockCache struct {
	mutexes *cmap.Map[string, *sync.Mutex]
}

// New returns an empty LockCache.
func New() *LockCache {
	return &LockCache{
		mutexes: cmap.New[string, *sync.Mutex](cmap.DefaultShardCount, func(k string) uint64 {
			return xxhash.Sum64String(k)
		}),
	}
}

func (lc *LockCache) mutexFor(key string) *sync.Mutex {
	mu, _ := lc.mutexes.AddOrGet(key, &sync.Mutex{})
	return mu
}

// acquire locks mu, recording in coalescedTotal whether this call had to
// wait for another holder (TryLock failing means the mutex was already
// held, so this caller is coalescing onto whatever work the holder is
// doing for the same coordinate).
func acquire(mu *sync.Mutex) {
	acquisitionsTotal.Inc()
	if !mu.TryLock() {
		coalescedTotal.Inc()
		mu.Lock()
	}
}

// DoWhileLocked acquires the mutex for key, runs action, and releases the
// mutex unconditionally (even if action panics). This is NOT reentrant:
// calling it again for the same key from within action will deadlock,
// matching spec.md's "callers must not recurse" requirement.
func (lc *LockCache) DoWhileLocked(key string, action func()) {
	mu := lc.mutexFor(key)
	acquire(mu)
	defer mu.Unlock()
	action()
}

// DoWhileLockedErr is DoWhileLocked for an action that can fail.
func (lc *LockCache) DoWhileLockedErr(key string, action func() error) error {
	mu := lc.mutexFor(key)
	acquire(mu)
	defer mu.Unlock()
	return action()
}
