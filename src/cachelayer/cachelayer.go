// Package cachelayer implements CacheLayer: a write-back decorator over
// FileStore that keeps every record in memory, batches writes, and flushes
// them on a timer with an auto-restarting supervisor (spec.md §4.E).
package cachelayer

import (
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/mvnwatch/src/coordinate"
	"github.com/thought-machine/mvnwatch/src/filestore"
	"github.com/thought-machine/mvnwatch/src/index"
	"github.com/thought-machine/mvnwatch/src/metrics"
)

var log = logging.MustGetLogger("cachelayer")

var (
	flushesTotal        = metrics.NewCounter("cachelayer", "flushes_total", "Background and forced flushes of dirtyMap to FileStore")
	flushFailuresTotal   = metrics.NewCounter("cachelayer", "flush_failures_total", "Flushes that failed to persist")
	flushLatencySeconds  = metrics.NewHistogram("cachelayer", "flush_latency_seconds", "Time taken to persist a batch of dirty records", metrics.ExponentialBuckets(0.001, 2, 12))
)

// DefaultFlushInterval is how often the background flusher persists
// dirtyMap to FileStore.
const DefaultFlushInterval = 10 * time.Second

// flusherRestartDelay is how long the supervisor waits before restarting a
// flusher goroutine that exited unexpectedly (spec.md §4.E).
const flusherRestartDelay = 60 * time.Second

// A CacheLayer is the single in-memory source of truth VersionTracker and
// BackgroundRefresher read and write through; FileStore only ever sees a
// batch of records at flush time.
type CacheLayer struct {
	store         *filestore.FileStore
	flushInterval time.Duration

	mu          sync.Mutex
	initialized bool
	cleanMap    *index.Index[*coordinate.VersionInfo]
	dirtyMap    *index.Index[*coordinate.VersionInfo]

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New returns a CacheLayer over store. Records aren't loaded until the
// first Get, GetAll, Put, UpdateLastRequestDate or Flush call; StartFlusher
// itself does not load them. The live and
// pending-write snapshots are each an ArtifactIndex (spec.md §4.C): a
// group -> artifact -> VersionInfo two-level map, the same primitive the
// spec names for this shape of data.
func New(store *filestore.FileStore, flushInterval time.Duration) *CacheLayer {
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &CacheLayer{
		store:         store,
		flushInterval: flushInterval,
		cleanMap:      index.New[*coordinate.VersionInfo](),
		dirtyMap:      index.New[*coordinate.VersionInfo](),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func (c *CacheLayer) ensureLoadedLocked() error {
	if c.initialized {
		return nil
	}
	records, err := c.store.LoadAll()
	if err != nil {
		return err
	}
	for _, r := range records {
		c.cleanMap.Put(r.Artifact.GroupID, r.Artifact.ArtifactID, r)
	}
	c.initialized = true
	return nil
}

// Get returns a defensive copy of the record for coord's (group, artifact),
// preferring a pending dirty write over the last-persisted clean snapshot.
func (c *CacheLayer) Get(coord coordinate.Coordinate) (*coordinate.VersionInfo, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoadedLocked(); err != nil {
		return nil, false, err
	}
	if v, ok := c.dirtyMap.Get(coord.GroupID, coord.ArtifactID); ok {
		return v.Clone(), true, nil
	}
	if v, ok := c.cleanMap.Get(coord.GroupID, coord.ArtifactID); ok {
		return v.Clone(), true, nil
	}
	return nil, false, nil
}

// Put inserts or overwrites the record for info.Artifact in dirtyMap; it is
// persisted at the next flush.
func (c *CacheLayer) Put(info *coordinate.VersionInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoadedLocked(); err != nil {
		return err
	}
	c.dirtyMap.Put(info.Artifact.GroupID, info.Artifact.ArtifactID, info)
	return nil
}

// UpdateLastRequestDate bumps LastRequestDate on the live record (clean or
// dirty) for coord without otherwise disturbing it, moving it into dirtyMap
// so the new timestamp survives the next flush.
func (c *CacheLayer) UpdateLastRequestDate(coord coordinate.Coordinate, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoadedLocked(); err != nil {
		return err
	}
	var info *coordinate.VersionInfo
	if v, ok := c.dirtyMap.Get(coord.GroupID, coord.ArtifactID); ok {
		info = v
	} else if v, ok := c.cleanMap.Get(coord.GroupID, coord.ArtifactID); ok {
		info = v.Clone()
	} else {
		return nil
	}
	info.LastRequestDate = now
	c.dirtyMap.Put(coord.GroupID, coord.ArtifactID, info)
	return nil
}

// GetAll returns a defensive copy of every record currently known, merging
// dirtyMap over cleanMap.
func (c *CacheLayer) GetAll() ([]*coordinate.VersionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	merged := make(map[string]*coordinate.VersionInfo, c.cleanMap.Size()+c.dirtyMap.Size())
	c.cleanMap.VisitValues(func(group, artifact string, v *coordinate.VersionInfo) bool {
		merged[group+":"+artifact] = v
		return true
	})
	c.dirtyMap.VisitValues(func(group, artifact string, v *coordinate.VersionInfo) bool {
		merged[group+":"+artifact] = v
		return true
	})
	out := make([]*coordinate.VersionInfo, 0, len(merged))
	for _, v := range merged {
		out = append(out, v.Clone())
	}
	return out, nil
}

// flushLocked persists every dirtyMap entry and moves it into cleanMap.
// Caller must hold c.mu.
func (c *CacheLayer) flushLocked() error {
	if c.dirtyMap.Size() == 0 {
		return nil
	}
	pending := make([]*coordinate.VersionInfo, 0, c.dirtyMap.Size())
	c.dirtyMap.VisitValues(func(group, artifact string, v *coordinate.VersionInfo) bool {
		pending = append(pending, v)
		return true
	})
	flushesTotal.Inc()
	start := time.Now()
	if err := c.store.SaveOrUpdate(pending); err != nil {
		flushFailuresTotal.Inc()
		return err
	}
	flushLatencySeconds.Observe(time.Since(start).Seconds())
	for _, v := range pending {
		c.cleanMap.Put(v.Artifact.GroupID, v.Artifact.ArtifactID, v)
	}
	c.dirtyMap.Clear()
	return nil
}

// Flush forces an immediate flush of dirtyMap, outside of the timer.
func (c *CacheLayer) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoadedLocked(); err != nil {
		return err
	}
	return c.flushLocked()
}

// StartFlusher launches the background flusher goroutine under a
// supervisor that restarts it 60s after an unexpected panic/exit.
func (c *CacheLayer) StartFlusher() {
	go c.superviseFlusher()
}

func (c *CacheLayer) superviseFlusher() {
	for {
		if c.runFlusher() {
			close(c.done)
			return
		}
		log.Errorf("cache flusher exited unexpectedly, restarting in %s", flusherRestartDelay)
		select {
		case <-c.stop:
			close(c.done)
			return
		case <-time.After(flusherRestartDelay):
		}
	}
}

// runFlusher runs the flush loop until Close is called, recovering from any
// panic inside a single flush so it doesn't crash the whole supervisor. It
// returns true if it stopped because of a clean shutdown, false if it's
// exiting due to an unrecoverable condition and should be restarted.
func (c *CacheLayer) runFlusher() (clean bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic in cache flusher: %v", r)
			clean = false
		}
	}()
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return true
		case <-ticker.C:
			if err := c.Flush(); err != nil {
				log.Errorf("cache flush failed: %v", err)
			}
		}
	}
}

// Close performs a final flush, stops the flusher thread, and waits for it
// to finish.
func (c *CacheLayer) Close() error {
	err := c.Flush()
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
	return err
}
