package lockcache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDoWhileLockedSerializesSameKey(t *testing.T) {
	lc := New()
	var concurrent int32
	var maxConcurrent int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lc.DoWhileLocked("g:a", func() {
				n := atomic.AddInt32(&concurrent, 1)
				for {
					old := atomic.LoadInt32(&maxConcurrent)
					if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&concurrent, -1)
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxConcurrent, "at most one goroutine should hold the lock for a given key at a time")
}

func TestDoWhileLockedDifferentKeysRunConcurrently(t *testing.T) {
	lc := New()
	var wg sync.WaitGroup
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	for _, key := range []string{"g:a", "g:b"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			lc.DoWhileLocked(key, func() {
				started <- struct{}{}
				<-release
			})
		}(key)
	}
	<-started
	<-started // both started without waiting on each other
	close(release)
	wg.Wait()
}

func TestDoWhileLockedErrPropagatesError(t *testing.T) {
	lc := New()
	err := lc.DoWhileLockedErr("g:a", func() error {
		return assert.AnError
	})
	assert.Equal(t, assert.AnError, err)
}
