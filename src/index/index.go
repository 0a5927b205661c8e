// Package index implements ArtifactIndex: a two-level (group -> artifact ->
// value) mapping used by CacheLayer to hold its clean and dirty snapshots.
// It guards both levels with a single mutex; callers that need
// cross-coordinate atomicity (e.g. VersionTracker) serialize via LockCache
// instead, per spec.md §4.C ("no operation is required to be atomic across
// the two levels").
package index

import (
	"sync"

	"github.com/thought-machine/mvnwatch/src/ordmap"
)

// An Index is a generic two-level mapping, safe for concurrent use.
type Index[V any] struct {
	mu     sync.RWMutex
	groups map[string]*ordmap.Map[string, V]
	size   int
}

// New returns an empty Index.
func New[V any]() *Index[V] {
	return &Index[V]{groups: map[string]*ordmap.Map[string, V]{}}
}

// Get returns the value stored for group:artifact, if any.
func (idx *Index[V]) Get(group, artifact string) (V, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var zero V
	artifacts, ok := idx.groups[group]
	if !ok {
		return zero, false
	}
	return artifacts.Get(artifact)
}

// Put inserts or overwrites the value for group:artifact.
func (idx *Index[V]) Put(group, artifact string, value V) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	artifacts, ok := idx.groups[group]
	if !ok {
		artifacts = &ordmap.Map[string, V]{}
		idx.groups[group] = artifacts
	}
	if !artifacts.Contains(artifact) {
		idx.size++
	}
	artifacts.Put(artifact, value)
}

// Remove deletes group:artifact, if present, and reports whether anything
// was removed.
func (idx *Index[V]) Remove(group, artifact string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	artifacts, ok := idx.groups[group]
	if !ok {
		return false
	}
	if !artifacts.Delete(artifact) {
		return false
	}
	idx.size--
	if idx.size < 0 {
		panic("index: size went negative, this is a bug")
	}
	if artifacts.Len() == 0 {
		delete(idx.groups, group)
	}
	return true
}

// Contains reports whether group:artifact is present.
func (idx *Index[V]) Contains(group, artifact string) bool {
	_, ok := idx.Get(group, artifact)
	return ok
}

// Size returns the total number of (group, artifact) entries across all groups.
func (idx *Index[V]) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.size
}

// Clear removes every entry.
func (idx *Index[V]) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.groups = map[string]*ordmap.Map[string, V]{}
	idx.size = 0
}

// VisitValues calls fn once for every value currently stored. fn returning
// false stops the visit early.
func (idx *Index[V]) VisitValues(fn func(group, artifact string, value V) bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for group, artifacts := range idx.groups {
		for it := artifacts.Iter(); !it.Done(); it.Next() {
			if !fn(group, it.Key(), it.Val()) {
				return
			}
		}
	}
}

// Stream returns a channel that yields every value currently stored. The
// values are sent into a channel buffered to hold all of them, and it is
// closed before Stream returns, so the caller may stop reading early
// without leaking anything.
func (idx *Index[V]) Stream() <-chan V {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(chan V, idx.size)
	for _, artifacts := range idx.groups {
		for it := artifacts.Iter(); !it.Done(); it.Next() {
			out <- it.Val()
		}
	}
	close(out)
	return out
}
