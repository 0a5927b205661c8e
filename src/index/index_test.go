package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPutGetRemove(t *testing.T) {
	idx := New[int]()
	idx.Put("org.apache.commons", "commons-lang3", 1)
	idx.Put("org.apache.commons", "commons-io", 2)
	idx.Put("com.google.guava", "guava", 3)
	assert.Equal(t, 3, idx.Size())

	v, ok := idx.Get("org.apache.commons", "commons-lang3")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	assert.True(t, idx.Remove("org.apache.commons", "commons-lang3"))
	assert.Equal(t, 2, idx.Size())
	assert.False(t, idx.Contains("org.apache.commons", "commons-lang3"))
	// group should still exist for the other artifact
	assert.True(t, idx.Contains("org.apache.commons", "commons-io"))
}

func TestSizeNeverNegative(t *testing.T) {
	idx := New[int]()
	assert.False(t, idx.Remove("g", "a"))
	assert.Equal(t, 0, idx.Size())
}

func TestVisitValuesAndStream(t *testing.T) {
	idx := New[int]()
	idx.Put("g1", "a1", 1)
	idx.Put("g1", "a2", 2)
	idx.Put("g2", "a1", 3)

	seen := map[int]bool{}
	idx.VisitValues(func(group, artifact string, v int) bool {
		seen[v] = true
		return true
	})
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, seen)

	streamed := map[int]bool{}
	for v := range idx.Stream() {
		streamed[v] = true
	}
	assert.Equal(t, seen, streamed)
}

func TestClear(t *testing.T) {
	idx := New[int]()
	idx.Put("g", "a", 1)
	idx.Clear()
	assert.Equal(t, 0, idx.Size())
	assert.False(t, idx.Contains("g", "a"))
}
