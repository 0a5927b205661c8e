package tracker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/mvnwatch/src/blacklist"
	"github.com/thought-machine/mvnwatch/src/cachelayer"
	"github.com/thought-machine/mvnwatch/src/coordinate"
	"github.com/thought-machine/mvnwatch/src/filestore"
	"github.com/thought-machine/mvnwatch/src/lockcache"
	"github.com/thought-machine/mvnwatch/src/upstream"
)

func newTestTracker(t *testing.T) *VersionTracker {
	store := filestore.New(filepath.Join(t.TempDir(), "artifacts.binary"))
	cache := cachelayer.New(store, time.Hour)
	locks := lockcache.New()
	// no real HTTP server configured: used only with an always-fresh
	// predicate so Update is never actually invoked in these tests.
	fetcher := upstream.New("http://unused.invalid", "http://unused.invalid", blacklist.New())
	return New(cache, locks, fetcher)
}

func alwaysFresh(info *coordinate.VersionInfo, isNewItem bool) bool { return false }

func TestGetVersionInfoReturnsExistingFreshRecordWithoutFetching(t *testing.T) {
	tr := newTestTracker(t)
	coord := coordinate.Coordinate{GroupID: "g", ArtifactID: "a"}
	seed := coordinate.New(coord, time.Now())
	seed.Versions = append(seed.Versions, coordinate.Version{VersionString: "1.0"})
	require.NoError(t, tr.cache.Put(seed))

	results, err := tr.GetVersionInfo(context.Background(), []coordinate.Coordinate{coord}, alwaysFresh)
	require.NoError(t, err)
	require.Contains(t, results, coord)
	assert.Len(t, results[coord].Versions, 1)
}

func TestGetVersionInfoHandlesMultipleCoordinatesConcurrently(t *testing.T) {
	tr := newTestTracker(t)
	var coords []coordinate.Coordinate
	for i := 0; i < 10; i++ {
		coord := coordinate.Coordinate{GroupID: "g", ArtifactID: string(rune('a' + i))}
		require.NoError(t, tr.cache.Put(coordinate.New(coord, time.Now())))
		coords = append(coords, coord)
	}

	results, err := tr.GetVersionInfo(context.Background(), coords, alwaysFresh)
	require.NoError(t, err)
	assert.Len(t, results, 10)
}
