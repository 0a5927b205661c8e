package cachelayer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/mvnwatch/src/coordinate"
	"github.com/thought-machine/mvnwatch/src/filestore"
)

func newTestCache(t *testing.T) (*CacheLayer, *filestore.FileStore) {
	store := filestore.New(filepath.Join(t.TempDir(), "artifacts.binary"))
	return New(store, time.Hour), store
}

func TestPutThenGetReturnsDirtyCopyNotLiveEntry(t *testing.T) {
	c, _ := newTestCache(t)
	coord := coordinate.Coordinate{GroupID: "g", ArtifactID: "a"}
	info := coordinate.New(coord, time.Now())
	info.Versions = append(info.Versions, coordinate.Version{VersionString: "1.0"})
	require.NoError(t, c.Put(info))

	got, ok, err := c.Get(coord)
	require.NoError(t, err)
	require.True(t, ok)
	got.Versions[0].VersionString = "mutated"

	got2, _, err := c.Get(coord)
	require.NoError(t, err)
	assert.Equal(t, "1.0", got2.Versions[0].VersionString, "caller mutation must not affect the cached entry")
}

func TestGetMissReturnsFalse(t *testing.T) {
	c, _ := newTestCache(t)
	_, ok, err := c.Get(coordinate.Coordinate{GroupID: "g", ArtifactID: "a"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFlushPersistsToFileStore(t *testing.T) {
	c, store := newTestCache(t)
	coord := coordinate.Coordinate{GroupID: "g", ArtifactID: "a"}
	info := coordinate.New(coord, time.Now())
	require.NoError(t, c.Put(info))
	require.NoError(t, c.Flush())

	records, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].Artifact.ArtifactID)
}

func TestGetAllMergesDirtyOverClean(t *testing.T) {
	c, _ := newTestCache(t)
	coordA := coordinate.Coordinate{GroupID: "g", ArtifactID: "a"}
	infoA := coordinate.New(coordA, time.Now())
	require.NoError(t, c.Put(infoA))
	require.NoError(t, c.Flush())

	infoA2 := coordinate.New(coordA, time.Now())
	infoA2.Versions = append(infoA2.Versions, coordinate.Version{VersionString: "2.0"})
	require.NoError(t, c.Put(infoA2))

	all, err := c.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Len(t, all[0].Versions, 1)
}

func TestCloseFlushesAndStopsFlusher(t *testing.T) {
	c, store := newTestCache(t)
	c.StartFlusher()
	coord := coordinate.Coordinate{GroupID: "g", ArtifactID: "a"}
	require.NoError(t, c.Put(coordinate.New(coord, time.Now())))
	require.NoError(t, c.Close())

	records, err := store.LoadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestUpdateLastRequestDateOnCleanEntryMovesItToDirty(t *testing.T) {
	c, _ := newTestCache(t)
	coord := coordinate.Coordinate{GroupID: "g", ArtifactID: "a"}
	require.NoError(t, c.Put(coordinate.New(coord, time.Now())))
	require.NoError(t, c.Flush())

	later := time.Now().Add(time.Hour)
	require.NoError(t, c.UpdateLastRequestDate(coord, later))

	got, ok, err := c.Get(coord)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, later.UnixMilli(), got.LastRequestDate.UnixMilli())
}
