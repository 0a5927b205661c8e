package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/mvnwatch/src/blacklist"
	"github.com/thought-machine/mvnwatch/src/coordinate"
	"github.com/thought-machine/mvnwatch/src/stale"
)

type fakeSource struct {
	infos map[coordinate.Coordinate]*coordinate.VersionInfo
}

func (f *fakeSource) GetVersionInfo(ctx context.Context, coords []coordinate.Coordinate, stalePredicate stale.Predicate) (map[coordinate.Coordinate]*coordinate.VersionInfo, error) {
	out := map[coordinate.Coordinate]*coordinate.VersionInfo{}
	for _, c := range coords {
		key := c.WithoutVersion()
		if info, ok := f.infos[key]; ok {
			out[c] = info
		}
	}
	return out, nil
}

func widgetInfo() *coordinate.VersionInfo {
	return &coordinate.VersionInfo{
		Artifact: coordinate.Coordinate{GroupID: "com.example", ArtifactID: "widget"},
		Versions: []coordinate.Version{
			{VersionString: "1.2.0"},
			{VersionString: "1.4.0"},
			{VersionString: "1.5.0-SNAPSHOT"},
		},
	}
}

func TestQueryYesWhenNewerReleaseExists(t *testing.T) {
	source := &fakeSource{infos: map[coordinate.Coordinate]*coordinate.VersionInfo{
		{GroupID: "com.example", ArtifactID: "widget"}: widgetInfo(),
	}}
	engine := New(source, nil, nil)

	results, err := engine.Query(context.Background(), []coordinate.Coordinate{
		{GroupID: "com.example", ArtifactID: "widget", Version: "1.2.0"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, Yes, results[0].UpdateAvailable)
	assert.Equal(t, "1.4.0", results[0].LatestVersion.VersionString)
}

func TestQueryNoWhenAlreadyLatest(t *testing.T) {
	source := &fakeSource{infos: map[coordinate.Coordinate]*coordinate.VersionInfo{
		{GroupID: "com.example", ArtifactID: "widget"}: widgetInfo(),
	}}
	engine := New(source, nil, nil)

	results, err := engine.Query(context.Background(), []coordinate.Coordinate{
		{GroupID: "com.example", ArtifactID: "widget", Version: "1.4.0"},
	})
	require.NoError(t, err)
	assert.Equal(t, No, results[0].UpdateAvailable)
}

func TestQueryMaybeWhenNoVersionRequested(t *testing.T) {
	source := &fakeSource{infos: map[coordinate.Coordinate]*coordinate.VersionInfo{
		{GroupID: "com.example", ArtifactID: "widget"}: widgetInfo(),
	}}
	engine := New(source, nil, nil)

	results, err := engine.Query(context.Background(), []coordinate.Coordinate{
		{GroupID: "com.example", ArtifactID: "widget"},
	})
	require.NoError(t, err)
	assert.Equal(t, Maybe, results[0].UpdateAvailable)
}

func TestQueryNotFoundForUnknownArtifact(t *testing.T) {
	source := &fakeSource{infos: map[coordinate.Coordinate]*coordinate.VersionInfo{}}
	engine := New(source, nil, nil)

	results, err := engine.Query(context.Background(), []coordinate.Coordinate{
		{GroupID: "com.example", ArtifactID: "missing", Version: "1.0.0"},
	})
	require.NoError(t, err)
	assert.Equal(t, NotFound, results[0].UpdateAvailable)
}

func TestQuerySkipsFullyBlacklistedArtifact(t *testing.T) {
	source := &fakeSource{infos: map[coordinate.Coordinate]*coordinate.VersionInfo{
		{GroupID: "com.example", ArtifactID: "widget"}: widgetInfo(),
	}}
	bl := blacklist.New()
	require.NoError(t, bl.AddGroupArtifact("com.example", "widget", ".*", blacklist.Regex))
	engine := New(source, bl, nil)

	results, err := engine.Query(context.Background(), []coordinate.Coordinate{
		{GroupID: "com.example", ArtifactID: "widget", Version: "1.2.0"},
	})
	require.NoError(t, err)
	assert.Equal(t, NotFound, results[0].UpdateAvailable)
}

func TestQueryExcludesBlacklistedVersionFromLatest(t *testing.T) {
	source := &fakeSource{infos: map[coordinate.Coordinate]*coordinate.VersionInfo{
		{GroupID: "com.example", ArtifactID: "widget"}: widgetInfo(),
	}}
	bl := blacklist.New()
	require.NoError(t, bl.AddGroupArtifact("com.example", "widget", "1.4.0", blacklist.Exact))
	engine := New(source, bl, nil)

	results, err := engine.Query(context.Background(), []coordinate.Coordinate{
		{GroupID: "com.example", ArtifactID: "widget", Version: "1.2.0"},
	})
	require.NoError(t, err)
	assert.Equal(t, No, results[0].UpdateAvailable)
	assert.Equal(t, "1.2.0", results[0].LatestVersion.VersionString)
}

func TestQuerySnapshotComparesAgainstSnapshotLatest(t *testing.T) {
	source := &fakeSource{infos: map[coordinate.Coordinate]*coordinate.VersionInfo{
		{GroupID: "com.example", ArtifactID: "widget"}: widgetInfo(),
	}}
	engine := New(source, nil, nil)

	results, err := engine.Query(context.Background(), []coordinate.Coordinate{
		{GroupID: "com.example", ArtifactID: "widget", Version: "1.5.0-SNAPSHOT"},
	})
	require.NoError(t, err)
	assert.Equal(t, No, results[0].UpdateAvailable)
	assert.Equal(t, "1.5.0-SNAPSHOT", results[0].LatestVersion.VersionString)
}
