package coordinate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEqualsAndMatchesExcludingVersion(t *testing.T) {
	a := Coordinate{GroupID: "org.apache.commons", ArtifactID: "commons-lang3", Version: "3.11", Type: "jar"}
	b := a
	b.Version = "3.12.0"
	assert.False(t, a.Equals(b))
	assert.True(t, a.MatchesExcludingVersion(b))
}

func TestIsSnapshotIsRelease(t *testing.T) {
	cases := map[string]bool{
		"1.2.3":           false,
		"1.2.3-SNAPSHOT":  true,
		"2.0-beta":        true,
		"3.2.0-alpha1":    false, // trailing run is numeric, per the documented split algorithm
		"1":               false,
		"":                false,
	}
	for version, wantSnapshot := range cases {
		c := Coordinate{Version: version}
		assert.Equal(t, wantSnapshot, c.IsSnapshot(), "version %q", version)
		assert.Equal(t, !wantSnapshot, c.IsRelease(), "version %q", version)
	}
}

func TestCompareVersionsNumericAware(t *testing.T) {
	assert.True(t, CompareVersions("3.2", "3.10") < 0)
	assert.True(t, CompareVersions("3.10", "3.2") > 0)
	assert.Equal(t, 0, CompareVersions("1.0.0", "1.0.0"))
	assert.True(t, CompareVersions("1.0", "1.0.1") < 0)
	assert.True(t, CompareVersions("1.0-SNAPSHOT", "1.0-alpha") > 0 || CompareVersions("1.0-SNAPSHOT", "1.0-alpha") < 0)
}

func TestLastPolledDateAndIsNewItem(t *testing.T) {
	info := New(Coordinate{GroupID: "g", ArtifactID: "a"}, time.Now())
	assert.True(t, info.IsNewItem())
	assert.Nil(t, info.LastPolledDate())

	success := time.Now()
	info.LastSuccessDate = &success
	assert.False(t, info.IsNewItem())
	assert.Equal(t, success, *info.LastPolledDate())

	failure := success.Add(time.Hour)
	info.LastFailureDate = &failure
	assert.Equal(t, failure, *info.LastPolledDate())
}

func TestUpsertAndRetainOnly(t *testing.T) {
	info := New(Coordinate{GroupID: "g", ArtifactID: "a"}, time.Now())
	info.Upsert(Version{VersionString: "1.0"})
	info.Upsert(Version{VersionString: "2.0"})
	info.Upsert(Version{VersionString: "1.0"}) // overwrite, not duplicate
	assert.Len(t, info.Versions, 2)

	info.RetainOnly(map[string]bool{"2.0": true})
	assert.Len(t, info.Versions, 1)
	assert.Equal(t, "2.0", info.Versions[0].VersionString)
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	info := New(Coordinate{GroupID: "g", ArtifactID: "a"}, now)
	info.LastSuccessDate = &now
	info.Upsert(Version{VersionString: "1.0", ReleaseDate: &now})

	clone := info.Clone()
	newer := now.Add(time.Hour)
	*clone.LastSuccessDate = newer
	clone.Versions[0].ReleaseDate = &newer

	assert.Equal(t, now, *info.LastSuccessDate, "mutating the clone must not affect the original")
	assert.Equal(t, now, *info.Versions[0].ReleaseDate)
}
