package stale

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/thought-machine/mvnwatch/src/coordinate"
)

var (
	minSuccess = 10 * time.Minute
	minFailure = time.Minute
	now        = time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
)

func TestIsStaleNeverPolled(t *testing.T) {
	info := &coordinate.VersionInfo{}
	assert.True(t, IsStale(info, minSuccess, minFailure, now))
	// regardless of how generous the thresholds are
	assert.True(t, IsStale(info, 24*time.Hour, 24*time.Hour, now))
}

func TestIsStaleSuccessMoreRecentThanFailure(t *testing.T) {
	success := now.Add(-5 * time.Minute)
	failure := now.Add(-time.Hour)
	info := &coordinate.VersionInfo{LastSuccessDate: &success, LastFailureDate: &failure}
	assert.False(t, IsStale(info, minSuccess, minFailure, now), "5m < 10m minDelayAfterSuccess")

	success2 := now.Add(-20 * time.Minute)
	info2 := &coordinate.VersionInfo{LastSuccessDate: &success2, LastFailureDate: &failure}
	assert.True(t, IsStale(info2, minSuccess, minFailure, now), "20m > 10m minDelayAfterSuccess")
}

func TestIsStaleFailureMoreRecentThanSuccess(t *testing.T) {
	success := now.Add(-time.Hour)
	failure := now.Add(-30 * time.Second)
	info := &coordinate.VersionInfo{LastSuccessDate: &success, LastFailureDate: &failure}
	assert.False(t, IsStale(info, minSuccess, minFailure, now), "30s < 1m minDelayAfterFailure")

	failure2 := now.Add(-2 * time.Minute)
	info2 := &coordinate.VersionInfo{LastSuccessDate: &success, LastFailureDate: &failure2}
	assert.True(t, IsStale(info2, minSuccess, minFailure, now), "2m > 1m minDelayAfterFailure")
}

func TestIsStaleOnlyFailureSet(t *testing.T) {
	recent := now.Add(-30 * time.Second)
	info := &coordinate.VersionInfo{LastFailureDate: &recent}
	assert.False(t, IsStale(info, minSuccess, minFailure, now))

	old := now.Add(-5 * time.Minute)
	info2 := &coordinate.VersionInfo{LastFailureDate: &old}
	assert.True(t, IsStale(info2, minSuccess, minFailure, now))
}

func TestIsStaleOnlySuccessSet(t *testing.T) {
	recent := now.Add(-time.Minute)
	info := &coordinate.VersionInfo{LastSuccessDate: &recent}
	assert.False(t, IsStale(info, minSuccess, minFailure, now))

	old := now.Add(-time.Hour)
	info2 := &coordinate.VersionInfo{LastSuccessDate: &old}
	assert.True(t, IsStale(info2, minSuccess, minFailure, now))
}

func TestNeedsReleaseDateForMissingVersionEntry(t *testing.T) {
	recent := now.Add(-time.Minute)
	released := now.Add(-24 * time.Hour)
	info := &coordinate.VersionInfo{
		LastSuccessDate: &recent,
		Versions: []coordinate.Version{
			{VersionString: "1.0", ReleaseDate: &released},
			{VersionString: "1.1"}, // no release date
		},
	}
	coord := coordinate.Coordinate{GroupID: "g", ArtifactID: "a", Version: "1.0"}
	// missing date exists but not stale yet (1m < 10m)
	assert.False(t, NeedsReleaseDateFor(info, coord, minSuccess, minFailure, now))

	old := now.Add(-time.Hour)
	info.LastSuccessDate = &old
	assert.True(t, NeedsReleaseDateFor(info, coord, minSuccess, minFailure, now))
}

func TestNeedsReleaseDateForAllDatesPresent(t *testing.T) {
	old := now.Add(-time.Hour)
	released := now.Add(-24 * time.Hour)
	info := &coordinate.VersionInfo{
		LastSuccessDate: &old,
		Versions: []coordinate.Version{
			{VersionString: "1.0", ReleaseDate: &released},
		},
	}
	coord := coordinate.Coordinate{GroupID: "g", ArtifactID: "a", Version: "1.0"}
	assert.False(t, NeedsReleaseDateFor(info, coord, minSuccess, minFailure, now))
}

func TestNeedsReleaseDateForMissingRequestedVersion(t *testing.T) {
	old := now.Add(-time.Hour)
	info := &coordinate.VersionInfo{LastSuccessDate: &old}
	coord := coordinate.Coordinate{GroupID: "g", ArtifactID: "a", Version: "9.9"}
	assert.True(t, NeedsReleaseDateFor(info, coord, minSuccess, minFailure, now))
}
