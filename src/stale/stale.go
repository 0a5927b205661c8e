// Package stale implements the pure staleness predicate shared by
// VersionTracker (foreground) and BackgroundRefresher: given a record's
// poll timestamps and the configured thresholds, decide whether it's
// eligible for refresh.
package stale

import (
	"time"

	"github.com/thought-machine/mvnwatch/src/coordinate"
)

// Predicate decides whether a possibly-absent cached record should be
// refreshed from upstream before being returned. Both VersionTracker and
// QueryEngine share this single type so a predicate built from IsStale can
// be passed between them without redefinition.
type Predicate func(info *coordinate.VersionInfo, isNewItem bool) bool

// IsStale implements spec.md §4.K:
//   - never polled -> stale
//   - polled, more recently by success -> stale if now-success exceeds minDelayAfterSuccess
//   - polled, more recently (or only) by failure -> stale if now-failure exceeds minDelayAfterFailure
func IsStale(info *coordinate.VersionInfo, minDelayAfterSuccess, minDelayAfterFailure time.Duration, now time.Time) bool {
	if info.LastPolledDate() == nil {
		return true
	}
	switch {
	case info.LastSuccessDate != nil && info.LastFailureDate != nil:
		if info.LastSuccessDate.After(*info.LastFailureDate) {
			return now.Sub(*info.LastSuccessDate) > minDelayAfterSuccess
		}
		return now.Sub(*info.LastFailureDate) > minDelayAfterFailure
	case info.LastFailureDate != nil:
		return now.Sub(*info.LastFailureDate) > minDelayAfterFailure
	default:
		return now.Sub(*info.LastSuccessDate) > minDelayAfterSuccess
	}
}

// NeedsReleaseDateFor reports whether any version in info (or its latest
// release/snapshot pointers, or the specific version named by coord) is
// missing a release date, and enough time has passed since the last poll
// that it's worth asking upstream again for it.
func NeedsReleaseDateFor(info *coordinate.VersionInfo, coord coordinate.Coordinate, minDelayAfterSuccess, minDelayAfterFailure time.Duration, now time.Time) bool {
	missing := false
	for _, v := range info.Versions {
		if v.ReleaseDate == nil {
			missing = true
			break
		}
	}
	if !missing && info.LatestReleaseVersion != nil && info.LatestReleaseVersion.ReleaseDate == nil {
		missing = true
	}
	if !missing && info.LatestSnapshotVersion != nil && info.LatestSnapshotVersion.ReleaseDate == nil {
		missing = true
	}
	if !missing && coord.Version != "" {
		if v := info.GetVersion(coord.Version); v == nil || v.ReleaseDate == nil {
			missing = true
		}
	}
	if !missing {
		return false
	}
	return IsStale(info, minDelayAfterSuccess, minDelayAfterFailure, now)
}
