// Package query implements QueryEngine: the request-handling layer that
// applies the blacklist, asks VersionTracker for current records, and
// computes each requested artifact's update status (spec.md §4.J). Both
// the HTTP/wire entry point and any in-process caller share the single
// processQuery implementation here, avoiding the original's servlet/
// in-process duplication.
package query

import (
	"context"

	"github.com/thought-machine/mvnwatch/src/blacklist"
	"github.com/thought-machine/mvnwatch/src/coordinate"
	"github.com/thought-machine/mvnwatch/src/stale"
)

// UpdateStatus is the verdict QueryEngine attaches to each requested
// coordinate.
type UpdateStatus int

const (
	// Yes indicates a newer version than the requested one is available.
	Yes UpdateStatus = iota
	// No indicates the requested version is already the latest (or newer).
	No
	// Maybe indicates there isn't enough information to say (no version requested, or no latest known).
	Maybe
	// NotFound indicates the artifact has no known versions at all.
	NotFound
)

func (s UpdateStatus) String() string {
	switch s {
	case Yes:
		return "yes"
	case No:
		return "no"
	case NotFound:
		return "not_found"
	default:
		return "maybe"
	}
}

// An ArtifactResult is QueryEngine's per-coordinate answer.
type ArtifactResult struct {
	Coordinate      coordinate.Coordinate
	CurrentVersion  *coordinate.Version
	LatestVersion   *coordinate.Version
	UpdateAvailable UpdateStatus
}

// A VersionSource is anything that can resolve a batch of coordinates to
// their current VersionInfo records; satisfied by *tracker.VersionTracker.
type VersionSource interface {
	GetVersionInfo(ctx context.Context, coords []coordinate.Coordinate, stalePredicate stale.Predicate) (map[coordinate.Coordinate]*coordinate.VersionInfo, error)
}

// A QueryEngine answers client queries by combining a VersionSource with a
// Blacklist.
type QueryEngine struct {
	Source    VersionSource
	Blacklist *blacklist.Blacklist
	Stale     stale.Predicate
}

// New returns a QueryEngine.
func New(source VersionSource, bl *blacklist.Blacklist, stalePredicate stale.Predicate) *QueryEngine {
	return &QueryEngine{Source: source, Blacklist: bl, Stale: stalePredicate}
}

// Query is the single entry point used by every caller (wire protocol,
// in-process callers, tests): it never duplicates the per-coordinate logic
// below.
func (q *QueryEngine) Query(ctx context.Context, coords []coordinate.Coordinate) ([]ArtifactResult, error) {
	return q.processQuery(ctx, coords)
}

func (q *QueryEngine) processQuery(ctx context.Context, coords []coordinate.Coordinate) ([]ArtifactResult, error) {
	fetchList := make([]coordinate.Coordinate, 0, len(coords))
	for _, c := range coords {
		if q.Blacklist != nil && q.Blacklist.IsAllVersionsBlacklisted(c.GroupID, c.ArtifactID) {
			continue
		}
		fetchList = append(fetchList, c)
	}

	infos, err := q.Source.GetVersionInfo(ctx, fetchList, q.Stale)
	if err != nil {
		return nil, err
	}

	results := make([]ArtifactResult, 0, len(coords))
	for _, c := range coords {
		results = append(results, q.resultFor(c, infos[c]))
	}
	return results, nil
}

func (q *QueryEngine) resultFor(coord coordinate.Coordinate, info *coordinate.VersionInfo) ArtifactResult {
	result := ArtifactResult{Coordinate: coord}
	if info == nil || len(info.Versions) == 0 {
		result.UpdateAvailable = NotFound
		return result
	}

	var latest *coordinate.Version
	if coord.IsRelease() {
		latest = q.findLatestReleaseVersion(info)
	} else {
		latest = q.findLatestSnapshotVersion(info)
	}
	result.LatestVersion = latest
	result.CurrentVersion = info.GetVersion(coord.Version)

	switch {
	case coord.Version == "" || latest == nil:
		result.UpdateAvailable = Maybe
	case coordinate.CompareVersions(coord.Version, latest.VersionString) >= 0:
		result.UpdateAvailable = No
	default:
		result.UpdateAvailable = Yes
	}
	return result
}

// findLatestReleaseVersion picks the maximum release version in info,
// excluding anything blacklisted for this artifact.
func (q *QueryEngine) findLatestReleaseVersion(info *coordinate.VersionInfo) *coordinate.Version {
	return q.findLatest(info, func(v coordinate.Version) bool { return v.IsRelease() })
}

// findLatestSnapshotVersion picks the maximum snapshot version in info,
// excluding anything blacklisted for this artifact.
func (q *QueryEngine) findLatestSnapshotVersion(info *coordinate.VersionInfo) *coordinate.Version {
	return q.findLatest(info, func(v coordinate.Version) bool { return v.IsSnapshot() })
}

func (q *QueryEngine) findLatest(info *coordinate.VersionInfo, include func(coordinate.Version) bool) *coordinate.Version {
	var best *coordinate.Version
	for i := range info.Versions {
		v := &info.Versions[i]
		if !include(*v) {
			continue
		}
		if q.Blacklist != nil && q.Blacklist.IsVersionBlacklisted(info.Artifact.GroupID, info.Artifact.ArtifactID, v.VersionString) {
			continue
		}
		if best == nil || coordinate.CompareVersions(v.VersionString, best.VersionString) > 0 {
			best = v
		}
	}
	return best
}
