package coordinate

import "time"

// A VersionInfo is the cached record for a single (group, artifact) pair:
// the data CacheLayer and FileStore persist.
//
// Invariants:
//   - LatestReleaseVersion / LatestSnapshotVersion, when non-nil, name an
//     entry present (by VersionString) in Versions.
//   - LastPolledDate() == max(LastSuccessDate, LastFailureDate), and is nil
//     only when both are nil.
//   - IsNewItem() iff LastPolledDate() is nil.
type VersionInfo struct {
	Artifact Coordinate // New leaves Version empty

	CreationDate         time.Time
	LastRequestDate      time.Time
	LastSuccessDate      *time.Time
	LastFailureDate      *time.Time
	LastRepositoryUpdate *time.Time

	LatestReleaseVersion  *Version
	LatestSnapshotVersion *Version
	Versions              []Version
}

// New creates an empty VersionInfo for coord (with Version cleared), stamped
// as freshly created by VersionTracker on first miss.
func New(coord Coordinate, now time.Time) *VersionInfo {
	return &VersionInfo{
		Artifact:        coord.WithoutVersion(),
		CreationDate:    now,
		LastRequestDate: now,
	}
}

// LastPolledDate returns max(LastSuccessDate, LastFailureDate), or nil if
// neither has ever been set.
func (v *VersionInfo) LastPolledDate() *time.Time {
	switch {
	case v.LastSuccessDate == nil:
		return v.LastFailureDate
	case v.LastFailureDate == nil:
		return v.LastSuccessDate
	case v.LastSuccessDate.After(*v.LastFailureDate):
		return v.LastSuccessDate
	default:
		return v.LastFailureDate
	}
}

// IsNewItem reports whether this record has never been successfully or
// unsuccessfully polled.
func (v *VersionInfo) IsNewItem() bool {
	return v.LastPolledDate() == nil
}

// GetVersion returns the entry matching versionString, or nil if absent.
func (v *VersionInfo) GetVersion(versionString string) *Version {
	for i := range v.Versions {
		if v.Versions[i].VersionString == versionString {
			return &v.Versions[i]
		}
	}
	return nil
}

// Upsert inserts ver if no entry with the same VersionString exists, or
// overwrites the existing entry otherwise. It does not touch
// LatestReleaseVersion/LatestSnapshotVersion; callers update those
// separately once the authoritative upstream picks are known.
func (v *VersionInfo) Upsert(ver Version) {
	for i := range v.Versions {
		if v.Versions[i].VersionString == ver.VersionString {
			v.Versions[i] = ver
			return
		}
	}
	v.Versions = append(v.Versions, ver)
}

// RetainOnly removes any entry from Versions whose VersionString is not in
// keep. This is UpstreamFetcher's reconciliation step (spec §4.G.5): the
// record tracks exactly the versions the upstream index currently reports.
func (v *VersionInfo) RetainOnly(keep map[string]bool) {
	kept := v.Versions[:0]
	for _, ver := range v.Versions {
		if keep[ver.VersionString] {
			kept = append(kept, ver)
		}
	}
	v.Versions = kept
}

// Clone returns a deep copy of v, suitable for handing to a caller outside
// the lock that protects the live record. CacheLayer.Get and FileStore
// reads always return clones, never the live entry.
func (v *VersionInfo) Clone() *VersionInfo {
	c := *v
	if v.LastSuccessDate != nil {
		t := *v.LastSuccessDate
		c.LastSuccessDate = &t
	}
	if v.LastFailureDate != nil {
		t := *v.LastFailureDate
		c.LastFailureDate = &t
	}
	if v.LastRepositoryUpdate != nil {
		t := *v.LastRepositoryUpdate
		c.LastRepositoryUpdate = &t
	}
	if v.LatestReleaseVersion != nil {
		lv := v.LatestReleaseVersion.Clone()
		c.LatestReleaseVersion = &lv
	}
	if v.LatestSnapshotVersion != nil {
		lv := v.LatestSnapshotVersion.Clone()
		c.LatestSnapshotVersion = &lv
	}
	c.Versions = make([]Version, len(v.Versions))
	for i, ver := range v.Versions {
		c.Versions[i] = ver.Clone()
	}
	return &c
}
