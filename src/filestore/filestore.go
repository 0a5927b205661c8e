// Package filestore implements FileStore: durable, atomic persistence of
// every tracked VersionInfo record, in the bit-exact binary format described
// by spec.md §4.D, with read-only support for the legacy v1 layout and a
// deprecated JSON fallback that's migrated to binary on first load.
package filestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/mvnwatch/src/codec"
	"github.com/thought-machine/mvnwatch/src/coordinate"
	"github.com/thought-machine/mvnwatch/src/metrics"
	"github.com/thought-machine/mvnwatch/src/mvnerr"
)

var log = logging.MustGetLogger("filestore")

var (
	readsTotal         = metrics.NewCounter("filestore", "reads_total", "VersionInfo load operations attempted")
	readFailuresTotal  = metrics.NewCounter("filestore", "read_failures_total", "VersionInfo load operations that failed")
	writesTotal        = metrics.NewCounter("filestore", "writes_total", "SaveOrUpdate operations attempted")
	writeFailuresTotal = metrics.NewCounter("filestore", "write_failures_total", "SaveOrUpdate operations that failed")
)

const (
	magicCurrent uint64 = 0xFFFFFFFFDEADFACE
	magicLegacy  uint64 = 0xFFFFFFFFDEADBEEF
)

// currentSchemaVersion is the format version stamped into freshly written
// files. Schema V3 introduced Version.FirstSeenByServer.
const currentSchemaVersion int16 = 3

const (
	tagVersionData byte = 0x01
	tagEndOfFile   byte = 0xFF
)

// Stats holds the read/write counters and timestamps FileStore exposes,
// each updated under its own lock independent of the store's main mutex.
type Stats struct {
	mu                sync.Mutex
	Reads             int64
	Writes            int64
	ReadFailures      int64
	WriteFailures     int64
	LastReadRequested time.Time
	LastReadSuccess   time.Time
	LastWriteRequested time.Time
	LastWriteSuccess  time.Time
	SizeBytes         int64
	ArtifactCount     int
	VersionCount      int
}

func (s *Stats) recordReadStart() {
	readsTotal.Inc()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reads++
	s.LastReadRequested = time.Now()
}

func (s *Stats) recordReadSuccess(size int64, artifacts, versions int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastReadSuccess = time.Now()
	s.SizeBytes = size
	s.ArtifactCount = artifacts
	s.VersionCount = versions
}

func (s *Stats) recordReadFailure() {
	readFailuresTotal.Inc()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReadFailures++
}

func (s *Stats) recordWriteStart() {
	writesTotal.Inc()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Writes++
	s.LastWriteRequested = time.Now()
}

func (s *Stats) recordWriteSuccess(size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastWriteSuccess = time.Now()
	s.SizeBytes = size
}

func (s *Stats) recordWriteFailure() {
	writeFailuresTotal.Inc()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WriteFailures++
}

// Snapshot returns a copy of the current counters, safe to read concurrently
// with updates.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *s
	c.mu = sync.Mutex{}
	return c
}

// A FileStore owns one on-disk file holding every tracked VersionInfo
// record. Reads and writes are serialized by mu; Stats tracks its own
// counters independently so callers can poll them without blocking I/O.
type FileStore struct {
	path  string
	mu    sync.Mutex
	Stats Stats
}

// New returns a FileStore backed by path. The file need not exist yet; it's
// created on the first Save.
func New(path string) *FileStore {
	return &FileStore{path: path}
}

// LoadAll reads every VersionInfo record currently persisted. A missing file
// is not an error; it returns an empty slice.
func (fs *FileStore) LoadAll() ([]*coordinate.VersionInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.Stats.recordReadStart()

	data, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		fs.Stats.recordReadSuccess(0, 0, 0)
		return nil, nil
	}
	if err != nil {
		fs.Stats.recordReadFailure()
		return nil, mvnerr.Wrap(mvnerr.IO, err, "reading %s", fs.path)
	}

	records, migrated, err := fs.decode(data)
	if err != nil {
		fs.Stats.recordReadFailure()
		return nil, err
	}

	versions := 0
	for _, r := range records {
		versions += len(r.Versions)
	}
	fs.Stats.recordReadSuccess(int64(len(data)), len(records), versions)
	log.Infof("loaded %d artifacts (%s) from %s", len(records), humanize.Bytes(uint64(len(data))), fs.path)

	if migrated {
		log.Infof("rewriting %s after schema/format migration", fs.path)
		if err := fs.saveLocked(records); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// decode dispatches to the JSON or binary reader based on the first
// non-whitespace byte, and reports whether the on-disk format needs
// rewriting (JSON source, or an older binary schema).
func (fs *FileStore) decode(data []byte) (records []*coordinate.VersionInfo, needsRewrite bool, err error) {
	trimmed := skipWhitespace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		records, err = decodeJSON(trimmed)
		if err != nil {
			return nil, false, err
		}
		binaryPath := fs.path + ".binary"
		if _, statErr := os.Stat(binaryPath); os.IsNotExist(statErr) {
			if err := writeBinary(binaryPath, records); err != nil {
				return nil, false, err
			}
			log.Infof("wrote binary companion %s", binaryPath)
		}
		return records, false, nil
	}
	return decodeBinary(data)
}

func skipWhitespace(data []byte) []byte {
	i := 0
	for i < len(data) {
		switch data[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return data[i:]
		}
	}
	return data[i:]
}

// SaveOrUpdate merges updates into the currently persisted set (keyed by
// Artifact.Key()) and atomically rewrites the whole file. This is the
// primitive CacheLayer's flusher uses: every flush writes the complete
// record set, not just the delta.
func (fs *FileStore) SaveOrUpdate(updates []*coordinate.VersionInfo) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.Stats.recordWriteStart()

	existing, _, err := fs.loadExistingLocked()
	if err != nil {
		fs.Stats.recordWriteFailure()
		return err
	}
	byKey := make(map[string]*coordinate.VersionInfo, len(existing))
	var order []string
	for _, r := range existing {
		key := r.Artifact.Key()
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = r
	}
	for _, u := range updates {
		key := u.Artifact.Key()
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = u
	}
	merged := make([]*coordinate.VersionInfo, len(order))
	for i, key := range order {
		merged[i] = byKey[key]
	}
	if err := fs.saveLocked(merged); err != nil {
		fs.Stats.recordWriteFailure()
		return err
	}
	return nil
}

func (fs *FileStore) loadExistingLocked() ([]*coordinate.VersionInfo, bool, error) {
	data, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mvnerr.Wrap(mvnerr.IO, err, "reading %s", fs.path)
	}
	return fs.decode(data)
}

func (fs *FileStore) saveLocked(records []*coordinate.VersionInfo) error {
	tmp := fs.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o755); err != nil {
		return mvnerr.Wrap(mvnerr.IO, err, "creating directory for %s", fs.path)
	}
	data := encodeBinary(records)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return mvnerr.Wrap(mvnerr.IO, err, "writing %s", tmp)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return mvnerr.Wrap(mvnerr.IO, err, "renaming %s to %s", tmp, fs.path)
	}
	fs.Stats.recordWriteSuccess(int64(len(data)))
	return nil
}

func encodeBinary(records []*coordinate.VersionInfo) []byte {
	e := codec.NewEncoder()
	e.Uint64(magicCurrent)
	e.Short(currentSchemaVersion)

	payload := codec.NewEncoder()
	for _, r := range records {
		encodeVersionInfo(payload, r)
	}
	writeTag(e, tagVersionData, payload.Bytes())
	writeTag(e, tagEndOfFile, nil)
	return e.Bytes()
}

func writeTag(e *codec.Encoder, tag byte, payload []byte) {
	e.Byte(tag)
	e.Int(int32(len(payload)))
	e.Raw(payload)
}

func encodeVersionInfo(e *codec.Encoder, v *coordinate.VersionInfo) {
	encodeCoordinate(e, v.Artifact)
	e.Long(v.CreationDate.UnixMilli())
	e.Long(v.LastRequestDate.UnixMilli())
	e.Date(v.LastSuccessDate)
	e.Date(v.LastFailureDate)
	e.Date(v.LastRepositoryUpdate)
	encodeOptionalVersion(e, v.LatestReleaseVersion)
	encodeOptionalVersion(e, v.LatestSnapshotVersion)
	e.Int(int32(len(v.Versions)))
	for i := range v.Versions {
		encodeVersion(e, &v.Versions[i])
	}
}

func encodeCoordinate(e *codec.Encoder, c coordinate.Coordinate) {
	e.String(&c.GroupID)
	e.String(&c.ArtifactID)
	e.String(&c.Version)
	classifier := c.Classifier
	e.String(&classifier)
	e.String(&c.Type)
}

func encodeOptionalVersion(e *codec.Encoder, v *coordinate.Version) {
	if v == nil {
		e.Bool(false)
		return
	}
	e.Bool(true)
	encodeVersion(e, v)
}

func encodeVersion(e *codec.Encoder, v *coordinate.Version) {
	e.String(&v.VersionString)
	e.Date(v.ReleaseDate)
	e.Date(v.FirstSeenByServer)
}

func decodeBinary(data []byte) (records []*coordinate.VersionInfo, needsRewrite bool, err error) {
	d := codec.NewDecoder(data)
	magic, derr := d.Uint64()
	if derr != nil {
		return nil, false, derr
	}
	switch magic {
	case magicLegacy:
		records, err = decodeLegacyV1(d)
		return records, true, err
	case magicCurrent:
		schema, derr := d.Short()
		if derr != nil {
			return nil, false, derr
		}
		records, err = decodeTagged(d, schema)
		return records, schema < currentSchemaVersion, err
	default:
		return nil, false, mvnerr.New(mvnerr.Decode, "unrecognized magic 0x%x", magic)
	}
}

func decodeTagged(d *codec.Decoder, schema int16) ([]*coordinate.VersionInfo, error) {
	var records []*coordinate.VersionInfo
	for {
		tag, err := d.Byte()
		if err != nil {
			return nil, err
		}
		length, err := d.Int()
		if err != nil {
			return nil, err
		}
		if length < 0 {
			return nil, mvnerr.New(mvnerr.Decode, "negative payload length %d at offset %d", length, d.Offset())
		}
		switch tag {
		case tagEndOfFile:
			return records, nil
		case tagVersionData:
			rs, err := decodeVersionDataPayload(d, int(length), schema)
			if err != nil {
				return nil, err
			}
			records = append(records, rs...)
		default:
			if err := d.Skip(int(length)); err != nil {
				return nil, err
			}
		}
	}
}

// decodeVersionDataPayload decodes as many VersionInfo records as fit in a
// VERSION_DATA payload of the given declared length. Records are read from
// the shared decoder until the declared length is consumed; a record that
// ends past the tag's boundary is a decode error.
func decodeVersionDataPayload(d *codec.Decoder, length int, schema int16) ([]*coordinate.VersionInfo, error) {
	start := d.Offset()
	var records []*coordinate.VersionInfo
	for d.Offset()-start < length {
		v, err := decodeVersionInfo(d, schema)
		if err != nil {
			return nil, err
		}
		records = append(records, v)
	}
	if d.Offset()-start != length {
		return nil, mvnerr.New(mvnerr.Decode, "VERSION_DATA records end at offset %d, past the declared payload length %d", d.Offset(), length)
	}
	return records, nil
}

func decodeVersionInfo(d *codec.Decoder, schema int16) (*coordinate.VersionInfo, error) {
	coord, err := decodeCoordinate(d)
	if err != nil {
		return nil, err
	}
	creationMillis, err := d.Long()
	if err != nil {
		return nil, err
	}
	lastRequestMillis, err := d.Long()
	if err != nil {
		return nil, err
	}
	lastSuccess, err := d.Date()
	if err != nil {
		return nil, err
	}
	lastFailure, err := d.Date()
	if err != nil {
		return nil, err
	}
	lastRepoUpdate, err := d.Date()
	if err != nil {
		return nil, err
	}
	latestRelease, err := decodeOptionalVersion(d)
	if err != nil {
		return nil, err
	}
	latestSnapshot, err := decodeOptionalVersion(d)
	if err != nil {
		return nil, err
	}
	count, err := d.Int()
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, mvnerr.New(mvnerr.Decode, "negative version count %d", count)
	}
	versions := make([]coordinate.Version, count)
	for i := range versions {
		v, err := decodeVersion(d)
		if err != nil {
			return nil, err
		}
		versions[i] = v
	}
	if schema < 3 {
		migrateFirstSeenByServer(versions)
	}
	return &coordinate.VersionInfo{
		Artifact:             coord,
		CreationDate:         time.UnixMilli(creationMillis).UTC(),
		LastRequestDate:      time.UnixMilli(lastRequestMillis).UTC(),
		LastSuccessDate:      lastSuccess,
		LastFailureDate:      lastFailure,
		LastRepositoryUpdate: lastRepoUpdate,
		LatestReleaseVersion: latestRelease,
		LatestSnapshotVersion: latestSnapshot,
		Versions:             versions,
	}, nil
}

// migrateFirstSeenByServer implements the schema V3 migration rule: populate
// FirstSeenByServer from ReleaseDate where known, else now.
func migrateFirstSeenByServer(versions []coordinate.Version) {
	now := time.Now().UTC()
	for i := range versions {
		if versions[i].FirstSeenByServer != nil {
			continue
		}
		if versions[i].ReleaseDate != nil {
			t := *versions[i].ReleaseDate
			versions[i].FirstSeenByServer = &t
		} else {
			t := now
			versions[i].FirstSeenByServer = &t
		}
	}
}

func decodeCoordinate(d *codec.Decoder) (coordinate.Coordinate, error) {
	group, err := d.String()
	if err != nil {
		return coordinate.Coordinate{}, err
	}
	artifact, err := d.String()
	if err != nil {
		return coordinate.Coordinate{}, err
	}
	version, err := d.String()
	if err != nil {
		return coordinate.Coordinate{}, err
	}
	classifier, err := d.String()
	if err != nil {
		return coordinate.Coordinate{}, err
	}
	typ, err := d.String()
	if err != nil {
		return coordinate.Coordinate{}, err
	}
	return coordinate.Coordinate{
		GroupID:    derefOr(group, ""),
		ArtifactID: derefOr(artifact, ""),
		Version:    derefOr(version, ""),
		Classifier: derefOr(classifier, ""),
		Type:       derefOr(typ, ""),
	}, nil
}

func decodeOptionalVersion(d *codec.Decoder) (*coordinate.Version, error) {
	present, err := d.Bool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	v, err := decodeVersion(d)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeVersion(d *codec.Decoder) (coordinate.Version, error) {
	versionString, err := d.String()
	if err != nil {
		return coordinate.Version{}, err
	}
	releaseDate, err := d.Date()
	if err != nil {
		return coordinate.Version{}, err
	}
	firstSeen, err := d.Date()
	if err != nil {
		return coordinate.Version{}, err
	}
	return coordinate.Version{
		VersionString:     derefOr(versionString, ""),
		ReleaseDate:       releaseDate,
		FirstSeenByServer: firstSeen,
	}, nil
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

// decodeLegacyV1 reads the pre-format-version layout: magic already
// consumed, followed directly by `int count` and that many VersionInfo
// records with no tag framing and schema < 3 (so FirstSeenByServer is
// always migrated).
func decodeLegacyV1(d *codec.Decoder) ([]*coordinate.VersionInfo, error) {
	count, err := d.Int()
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, mvnerr.New(mvnerr.Decode, "negative legacy record count %d", count)
	}
	records := make([]*coordinate.VersionInfo, count)
	for i := range records {
		v, err := decodeVersionInfo(d, 1)
		if err != nil {
			return nil, err
		}
		records[i] = v
	}
	return records, nil
}

func writeBinary(path string, records []*coordinate.VersionInfo) error {
	data := encodeBinary(records)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return mvnerr.Wrap(mvnerr.IO, err, "writing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return mvnerr.Wrap(mvnerr.IO, err, "renaming %s to %s", tmp, path)
	}
	return nil
}

// jsonVersionInfo/jsonVersion mirror the legacy deprecated JSON layout
// (field names match the original Jackson-serialized form).
type jsonVersionInfo struct {
	Artifact              jsonCoordinate `json:"artifact"`
	CreationDate          int64          `json:"creationDate"`
	LastRequestDate       int64          `json:"lastRequestDate"`
	LastSuccessDate       *int64         `json:"lastSuccessDate"`
	LastFailureDate       *int64         `json:"lastFailureDate"`
	LastRepositoryUpdate  *int64         `json:"lastRepositoryUpdate"`
	LatestReleaseVersion  *jsonVersion   `json:"latestReleaseVersion"`
	LatestSnapshotVersion *jsonVersion   `json:"latestSnapshotVersion"`
	Versions              []jsonVersion  `json:"versions"`
}

type jsonCoordinate struct {
	GroupID    string `json:"groupId"`
	ArtifactID string `json:"artifactId"`
	Classifier string `json:"classifier"`
	Type       string `json:"type"`
}

type jsonVersion struct {
	VersionString     string `json:"versionString"`
	ReleaseDate       *int64 `json:"releaseDate"`
	FirstSeenByServer *int64 `json:"firstSeenByServer"`
}

func decodeJSON(data []byte) ([]*coordinate.VersionInfo, error) {
	var raw []jsonVersionInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, mvnerr.Wrap(mvnerr.Decode, err, "parsing legacy JSON store")
	}
	records := make([]*coordinate.VersionInfo, len(raw))
	for i, r := range raw {
		v := &coordinate.VersionInfo{
			Artifact:             coordinate.Coordinate{GroupID: r.Artifact.GroupID, ArtifactID: r.Artifact.ArtifactID, Classifier: r.Artifact.Classifier, Type: r.Artifact.Type},
			CreationDate:         time.UnixMilli(r.CreationDate).UTC(),
			LastRequestDate:      time.UnixMilli(r.LastRequestDate).UTC(),
			LastSuccessDate:      millisToTime(r.LastSuccessDate),
			LastFailureDate:      millisToTime(r.LastFailureDate),
			LastRepositoryUpdate: millisToTime(r.LastRepositoryUpdate),
		}
		if r.LatestReleaseVersion != nil {
			vv := jsonToVersion(*r.LatestReleaseVersion)
			v.LatestReleaseVersion = &vv
		}
		if r.LatestSnapshotVersion != nil {
			vv := jsonToVersion(*r.LatestSnapshotVersion)
			v.LatestSnapshotVersion = &vv
		}
		v.Versions = make([]coordinate.Version, len(r.Versions))
		for j, jv := range r.Versions {
			v.Versions[j] = jsonToVersion(jv)
		}
		migrateFirstSeenByServer(v.Versions)
		records[i] = v
	}
	return records, nil
}

func jsonToVersion(jv jsonVersion) coordinate.Version {
	return coordinate.Version{
		VersionString:     jv.VersionString,
		ReleaseDate:       millisToTime(jv.ReleaseDate),
		FirstSeenByServer: millisToTime(jv.FirstSeenByServer),
	}
}

func millisToTime(m *int64) *time.Time {
	if m == nil {
		return nil
	}
	t := time.UnixMilli(*m).UTC()
	return &t
}

