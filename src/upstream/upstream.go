// Package upstream implements UpstreamFetcher: the component that talks to
// a Maven repository's index XML and REST search API to discover and date
// the versions of a single artifact (spec.md §4.G).
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/hashicorp/go-retryablehttp"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/mvnwatch/src/blacklist"
	"github.com/thought-machine/mvnwatch/src/coordinate"
	"github.com/thought-machine/mvnwatch/src/mvnerr"
)

var log = logging.MustGetLogger("upstream")

// UpdateResult is the outcome of a single Update call.
type UpdateResult int

const (
	// Updated indicates the record was refreshed from the server.
	Updated UpdateResult = iota
	// NoChangesOnServer indicates the index's lastUpdated timestamp matched what we already had.
	NoChangesOnServer
	// ArtifactUnknown indicates the index document doesn't exist (HTTP 404).
	ArtifactUnknown
	// ArtifactVersionNotFound indicates the index exists but the requested version isn't in it.
	ArtifactVersionNotFound
	// Blacklisted indicates the coordinate's group:artifact is fully blacklisted.
	Blacklisted
	// Error indicates an unrecoverable failure talking to the upstream server.
	Error
)

func (r UpdateResult) String() string {
	switch r {
	case Updated:
		return "UPDATED"
	case NoChangesOnServer:
		return "NO_CHANGES_ON_SERVER"
	case ArtifactUnknown:
		return "ARTIFACT_UNKNOWN"
	case ArtifactVersionNotFound:
		return "ARTIFACT_VERSION_NOT_FOUND"
	case Blacklisted:
		return "BLACKLISTED"
	default:
		return "ERROR"
	}
}

// DefaultPagingPoolSize is the default number of concurrent REST page
// fetches UpstreamFetcher allows per Update call.
const DefaultPagingPoolSize = 10

// DefaultPageSize is the `rows` parameter sent on each REST page request.
const DefaultPageSize = 200

// An UpstreamFetcher reads a Maven repository's maven-metadata.xml index and
// its REST search endpoint (the Solr-like `select` API Maven Central and
// Nexus/Artifactory both expose) to populate a VersionInfo record.
type UpstreamFetcher struct {
	IndexBaseURL string
	RestBaseURL  string
	Blacklist    *blacklist.Blacklist
	Client       *retryablehttp.Client
	PagingPool   int
	PageSize     int
}

// New returns an UpstreamFetcher with the given base URLs and default pool
// sizing; Client is a retrying HTTP client (grounded on the same
// go-retryablehttp usage the rest of this module's dependency pack favors
// for upstream calls).
func New(indexBaseURL, restBaseURL string, bl *blacklist.Blacklist) *UpstreamFetcher {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 3
	return &UpstreamFetcher{
		IndexBaseURL: strings.TrimSuffix(indexBaseURL, "/"),
		RestBaseURL:  strings.TrimSuffix(restBaseURL, "/"),
		Blacklist:    bl,
		Client:       client,
		PagingPool:   DefaultPagingPoolSize,
		PageSize:     DefaultPageSize,
	}
}

// Update runs the protocol from spec.md §4.G.1-8 against info, mutating it
// in place, and returns the outcome.
func (f *UpstreamFetcher) Update(ctx context.Context, info *coordinate.VersionInfo, force bool) UpdateResult {
	now := time.Now().UTC()
	group, artifact := info.Artifact.GroupID, info.Artifact.ArtifactID

	if f.Blacklist != nil && f.Blacklist.IsAllVersionsBlacklisted(group, artifact) {
		info.LastSuccessDate = &now
		return Blacklisted
	}

	meta, err := f.fetchIndex(ctx, group, artifact)
	if err != nil {
		f.fail(info, now)
		if mvnerr.Is(err, mvnerr.NotFound) {
			return ArtifactUnknown
		}
		return Error
	}

	lastUpdated, err := parseRepoTimestamp(meta.Versioning.LastUpdated)
	if err != nil {
		f.fail(info, now)
		return Error
	}
	if !force && info.LastRepositoryUpdate != nil && info.LastRepositoryUpdate.Equal(lastUpdated) {
		info.LastSuccessDate = &now
		return NoChangesOnServer
	}

	fetched, err := f.fetchAllVersions(ctx, group, artifact, info.Artifact.Classifier)
	if err != nil {
		f.fail(info, now)
		return Error
	}

	reconcile(info, fetched)

	if meta.Versioning.Latest != "" {
		info.LatestSnapshotVersion = placeholderOrEntry(info, meta.Versioning.Latest)
	}
	if meta.Versioning.Release != "" {
		info.LatestReleaseVersion = placeholderOrEntry(info, meta.Versioning.Release)
	}

	info.LastRepositoryUpdate = &lastUpdated
	info.LastSuccessDate = &now

	if info.Artifact.Version != "" && info.GetVersion(info.Artifact.Version) == nil {
		return ArtifactVersionNotFound
	}
	return Updated
}

func (f *UpstreamFetcher) fail(info *coordinate.VersionInfo, now time.Time) {
	info.LastFailureDate = &now
}

// reconcile implements step 5: drop entries no longer reported upstream, add
// new ones, and fill in release dates that were previously missing.
func reconcile(info *coordinate.VersionInfo, fetched map[string]time.Time) {
	keep := make(map[string]bool, len(fetched))
	for v := range fetched {
		keep[v] = true
	}
	info.RetainOnly(keep)
	for v, released := range fetched {
		r := released
		if existing := info.GetVersion(v); existing != nil {
			if existing.ReleaseDate == nil {
				existing.ReleaseDate = &r
			}
			continue
		}
		info.Upsert(coordinate.Version{VersionString: v, ReleaseDate: &r})
	}
}

// placeholderOrEntry returns a pointer to the Versions entry named by
// versionString, creating a null-releaseDate placeholder if the index names
// a version the REST result never reported.
func placeholderOrEntry(info *coordinate.VersionInfo, versionString string) *coordinate.Version {
	if v := info.GetVersion(versionString); v != nil {
		c := v.Clone()
		return &c
	}
	info.Upsert(coordinate.Version{VersionString: versionString})
	v := info.GetVersion(versionString)
	c := v.Clone()
	return &c
}

// --- maven-metadata.xml ---

type metadataXML struct {
	XMLName    xml.Name `xml:"metadata"`
	Versioning struct {
		Latest      string   `xml:"latest"`
		Release     string   `xml:"release"`
		LastUpdated string   `xml:"lastUpdated"`
		Versions    []string `xml:"versions>version"`
	} `xml:"versioning"`
}

func (f *UpstreamFetcher) fetchIndex(ctx context.Context, group, artifact string) (*metadataXML, error) {
	url := fmt.Sprintf("%s/%s/%s/maven-metadata.xml", f.IndexBaseURL, strings.ReplaceAll(group, ".", "/"), artifact)
	body, status, err := f.get(ctx, url)
	if err != nil {
		return nil, mvnerr.Wrap(mvnerr.Upstream, err, "fetching index %s", url)
	}
	if status == http.StatusNotFound {
		return nil, mvnerr.New(mvnerr.NotFound, "no index document at %s", url)
	}
	if status != http.StatusOK {
		return nil, mvnerr.New(mvnerr.Upstream, "unexpected status %d fetching %s", status, url)
	}
	meta := &metadataXML{}
	if err := decodeXMLNoExternalEntities(body, meta); err != nil {
		return nil, mvnerr.Wrap(mvnerr.Upstream, err, "parsing index %s", url)
	}
	return meta, nil
}

// decodeXMLNoExternalEntities parses body with external entity resolution
// disabled: the decoder's Entity table is a fixed, empty map rather than
// nil, so any undefined entity reference fails instead of falling through
// to a resolver that might read local files or make network calls.
func decodeXMLNoExternalEntities(body []byte, v interface{}) error {
	d := xml.NewDecoder(bytes.NewReader(body))
	d.Entity = map[string]string{}
	d.Strict = true
	return d.Decode(v)
}

func parseRepoTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, mvnerr.New(mvnerr.Upstream, "empty lastUpdated timestamp")
	}
	t, err := time.Parse("20060102150405", s)
	if err != nil {
		return time.Time{}, mvnerr.Wrap(mvnerr.Upstream, err, "parsing lastUpdated %q", s)
	}
	return t.UTC(), nil
}

// --- REST search paging ---

type searchResponse struct {
	Response struct {
		NumFound int `json:"numFound"`
		Start    int `json:"start"`
		Docs     []searchDoc `json:"docs"`
	} `json:"response"`
}

type searchDoc struct {
	V         string `json:"v"`
	Timestamp int64  `json:"timestamp"`
}

// pageTask is one page-fetch job; indexedPageTask implements queue.Item so
// the same bounded-worker-pool pattern used by tools/please_maven's
// dependency resolver (priority queue + live-task counter) drives paging
// here too.
type pageTask struct {
	start    int
	priority int64
}

// fetchAllVersions pages through the REST search endpoint until the
// accumulated doc count reaches numFound, fetching pages after the first
// concurrently across a bounded worker pool.
func (f *UpstreamFetcher) fetchAllVersions(ctx context.Context, group, artifact, classifier string) (map[string]time.Time, error) {
	first, err := f.fetchPage(ctx, group, artifact, classifier, 0)
	if err != nil {
		return nil, err
	}
	out := map[string]time.Time{}
	addDocs(out, first.Response.Docs)

	numFound := first.Response.NumFound
	batchSize := len(first.Response.Docs)
	if batchSize == 0 || len(out) >= numFound {
		if len(out) != numFound {
			return nil, mvnerr.New(mvnerr.Upstream, "accumulated %d versions, server reports %d", len(out), numFound)
		}
		return out, nil
	}

	var starts []int
	for start := batchSize; start < numFound; start += batchSize {
		starts = append(starts, start)
	}

	results, err := f.runPagedFetch(ctx, group, artifact, classifier, starts)
	if err != nil {
		return nil, err
	}
	for _, page := range results {
		addDocs(out, page.Response.Docs)
	}

	if len(out) != numFound {
		return nil, mvnerr.New(mvnerr.Upstream, "accumulated %d versions, server reports %d", len(out), numFound)
	}
	return out, nil
}

func addDocs(out map[string]time.Time, docs []searchDoc) {
	for _, d := range docs {
		out[d.V] = time.UnixMilli(d.Timestamp).UTC()
	}
}

// runPagedFetch drives `starts` through a bounded worker pool, grounded on
// tools/please_maven/resolver.go's Resolver: a priority queue of tasks
// consumed by a fixed set of workers. Unlike that loop (which has workers
// ask the queue for another task until a shared counter tells them to
// stop), each worker here claims a fixed ticket off `remaining` before
// ever calling Get, so a worker that has exhausted its share returns
// immediately instead of blocking on a queue nothing will ever add to
// again.
func (f *UpstreamFetcher) runPagedFetch(ctx context.Context, group, artifact, classifier string, starts []int) ([]*searchResponse, error) {
	tasks := queue.NewPriorityQueue(len(starts), false)
	results := make([]*searchResponse, len(starts))
	var firstErr error
	var mu sync.Mutex
	remaining := int64(len(starts))

	for i, start := range starts {
		tasks.Put(&indexedPageTask{pageTask: pageTask{start: start, priority: int64(i)}, index: i})
	}

	workers := f.PagingPool
	if workers <= 0 {
		workers = DefaultPagingPoolSize
	}
	if workers > len(starts) {
		workers = len(starts)
	}
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for atomic.AddInt64(&remaining, -1) >= 0 {
				items, err := tasks.Get(1)
				if err != nil {
					return
				}
				t := items[0].(*indexedPageTask)
				page, err := f.fetchPage(ctx, group, artifact, classifier, t.start)
				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
				} else {
					results[t.index] = page
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

type indexedPageTask struct {
	pageTask
	index int
}

func (p *indexedPageTask) Compare(other queue.Item) int {
	o := other.(*indexedPageTask)
	switch {
	case p.priority < o.priority:
		return -1
	case p.priority > o.priority:
		return 1
	default:
		return 0
	}
}

func (f *UpstreamFetcher) fetchPage(ctx context.Context, group, artifact, classifier string, start int) (*searchResponse, error) {
	q := fmt.Sprintf("g:%s AND a:%s", group, artifact)
	if classifier != "" {
		q += fmt.Sprintf(" AND l:%s", classifier)
	}
	url := fmt.Sprintf("%s/?q=%s&core=gav&start=%d&rows=%d&wt=json", f.RestBaseURL, urlQueryEscape(q), start, f.PageSize)
	body, status, err := f.get(ctx, url)
	if err != nil {
		return nil, mvnerr.Wrap(mvnerr.Upstream, err, "fetching %s", url)
	}
	if status != http.StatusOK {
		return nil, mvnerr.New(mvnerr.Upstream, "unexpected status %d fetching %s", status, url)
	}
	resp := &searchResponse{}
	if err := json.Unmarshal(body, resp); err != nil {
		return nil, mvnerr.Wrap(mvnerr.Upstream, err, "parsing REST response from %s", url)
	}
	return resp, nil
}

func urlQueryEscape(q string) string {
	replacer := strings.NewReplacer(" ", "%20", ":", "%3A")
	return replacer.Replace(q)
}

func (f *UpstreamFetcher) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}
