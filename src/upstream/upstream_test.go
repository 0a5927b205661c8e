package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/mvnwatch/src/blacklist"
	"github.com/thought-machine/mvnwatch/src/coordinate"
)

const metadataXMLBody = `<?xml version="1.0" encoding="UTF-8"?>
<metadata>
  <groupId>org.example</groupId>
  <artifactId>widget</artifactId>
  <versioning>
    <latest>2.0-SNAPSHOT</latest>
    <release>1.1</release>
    <lastUpdated>20260101120000</lastUpdated>
    <versions>
      <version>1.0</version>
      <version>1.1</version>
      <version>2.0-SNAPSHOT</version>
    </versions>
  </versioning>
</metadata>`

func newTestServer(t *testing.T, lastUpdated string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/org/example/widget/maven-metadata.xml", func(w http.ResponseWriter, r *http.Request) {
		body := metadataXMLBody
		if lastUpdated != "" {
			body = strings.Replace(body, "20260101120000", lastUpdated, 1)
		}
		w.Write([]byte(body))
	})
	mux.HandleFunc("/org/example/missing/maven-metadata.xml", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/solr/select/", func(w http.ResponseWriter, r *http.Request) {
		start := r.URL.Query().Get("start")
		if start == "0" || start == "" {
			fmt.Fprint(w, `{"response":{"numFound":3,"start":0,"docs":[
				{"v":"1.0","timestamp":1700000000000},
				{"v":"1.1","timestamp":1700000100000}
			]}}`)
			return
		}
		fmt.Fprint(w, `{"response":{"numFound":3,"start":2,"docs":[
			{"v":"2.0-SNAPSHOT","timestamp":1700000200000}
		]}}`)
	})
	return httptest.NewServer(mux)
}

func TestUpdateFetchesAndReconcilesVersions(t *testing.T) {
	srv := newTestServer(t, "")
	defer srv.Close()

	f := New(srv.URL, srv.URL+"/solr/select", blacklist.New())
	f.PageSize = 2
	info := coordinate.New(coordinate.Coordinate{GroupID: "org.example", ArtifactID: "widget"}, time.Now())

	result := f.Update(context.Background(), info, false)
	require.Equal(t, Updated, result)
	assert.Len(t, info.Versions, 3)
	require.NotNil(t, info.LatestReleaseVersion)
	assert.Equal(t, "1.1", info.LatestReleaseVersion.VersionString)
	require.NotNil(t, info.LatestSnapshotVersion)
	assert.Equal(t, "2.0-SNAPSHOT", info.LatestSnapshotVersion.VersionString)
	assert.NotNil(t, info.LastSuccessDate)
}

func TestUpdateNoChangesOnServerSkipsRestCall(t *testing.T) {
	srv := newTestServer(t, "")
	defer srv.Close()

	f := New(srv.URL, srv.URL+"/solr/select", blacklist.New())
	info := coordinate.New(coordinate.Coordinate{GroupID: "org.example", ArtifactID: "widget"}, time.Now())
	ts, err := time.Parse("20060102150405", "20260101120000")
	require.NoError(t, err)
	info.LastRepositoryUpdate = &ts

	result := f.Update(context.Background(), info, false)
	assert.Equal(t, NoChangesOnServer, result)
	assert.Empty(t, info.Versions)
}

func TestUpdateArtifactUnknown(t *testing.T) {
	srv := newTestServer(t, "")
	defer srv.Close()

	f := New(srv.URL, srv.URL+"/solr/select", blacklist.New())
	info := coordinate.New(coordinate.Coordinate{GroupID: "org.example", ArtifactID: "missing"}, time.Now())

	result := f.Update(context.Background(), info, false)
	assert.Equal(t, ArtifactUnknown, result)
	assert.NotNil(t, info.LastFailureDate)
}

func TestUpdateBlacklistedSkipsFetch(t *testing.T) {
	bl := blacklist.New()
	require.NoError(t, bl.AddGroupArtifact("org.example", "widget", ".*", blacklist.Regex))

	f := New("http://unused.invalid", "http://unused.invalid", bl)
	info := coordinate.New(coordinate.Coordinate{GroupID: "org.example", ArtifactID: "widget"}, time.Now())

	result := f.Update(context.Background(), info, false)
	assert.Equal(t, Blacklisted, result)
	assert.NotNil(t, info.LastSuccessDate)
}

func TestUpdateArtifactVersionNotFound(t *testing.T) {
	srv := newTestServer(t, "")
	defer srv.Close()

	f := New(srv.URL, srv.URL+"/solr/select", blacklist.New())
	f.PageSize = 2
	coord := coordinate.Coordinate{GroupID: "org.example", ArtifactID: "widget", Version: "9.9.9"}
	info := coordinate.New(coord, time.Now())
	info.Artifact.Version = coord.Version // New clears it; Update checks the record's own version

	result := f.Update(context.Background(), info, false)
	assert.Equal(t, ArtifactVersionNotFound, result)
}
