package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/mvnwatch/src/codec"
	"github.com/thought-machine/mvnwatch/src/query"
)

func sampleRequest() QueryRequest {
	return QueryRequest{
		Coordinates: []JSONCoordinate{
			{GroupID: "com.example", ArtifactID: "widget", Version: "1.2.0"},
			{GroupID: "com.example", ArtifactID: "gadget", Version: ""},
		},
		Blacklist: []BlacklistRule{
			{GroupID: "com.example", ArtifactID: "widget", Pattern: "1\\.3\\..*", Regex: true},
		},
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	req := sampleRequest()
	body, _ := json.Marshal(req)
	env, _ := json.Marshal(struct {
		Command Command         `json:"command"`
		Body    json.RawMessage `json:"body"`
	}{Command: CommandQuery, Body: body})

	cmd, decoded, err := c.DecodeRequest(env)
	require.NoError(t, err)
	assert.Equal(t, CommandQuery, cmd)
	assert.Equal(t, req, decoded)
}

func encodeRequestBody(req QueryRequest) []byte {
	e := codec.NewEncoder()
	e.Int(int32(len(req.Coordinates)))
	for _, c := range req.Coordinates {
		e.String(&c.GroupID)
		e.String(&c.ArtifactID)
		e.String(&c.Version)
		e.String(&c.Classifier)
		e.String(&c.Type)
	}
	e.Bool(len(req.Blacklist) > 0)
	if len(req.Blacklist) > 0 {
		e.Int(int32(len(req.Blacklist)))
		for _, r := range req.Blacklist {
			e.String(&r.GroupID)
			e.String(&r.ArtifactID)
			e.String(&r.Pattern)
			e.Bool(r.Regex)
		}
	}
	return e.Bytes()
}

func TestBinaryCodecRoundTripRequest(t *testing.T) {
	c := binaryCodec{}
	req := sampleRequest()

	e := codec.NewEncoder()
	clientVersion := "1.0"
	e.String(&clientVersion)
	cmd := string(CommandQuery)
	e.String(&cmd)
	e.Raw(encodeRequestBody(req))

	gotCmd, decoded, err := c.DecodeRequest(e.Bytes())
	require.NoError(t, err)
	assert.Equal(t, CommandQuery, gotCmd)
	assert.Equal(t, req, decoded)
}

func TestBinaryCodecRoundTripResponse(t *testing.T) {
	c := binaryCodec{}
	now := time.Now().UTC().Truncate(time.Millisecond)
	resp := QueryResponse{Artifacts: []ArtifactResponse{
		{
			Coordinate:      JSONCoordinate{GroupID: "com.example", ArtifactID: "widget", Version: "1.2.0"},
			CurrentVersion:  &JSONVersion{VersionString: "1.2.0", ReleaseDate: &now},
			LatestVersion:   &JSONVersion{VersionString: "1.4.0", ReleaseDate: &now},
			UpdateAvailable: query.Yes.String(),
		},
		{
			Coordinate:      JSONCoordinate{GroupID: "com.example", ArtifactID: "gadget"},
			UpdateAvailable: query.NotFound.String(),
		},
	}}

	out := c.EncodeResponse(CommandQuery, resp)
	full, err := Encode(TagBinary, CommandQuery, resp)
	require.NoError(t, err)
	assert.Equal(t, append([]byte{TagBinary}, out...), full)
}

func TestCodecForUnknownTag(t *testing.T) {
	_, err := CodecFor(0xFF)
	require.Error(t, err)
}

func TestDecodeEmptyRequest(t *testing.T) {
	_, _, err := Decode(nil)
	require.Error(t, err)
}

func TestRequestIDUnique(t *testing.T) {
	a, b := RequestID(), RequestID()
	assert.NotEqual(t, a, b)
}
