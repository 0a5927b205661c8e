// Package wire implements mvnwatch's request/response protocol over HTTP
// POST (spec.md §6): a leading protocol-tag byte selects either the binary
// BinaryCodec framing or a plain JSON body, and both framings carry the
// same Command discriminator rather than one being derived from the other
// (spec.md §9's "tagged variants with a shared command discriminator").
// query.QueryEngine (the in-process entry point) and this package's HTTP
// handler both call the single query.QueryEngine.Query implementation, so the
// servlet/in-process duplication the source had never reappears here.
package wire

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/mvnwatch/src/codec"
	"github.com/thought-machine/mvnwatch/src/coordinate"
	"github.com/thought-machine/mvnwatch/src/mvnerr"
	"github.com/thought-machine/mvnwatch/src/query"
)

var log = logging.MustGetLogger("wire")

// Protocol tag bytes: the first byte of every request body.
const (
	TagJSON   byte = 0xAB
	TagBinary byte = 0xBA
)

// ServerVersion is stamped into every binary response; it lets older
// clients detect a protocol bump without the request needing to carry it.
const ServerVersion = "2.0"

// Command identifies a wire operation. "query" is the only one defined
// today; it exists as a string (not an iota) because it's carried on the
// wire and new commands must round-trip through clients built against an
// older server unaware of them.
type Command string

// CommandQuery is the only command implemented today: resolve a batch of
// coordinates to their update status.
const CommandQuery Command = "query"

// UpdateStatus mirrors query.UpdateStatus's four values as their wire
// string spellings (spec.md §6: "yes", "no", "maybe", "not_found").
type UpdateStatus = query.UpdateStatus

// JSONCoordinate is the wire spelling of coordinate.Coordinate.
type JSONCoordinate struct {
	GroupID    string `json:"groupId"`
	ArtifactID string `json:"artifactId"`
	Version    string `json:"version"`
	Classifier string `json:"classifier,omitempty"`
	Type       string `json:"type,omitempty"`
}

func toCoordinate(c JSONCoordinate) coordinate.Coordinate {
	return coordinate.Coordinate{GroupID: c.GroupID, ArtifactID: c.ArtifactID, Version: c.Version, Classifier: c.Classifier, Type: c.Type}
}

func fromCoordinate(c coordinate.Coordinate) JSONCoordinate {
	return JSONCoordinate{GroupID: c.GroupID, ArtifactID: c.ArtifactID, Version: c.Version, Classifier: c.Classifier, Type: c.Type}
}

// JSONVersion is the wire spelling of a coordinate.Version, used only for
// the currentVersion/latestVersion fields of a response.
type JSONVersion struct {
	VersionString string     `json:"versionString"`
	ReleaseDate   *time.Time `json:"releaseDate,omitempty"`
}

func fromVersion(v *coordinate.Version) *JSONVersion {
	if v == nil {
		return nil
	}
	return &JSONVersion{VersionString: v.VersionString, ReleaseDate: v.ReleaseDate}
}

// BlacklistRule is one ignore rule on the wire; groups/artifacts empty
// means the rule's corresponding scope (global, by-group, by-group-artifact).
type BlacklistRule struct {
	GroupID    string `json:"groupId,omitempty"`
	ArtifactID string `json:"artifactId,omitempty"`
	Pattern    string `json:"pattern"`
	Regex      bool   `json:"regex"`
}

// QueryRequest is the body of a "query" command.
type QueryRequest struct {
	Coordinates []JSONCoordinate `json:"coordinates"`
	Blacklist   []BlacklistRule  `json:"blacklist,omitempty"`
}

// ArtifactResponse is QueryEngine's per-coordinate answer on the wire.
type ArtifactResponse struct {
	Coordinate      JSONCoordinate `json:"coordinate"`
	CurrentVersion  *JSONVersion   `json:"currentVersion,omitempty"`
	LatestVersion   *JSONVersion   `json:"latestVersion,omitempty"`
	UpdateAvailable string         `json:"updateAvailable"`
}

// QueryResponse is the body of a "query" command's response.
type QueryResponse struct {
	Artifacts []ArtifactResponse `json:"artifacts"`
}

func toArtifactResponse(r query.ArtifactResult) ArtifactResponse {
	return ArtifactResponse{
		Coordinate:      fromCoordinate(r.Coordinate),
		CurrentVersion:  fromVersion(r.CurrentVersion),
		LatestVersion:   fromVersion(r.LatestVersion),
		UpdateAvailable: r.UpdateAvailable.String(),
	}
}

// A Codec encodes/decodes one wire framing (JSON or binary). Both
// implementations are peers: neither is built on top of the other.
type Codec interface {
	DecodeRequest(body []byte) (Command, QueryRequest, error)
	EncodeResponse(cmd Command, resp QueryResponse) []byte
}

// CodecFor dispatches on the protocol tag byte that leads every request.
func CodecFor(tag byte) (Codec, error) {
	switch tag {
	case TagJSON:
		return jsonCodec{}, nil
	case TagBinary:
		return binaryCodec{}, nil
	default:
		return nil, mvnerr.New(mvnerr.Decode, "unrecognized protocol tag 0x%02x", tag)
	}
}

// --- JSON framing ---

type jsonCodec struct{}

type jsonEnvelope struct {
	Command Command         `json:"command"`
	Body    json.RawMessage `json:"body"`
}

func (jsonCodec) DecodeRequest(body []byte) (Command, QueryRequest, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", QueryRequest{}, mvnerr.Wrap(mvnerr.Decode, err, "decoding JSON request envelope")
	}
	var req QueryRequest
	if len(env.Body) > 0 {
		if err := json.Unmarshal(env.Body, &req); err != nil {
			return "", QueryRequest{}, mvnerr.Wrap(mvnerr.Decode, err, "decoding JSON query request body")
		}
	}
	return env.Command, req, nil
}

func (jsonCodec) EncodeResponse(cmd Command, resp QueryResponse) []byte {
	body, _ := json.Marshal(resp)
	env := struct {
		ServerVersion string          `json:"serverVersion"`
		Command       Command         `json:"command"`
		Body          json.RawMessage `json:"body"`
	}{ServerVersion: ServerVersion, Command: cmd, Body: body}
	out, _ := json.Marshal(env)
	return out
}

// --- Binary framing ---

type binaryCodec struct{}

// DecodeRequest reads the binary request frame described in spec.md §6:
// clientVersion:string, command:string, then the QueryRequest body (a list
// of coordinates and an optional blacklist).
func (binaryCodec) DecodeRequest(body []byte) (Command, QueryRequest, error) {
	d := codec.NewDecoder(body)
	if _, err := d.String(); err != nil { // clientVersion, unused beyond logging
		return "", QueryRequest{}, err
	}
	cmdPtr, err := d.String()
	if err != nil {
		return "", QueryRequest{}, err
	}
	if cmdPtr == nil {
		return "", QueryRequest{}, mvnerr.New(mvnerr.Decode, "missing command in binary request")
	}
	req, err := decodeQueryRequest(d)
	if err != nil {
		return "", QueryRequest{}, err
	}
	return Command(*cmdPtr), req, nil
}

func decodeQueryRequest(d *codec.Decoder) (QueryRequest, error) {
	count, err := d.Int()
	if err != nil {
		return QueryRequest{}, err
	}
	if count < 0 {
		return QueryRequest{}, mvnerr.New(mvnerr.Decode, "negative coordinate count %d", count)
	}
	coords := make([]JSONCoordinate, count)
	for i := range coords {
		c, err := decodeCoordinate(d)
		if err != nil {
			return QueryRequest{}, err
		}
		coords[i] = c
	}
	hasBlacklist, err := d.Bool()
	if err != nil {
		return QueryRequest{}, err
	}
	var rules []BlacklistRule
	if hasBlacklist {
		n, err := d.Int()
		if err != nil {
			return QueryRequest{}, err
		}
		if n < 0 {
			return QueryRequest{}, mvnerr.New(mvnerr.Decode, "negative blacklist rule count %d", n)
		}
		rules = make([]BlacklistRule, n)
		for i := range rules {
			r, err := decodeBlacklistRule(d)
			if err != nil {
				return QueryRequest{}, err
			}
			rules[i] = r
		}
	}
	return QueryRequest{Coordinates: coords, Blacklist: rules}, nil
}

func decodeCoordinate(d *codec.Decoder) (JSONCoordinate, error) {
	group, err := d.String()
	if err != nil {
		return JSONCoordinate{}, err
	}
	artifact, err := d.String()
	if err != nil {
		return JSONCoordinate{}, err
	}
	version, err := d.String()
	if err != nil {
		return JSONCoordinate{}, err
	}
	classifier, err := d.String()
	if err != nil {
		return JSONCoordinate{}, err
	}
	typ, err := d.String()
	if err != nil {
		return JSONCoordinate{}, err
	}
	return JSONCoordinate{
		GroupID:    deref(group),
		ArtifactID: deref(artifact),
		Version:    deref(version),
		Classifier: deref(classifier),
		Type:       deref(typ),
	}, nil
}

func decodeBlacklistRule(d *codec.Decoder) (BlacklistRule, error) {
	group, err := d.String()
	if err != nil {
		return BlacklistRule{}, err
	}
	artifact, err := d.String()
	if err != nil {
		return BlacklistRule{}, err
	}
	pattern, err := d.String()
	if err != nil {
		return BlacklistRule{}, err
	}
	regex, err := d.Bool()
	if err != nil {
		return BlacklistRule{}, err
	}
	return BlacklistRule{GroupID: deref(group), ArtifactID: deref(artifact), Pattern: deref(pattern), Regex: regex}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// EncodeResponse writes the binary response frame: serverVersion:string,
// command:string, then the QueryResponse body.
func (binaryCodec) EncodeResponse(cmd Command, resp QueryResponse) []byte {
	e := codec.NewEncoder()
	sv := ServerVersion
	e.String(&sv)
	c := string(cmd)
	e.String(&c)
	e.Int(int32(len(resp.Artifacts)))
	for _, a := range resp.Artifacts {
		encodeArtifactResponse(e, a)
	}
	return e.Bytes()
}

func encodeArtifactResponse(e *codec.Encoder, a ArtifactResponse) {
	encodeWireCoordinate(e, a.Coordinate)
	encodeOptionalWireVersion(e, a.CurrentVersion)
	encodeOptionalWireVersion(e, a.LatestVersion)
	status := a.UpdateAvailable
	e.String(&status)
}

func encodeWireCoordinate(e *codec.Encoder, c JSONCoordinate) {
	e.String(&c.GroupID)
	e.String(&c.ArtifactID)
	e.String(&c.Version)
	e.String(&c.Classifier)
	e.String(&c.Type)
}

func encodeOptionalWireVersion(e *codec.Encoder, v *JSONVersion) {
	if v == nil {
		e.Bool(false)
		return
	}
	e.Bool(true)
	e.String(&v.VersionString)
	e.Date(v.ReleaseDate)
}

// RequestID returns a fresh correlation id to thread through a request's
// log lines, grounded on the same google/uuid usage the retrieval pack's
// alert-history service uses for its own request tracing.
func RequestID() string {
	return uuid.NewString()
}

// Decode reads a full request off the wire: the leading protocol tag byte
// selects JSON or binary framing for everything that follows.
func Decode(data []byte) (Command, QueryRequest, error) {
	if len(data) == 0 {
		return "", QueryRequest{}, mvnerr.New(mvnerr.Decode, "empty request")
	}
	c, err := CodecFor(data[0])
	if err != nil {
		return "", QueryRequest{}, err
	}
	return c.DecodeRequest(data[1:])
}

// Encode writes a full response: the same protocol tag the request arrived
// with, followed by that framing's encoded response.
func Encode(tag byte, cmd Command, resp QueryResponse) ([]byte, error) {
	c, err := CodecFor(tag)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte(tag)
	buf.Write(c.EncodeResponse(cmd, resp))
	return buf.Bytes(), nil
}

// FromQueryResults converts the in-process query.QueryEngine output into a
// QueryResponse, preserving request order.
func FromQueryResults(results []query.ArtifactResult) QueryResponse {
	out := make([]ArtifactResponse, len(results))
	for i, r := range results {
		out[i] = toArtifactResponse(r)
	}
	return QueryResponse{Artifacts: out}
}

// ToCoordinates converts a QueryRequest's wire coordinates to the internal type.
func ToCoordinates(req QueryRequest) []coordinate.Coordinate {
	out := make([]coordinate.Coordinate, len(req.Coordinates))
	for i, c := range req.Coordinates {
		out[i] = toCoordinate(c)
	}
	return out
}

// UnsupportedCommand formats the error returned for any command other than
// CommandQuery; kept as a named helper so the handler and tests agree on
// the message shape.
func UnsupportedCommand(cmd Command) error {
	return mvnerr.New(mvnerr.Decode, "unsupported command %q", cmd)
}

