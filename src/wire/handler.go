package wire

import (
	"io"
	"net/http"
	"time"

	"github.com/thought-machine/mvnwatch/src/blacklist"
	"github.com/thought-machine/mvnwatch/src/mvnerr"
	"github.com/thought-machine/mvnwatch/src/query"
)

// MaxRequestBytes bounds how much of a request body Handler will read,
// guarding against an unbounded upload on a route with no other limit.
const MaxRequestBytes = 4 << 20

// Handler adapts a query.QueryEngine to the HTTP endpoint described in
// spec.md §6: POST a tagged request body, get back a tagged response body
// in the same framing. Every request gets its own correlation id, logged
// alongside the command and coordinate count so a slow or failing request
// can be traced through the logs.
func Handler(engine *query.QueryEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := RequestID()
		start := time.Now()

		body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBytes+1))
		if err != nil {
			writeError(w, reqID, mvnerr.Wrap(mvnerr.IO, err, "reading request body"))
			return
		}
		if len(body) > MaxRequestBytes {
			writeError(w, reqID, mvnerr.New(mvnerr.Decode, "request body exceeds %d bytes", MaxRequestBytes))
			return
		}
		if len(body) == 0 {
			writeError(w, reqID, mvnerr.New(mvnerr.Decode, "empty request body"))
			return
		}

		tag := body[0]
		cmd, req, err := Decode(body)
		if err != nil {
			log.Errorf("[%s] decode failed: %v", reqID, err)
			writeError(w, reqID, err)
			return
		}
		if cmd != CommandQuery {
			log.Warningf("[%s] %v", reqID, UnsupportedCommand(cmd))
			writeError(w, reqID, UnsupportedCommand(cmd))
			return
		}

		log.Infof("[%s] query: %d coordinates, %d blacklist rules", reqID, len(req.Coordinates), len(req.Blacklist))

		eng := engine
		if len(req.Blacklist) > 0 {
			merged, err := mergeBlacklist(engine, req.Blacklist)
			if err != nil {
				writeError(w, reqID, err)
				return
			}
			eng = merged
		}

		results, err := eng.Query(r.Context(), ToCoordinates(req))
		if err != nil {
			log.Errorf("[%s] query failed after %s: %v", reqID, time.Since(start), err)
			writeError(w, reqID, err)
			return
		}

		resp := FromQueryResults(results)
		out, err := Encode(tag, cmd, resp)
		if err != nil {
			writeError(w, reqID, err)
			return
		}
		log.Infof("[%s] query resolved %d artifacts in %s", reqID, len(results), time.Since(start))
		w.Header().Set("X-Request-Id", reqID)
		w.Write(out)
	}
}

// mergeBlacklist builds a request-scoped Blacklist from an ad-hoc rule list
// and runs the query against it instead of the server's configured
// blacklist, without mutating the shared instance. A request that supplies
// its own rules is asking to see results as if only those rules applied;
// it does not additionally inherit the server's configured ones.
func mergeBlacklist(engine *query.QueryEngine, rules []BlacklistRule) (*query.QueryEngine, error) {
	bl := blacklist.New()
	for _, r := range rules {
		kind := blacklist.Exact
		if r.Regex {
			kind = blacklist.Regex
		}
		var err error
		switch {
		case r.GroupID == "":
			err = bl.AddGlobal(r.Pattern, kind)
		case r.ArtifactID == "":
			err = bl.AddGroup(r.GroupID, r.Pattern, kind)
		default:
			err = bl.AddGroupArtifact(r.GroupID, r.ArtifactID, r.Pattern, kind)
		}
		if err != nil {
			return nil, err
		}
	}
	return &query.QueryEngine{Source: engine.Source, Blacklist: bl, Stale: engine.Stale}, nil
}

func writeError(w http.ResponseWriter, reqID string, err error) {
	status := http.StatusInternalServerError
	if e, ok := err.(*mvnerr.Error); ok {
		switch e.Kind() {
		case mvnerr.Decode, mvnerr.Config:
			status = http.StatusBadRequest
		case mvnerr.NotFound:
			status = http.StatusNotFound
		}
	}
	w.Header().Set("X-Request-Id", reqID)
	http.Error(w, err.Error(), status)
}
