package regapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/bbc/nmos-discovery-registration-ri/internal/schema"
	"github.com/bbc/nmos-discovery-registration-ri/internal/substrate"
)

// handlePostTimeline stores an opaque per-flow segment record. Unlike
// the six resource kinds, timeline records carry no schema enforcement
// beyond their three required fields.
func (s *Server) handlePostTimeline(_ schema.Version, w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	var body map[string]interface{}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}
	for _, required := range []string{"id", "store_id", "min_ts_utc"} {
		if _, ok := body[required]; !ok {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %s", ErrMissingAttribute, required))
			return
		}
	}

	key := substrate.TimelineKey(p.ByName("flowid"), p.ByName("storeid"), p.ByName("tsid"))
	raw, err := json.Marshal(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if _, err := s.substrate.Put(key, string(raw), 0); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, body)
}

func (s *Server) handleGetTimeline(_ schema.Version, w http.ResponseWriter, _ *http.Request, p httprouter.Params) {
	key := substrate.TimelineKey(p.ByName("flowid"), p.ByName("storeid"), p.ByName("tsid"))
	resp, err := s.substrate.Get(key)
	if err != nil {
		if err == substrate.ErrNotFound {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	var body map[string]interface{}
	if err := json.Unmarshal([]byte(resp.Node.Value), &body); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}
