package queryapi

import (
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/bbc/nmos-discovery-registration-ri/internal/filter"
	"github.com/bbc/nmos-discovery-registration-ri/internal/resource"
	"github.com/bbc/nmos-discovery-registration-ri/internal/schema"
)

// verboseParam selects between full projected records (the default,
// and anything other than a literal "false") and bare id strings.
const verboseParam = "verbose"

func isVerbose(q map[string][]string) bool {
	vs, ok := q[verboseParam]
	if !ok || len(vs) == 0 {
		return true
	}
	return !strings.EqualFold(vs[0], "false")
}

func downgradeFloor(q map[string][]string) schema.Version {
	vs, ok := q["query.downgrade"]
	if !ok || len(vs) == 0 {
		return ""
	}
	v := schema.Version(vs[0])
	if !schema.Valid(v) {
		return ""
	}
	return v
}

func (s *Server) handleGetCollection(ver schema.Version, w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	kind, ok := resource.ParseKind(p.ByName("kind"))
	if !ok {
		writeError(w, http.StatusNotFound, errUnknownKind(p.ByName("kind")))
		return
	}

	records, err := s.store.ListCollection(kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	q := req.URL.Query()
	f := filter.ParseFilter(q)
	floor := downgradeFloor(q)
	verbose := isVerbose(q)

	if !verbose {
		ids := make([]string, 0, len(records))
		for _, rec := range records {
			projected, ok, derr := s.catalogue.Downgrade(kind, rec, ver, floor)
			if derr != nil || !ok {
				continue
			}
			if !f.Match(projected) {
				continue
			}
			id, _ := projected["id"].(string)
			ids = append(ids, id)
		}
		writeJSON(w, http.StatusOK, ids)
		return
	}

	out := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		projected, ok, derr := s.catalogue.Downgrade(kind, rec, ver, floor)
		if derr != nil || !ok {
			continue
		}
		if !f.Match(projected) {
			continue
		}
		out = append(out, projected)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSingle(ver schema.Version, w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	kind, ok := resource.ParseKind(p.ByName("kind"))
	if !ok {
		writeError(w, http.StatusNotFound, errUnknownKind(p.ByName("kind")))
		return
	}
	id := p.ByName("id")

	rec, err := s.store.Get(kind, id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	q := req.URL.Query()
	floor := downgradeFloor(q)
	projected, ok, err := s.catalogue.Downgrade(kind, rec, ver, floor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		// Record exists but cannot be projected down to ver without
		// explicit consent; treat as not found at this
		// version rather than leaking the higher-version record.
		writeError(w, http.StatusNotFound, errUnprojectable(kind, id, ver))
		return
	}
	if !isVerbose(q) {
		writeJSON(w, http.StatusOK, projected["id"])
		return
	}
	writeJSON(w, http.StatusOK, projected)
}
