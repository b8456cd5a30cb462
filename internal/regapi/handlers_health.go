package regapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/bbc/nmos-discovery-registration-ri/internal/resource"
	"github.com/bbc/nmos-discovery-registration-ri/internal/schema"
	"github.com/bbc/nmos-discovery-registration-ri/internal/substrate"
)

// handlePostHealth renews a node's liveness TTL. If the node record is
// absent, or the liveness key has already lapsed, it returns 404 and
// does not recreate the key.
func (s *Server) handlePostHealth(_ schema.Version, w http.ResponseWriter, _ *http.Request, p httprouter.Params) {
	id := p.ByName("id")

	if _, err := s.substrate.Get(substrate.ResourceKey(resource.KindNode.Collection(), id)); err != nil {
		if err == substrate.ErrNotFound {
			writeError(w, http.StatusNotFound, ErrNodeNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	healthKey := substrate.HealthKey(id)
	if _, err := s.substrate.Get(healthKey); err != nil {
		if err == substrate.ErrNotFound {
			writeError(w, http.StatusNotFound, ErrHealthLapsed)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	value := strconv.FormatInt(time.Now().Unix(), 10)
	if _, err := s.substrate.Put(healthKey, value, int(s.healthTTL.Seconds())); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetHealth(_ schema.Version, w http.ResponseWriter, _ *http.Request, p httprouter.Params) {
	id := p.ByName("id")
	resp, err := s.substrate.Get(substrate.HealthKey(id))
	if err != nil {
		if err == substrate.ErrNotFound {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"health": resp.Node.Value})
}
