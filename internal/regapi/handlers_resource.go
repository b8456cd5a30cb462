package regapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/bbc/nmos-discovery-registration-ri/internal/resource"
	"github.com/bbc/nmos-discovery-registration-ri/internal/schema"
	"github.com/bbc/nmos-discovery-registration-ri/internal/substrate"
)

type postResourceBody struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// handlePostResource implements "POST /resource" steps 1-8.
func (s *Server) handlePostResource(ver schema.Version, w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body postResourceBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}
	if body.Type == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: type", ErrMissingAttribute))
		return
	}
	if body.Data == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: data", ErrMissingAttribute))
		return
	}
	if _, ok := body.Data["id"]; !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: data.id", ErrMissingAttribute))
		return
	}

	kind, ok := resource.ParseKind(body.Type + "s")
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %s", ErrUnknownKind, body.Type))
		return
	}

	// Step 2: Modifier canonicalises identifier fields before anything
	// else sees them.
	Modify(kind, body.Data)

	id, err := resource.Validate(body.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// Step 4: schema validation.
	if err := s.catalogue.Validate(kind, ver, body.Data); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", ErrSchemaViolation, err))
		return
	}

	// Step 5: verify required parent(s) exist.
	if ref, required := resource.RequiredParents(kind, body.Data); required {
		parentKey := substrate.ResourceKey(ref.ParentKind.Collection(), fmt.Sprintf("%v", body.Data[ref.FieldName]))
		if _, err := s.substrate.Get(parentKey); err != nil {
			if err == substrate.ErrNotFound {
				writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %s %v does not exist", ErrMissingParent, ref.ParentKind, body.Data[ref.FieldName]))
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	} else if len(resource.ParentTable[kind]) > 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: no parent field present", ErrMissingParent))
		return
	}

	// Step 6: stamp the API version metadata attribute.
	body.Data[schema.FieldAPIVersionKey] = string(ver)

	// Step 7: write the record.
	raw, err := json.Marshal(body.Data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	key := substrate.ResourceKey(kind.Collection(), id)

	existed := true
	if _, err := s.substrate.Get(key); err == substrate.ErrNotFound {
		existed = false
	}

	if _, err := s.substrate.Put(key, string(raw), 0); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	// Step 8: nodes also carry a liveness key.
	if kind == resource.KindNode {
		healthValue := strconv.FormatInt(time.Now().Unix(), 10)
		if _, err := s.substrate.Put(substrate.HealthKey(id), healthValue, int(s.healthTTL.Seconds())); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}

	status := http.StatusOK
	if !existed {
		status = http.StatusCreated
	}
	w.Header().Set("Location", fmt.Sprintf("/%s/resource/%s/%s/", strings.TrimSuffix(req.URL.Path, "/resource"), kind.Collection(), id))
	writeJSON(w, status, body.Data)
}

// handleDeleteResource implements DELETE; it does not cascade
// to descendants (the collector reaps orphans separately).
func (s *Server) handleDeleteResource(_ schema.Version, w http.ResponseWriter, _ *http.Request, p httprouter.Params) {
	kind, ok := resource.ParseKind(p.ByName("kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %s", ErrUnknownKind, p.ByName("kind")))
		return
	}
	key := substrate.ResourceKey(kind.Collection(), p.ByName("id"))
	if _, err := s.substrate.Delete(key); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetResource(ver schema.Version, w http.ResponseWriter, _ *http.Request, p httprouter.Params) {
	kind, ok := resource.ParseKind(p.ByName("kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %s", ErrUnknownKind, p.ByName("kind")))
		return
	}
	key := substrate.ResourceKey(kind.Collection(), p.ByName("id"))
	resp, err := s.substrate.Get(key)
	if err != nil {
		if err == substrate.ErrNotFound {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(resp.Node.Value), &fields); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	delete(fields, schema.FieldAPIVersionKey)
	writeJSON(w, http.StatusOK, fields)
}

func (s *Server) handleGetCollection(ver schema.Version, w http.ResponseWriter, _ *http.Request, p httprouter.Params) {
	kind, ok := resource.ParseKind(p.ByName("kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %s", ErrUnknownKind, p.ByName("kind")))
		return
	}
	resp, err := s.substrate.GetRecursive(substrate.ResourceCollectionKey(kind.Collection()))
	out := []map[string]interface{}{}
	if err != nil && err != substrate.ErrNotFound {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if resp != nil && resp.Node != nil {
		for _, n := range resp.Node.Nodes {
			var fields map[string]interface{}
			if jerr := json.Unmarshal([]byte(n.Value), &fields); jerr != nil {
				continue
			}
			delete(fields, schema.FieldAPIVersionKey)
			out = append(out, fields)
		}
	}
	writeJSON(w, http.StatusOK, out)
}
