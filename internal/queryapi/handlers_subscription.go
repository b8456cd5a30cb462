package queryapi

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/bbc/nmos-discovery-registration-ri/internal/schema"
	"github.com/bbc/nmos-discovery-registration-ri/internal/subscription"
)

func (s *Server) handlePostSubscription(ver schema.Version, w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body subscription.CreateRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	floor := downgradeFloor(req.URL.Query())
	sub, created, err := s.manager.Create(body, ver, floor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, sub.Descriptor())
}

func (s *Server) handleListSubscriptions(ver schema.Version, w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.manager.List())
}

func (s *Server) handleGetSubscription(ver schema.Version, w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	sub, ok := s.manager.Get(p.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, errSubscriptionNotFound(p.ByName("id")))
		return
	}
	writeJSON(w, http.StatusOK, sub.Descriptor())
}

func (s *Server) handleDeleteSubscription(ver schema.Version, w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	id := p.ByName("id")
	if err := s.manager.Delete(id); err != nil {
		if _, ok := err.(subscription.ErrNotPersistent); ok {
			writeError(w, http.StatusForbidden, err)
			return
		}
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWebsocket(ver schema.Version, w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	uid := req.URL.Query().Get("uid")
	if uid == "" {
		writeError(w, http.StatusBadRequest, errMissingUID)
		return
	}
	if _, ok := s.manager.Get(uid); !ok {
		writeError(w, http.StatusNotFound, errSubscriptionNotFound(uid))
		return
	}

	sock, err := subscription.Upgrade(w, req, s.log.WithField("subscription", uid))
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	if err := s.manager.Attach(uid, sock); err != nil {
		sock.Close()
		s.log.WithError(err).Warn("failed to attach socket")
	}
}
