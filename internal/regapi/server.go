// Package regapi implements the registration core's HTTP surface: it
// accepts resource advertisements, heartbeats and deletes, delegates to
// the modifier and schema catalogue, and writes through to the
// substrate.
package regapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/bbc/nmos-discovery-registration-ri/internal/metrics"
	"github.com/bbc/nmos-discovery-registration-ri/internal/resource"
	"github.com/bbc/nmos-discovery-registration-ri/internal/schema"
	"github.com/bbc/nmos-discovery-registration-ri/internal/substrate"
)

// DefaultHealthTTL is the liveness key lifetime renewed by heartbeats.
const DefaultHealthTTL = 12 * time.Second

// Server is the registration core. It implements http.Handler directly
// and dispatches via an httprouter.Router.
type Server struct {
	router    *httprouter.Router
	substrate *substrate.Client
	catalogue *schema.Catalogue
	healthTTL time.Duration
	log       *logrus.Entry
}

// Config carries the construction parameters for Server.
type Config struct {
	RootPrefix string // e.g. "x-nmos"; "registration" is appended internally
	HealthTTL  time.Duration
}

// NewServer builds a registration core server with routes registered
// for every catalogue version under <RootPrefix>/registration/<version>/.
func NewServer(cfg Config, sub *substrate.Client, cat *schema.Catalogue, log *logrus.Entry) *Server {
	if cfg.HealthTTL <= 0 {
		cfg.HealthTTL = DefaultHealthTTL
	}
	if log == nil {
		log = logrus.WithField("component", "regapi")
	}
	s := &Server{
		router:    httprouter.New(),
		substrate: sub,
		catalogue: cat,
		healthTTL: cfg.HealthTTL,
		log:       log,
	}
	for _, ver := range schema.Versions {
		s.registerRoutes(cfg.RootPrefix, ver)
	}
	return s
}

func (s *Server) registerRoutes(root string, ver schema.Version) {
	prefix := fmt.Sprintf("/%s/registration/%s", root, ver)

	s.router.POST(prefix+"/resource", s.withVersion(ver, s.handlePostResource))
	s.router.DELETE(prefix+"/resource/:kind/:id", s.withVersion(ver, s.handleDeleteResource))
	s.router.GET(prefix+"/resource/:kind/:id", s.withVersion(ver, s.handleGetResource))
	s.router.GET(prefix+"/resource/:kind", s.withVersion(ver, s.handleGetCollection))

	s.router.POST(prefix+"/health/nodes/:id", s.withVersion(ver, s.handlePostHealth))
	s.router.GET(prefix+"/health/nodes/:id", s.withVersion(ver, s.handleGetHealth))

	s.router.POST(prefix+"/timeline/flows/:flowid/:storeid/:tsid", s.withVersion(ver, s.handlePostTimeline))
	s.router.GET(prefix+"/timeline/flows/:flowid/:storeid/:tsid", s.withVersion(ver, s.handleGetTimeline))
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.router.ServeHTTP(rec, req)

	labels := []string{"regapi", req.Method, req.URL.Path, strconv.Itoa(rec.status)}
	metrics.RequestsTotal.WithLabelValues(labels...).Inc()
	metrics.RequestLatency.WithLabelValues(labels...).Observe(float64(time.Since(start).Milliseconds()))
}

// statusRecorder captures the status code written by the router so it
// can be attached to the request metrics above.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type versionedHandle func(ver schema.Version, w http.ResponseWriter, req *http.Request, p httprouter.Params)

func (s *Server) withVersion(ver schema.Version, h versionedHandle) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
		h(ver, w, req, p)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

type jsonError struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, jsonError{Error: err.Error()})
}
