package queryapi

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/bbc/nmos-discovery-registration-ri/internal/metrics"
	"github.com/bbc/nmos-discovery-registration-ri/internal/resource"
	"github.com/bbc/nmos-discovery-registration-ri/internal/schema"
	"github.com/bbc/nmos-discovery-registration-ri/internal/subscription"
	"github.com/bbc/nmos-discovery-registration-ri/internal/substrate"
)

// Server is the query core: a read-only HTTP surface over the
// substrate plus the subscription/ws collection.
type Server struct {
	router    *httprouter.Router
	store     *SubstrateStore
	catalogue *schema.Catalogue
	manager   *subscription.Manager
	log       *logrus.Entry
}

// Config carries construction parameters for Server.
type Config struct {
	RootPrefix string // e.g. "x-nmos"
}

// NewServer builds a query core server with GET routes registered for
// every catalogue version, plus the subscription and websocket routes.
func NewServer(cfg Config, sub *substrate.Client, cat *schema.Catalogue, mgr *subscription.Manager, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.WithField("component", "queryapi")
	}
	s := &Server{
		router:    httprouter.New(),
		store:     &SubstrateStore{Substrate: sub},
		catalogue: cat,
		manager:   mgr,
		log:       log,
	}
	for _, ver := range schema.Versions {
		s.registerRoutes(cfg.RootPrefix, ver)
	}
	return s
}

func (s *Server) registerRoutes(root string, ver schema.Version) {
	prefix := fmt.Sprintf("/%s/query/%s", root, ver)

	// One static route per collection: httprouter cannot hold a
	// ":kind" wildcard beside the static subscriptions and ws segments.
	for _, kind := range resource.Kinds {
		coll := kind.Collection()
		s.router.GET(prefix+"/"+coll+"/:id", s.withVersion(ver, withKind(coll, s.handleGetSingle)))
		s.router.GET(prefix+"/"+coll, s.withVersion(ver, withKind(coll, s.handleGetCollection)))
	}

	s.router.POST(prefix+"/subscriptions", s.withVersion(ver, s.handlePostSubscription))
	s.router.GET(prefix+"/subscriptions", s.withVersion(ver, s.handleListSubscriptions))
	s.router.GET(prefix+"/subscriptions/:id", s.withVersion(ver, s.handleGetSubscription))
	s.router.DELETE(prefix+"/subscriptions/:id", s.withVersion(ver, s.handleDeleteSubscription))

	s.router.GET(prefix+"/ws/", s.withVersion(ver, s.handleWebsocket))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.router.ServeHTTP(rec, req)

	labels := []string{"queryapi", req.Method, req.URL.Path, strconv.Itoa(rec.status)}
	metrics.RequestsTotal.WithLabelValues(labels...).Inc()
	metrics.RequestLatency.WithLabelValues(labels...).Observe(float64(time.Since(start).Milliseconds()))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack forwards to the underlying ResponseWriter so the websocket
// upgrade route can still take over the connection through this
// recorder (net/http.Hijacker is not part of the ResponseWriter
// interface, so embedding alone would not expose it).
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

type versionedHandle func(ver schema.Version, w http.ResponseWriter, req *http.Request, p httprouter.Params)

func (s *Server) withVersion(ver schema.Version, h versionedHandle) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
		h(ver, w, req, p)
	}
}

// withKind supplies the "kind" route parameter the resource handlers read.
func withKind(coll string, h versionedHandle) versionedHandle {
	return func(ver schema.Version, w http.ResponseWriter, req *http.Request, p httprouter.Params) {
		h(ver, w, req, append(httprouter.Params{{Key: "kind", Value: coll}}, p...))
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
