// Package subscription implements the subscription table, sync-grain
// generation and change-driven fan-out to attached websocket sockets.
package subscription

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bbc/nmos-discovery-registration-ri/internal/changefeed"
	"github.com/bbc/nmos-discovery-registration-ri/internal/filter"
	"github.com/bbc/nmos-discovery-registration-ri/internal/ids"
	"github.com/bbc/nmos-discovery-registration-ri/internal/metrics"
	"github.com/bbc/nmos-discovery-registration-ri/internal/resource"
	"github.com/bbc/nmos-discovery-registration-ri/internal/schema"
)

// Store is the read-only resource catalogue the manager needs to
// synthesize sync grains; it is satisfied by the query core's reader.
type Store interface {
	ListCollection(kind resource.Kind) ([]map[string]interface{}, error)
}

// Descriptor is the subscriber-facing view of a Subscription.
type Descriptor struct {
	ID              string            `json:"id"`
	ResourcePath    string            `json:"resource_path"`
	Params          map[string]string `json:"params"`
	MaxUpdateRateMs int               `json:"max_update_rate_ms"`
	Persist         bool              `json:"persist"`
	APIVersion      string            `json:"api_version"`
	WSHref          string            `json:"ws_href"`
}

// Subscription is one active filtered stream and its attached sockets.
type Subscription struct {
	id           string
	resourcePath string
	kind         resource.Kind
	// resourceID scopes the subscription to a single resource within
	// kind's collection (e.g. resource_path "nodes/<id>"); empty means
	// the whole collection.
	resourceID      string
	params          map[string]string
	filter          filter.Filter
	maxUpdateRateMs int
	persist         bool
	apiVersion      schema.Version
	downgradeFloor  schema.Version
	wsHref          string

	mu      sync.Mutex
	sockets map[*Socket]struct{}
}

func (s *Subscription) Descriptor() Descriptor {
	return Descriptor{
		ID:              s.id,
		ResourcePath:    s.resourcePath,
		Params:          s.params,
		MaxUpdateRateMs: s.maxUpdateRateMs,
		Persist:         s.persist,
		APIVersion:      string(s.apiVersion),
		WSHref:          s.wsHref,
	}
}

// Manager owns the subscription table and the dispatch of decoded
// change-feed events to attached sockets. A single mutex around the
// table suffices: operations are O(subscriptions) and short.
type Manager struct {
	mu            sync.Mutex
	subs          map[string]*Subscription
	catalogue     *schema.Catalogue
	store         Store
	wsHrefBase    string
	log           *logrus.Entry
}

// NewManager returns an empty subscription table. wsHrefBase is the
// "ws://host:port/x-nmos/query" prefix used to build ws_href values.
func NewManager(cat *schema.Catalogue, store Store, wsHrefBase string, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.WithField("component", "subscription")
	}
	return &Manager{
		subs:       make(map[string]*Subscription),
		catalogue:  cat,
		store:      store,
		wsHrefBase: wsHrefBase,
		log:        log,
	}
}

// CreateRequest is the POST /subscriptions body.
type CreateRequest struct {
	ResourcePath    string            `json:"resource_path"`
	Params          map[string]string `json:"params"`
	MaxUpdateRateMs int               `json:"max_update_rate_ms"`
	Persist         bool              `json:"persist"`
}

// Create implements the POST /subscriptions dedup rule: a
// non-persistent subscription with an identical (resource_path, params,
// api_version) is returned unchanged with created=false; everything
// else (including every persistent request) creates a new one.
func (m *Manager) Create(req CreateRequest, apiVersion schema.Version, downgradeFloor schema.Version) (*Subscription, bool, error) {
	kind, resourceID, ok := parseResourcePath(req.ResourcePath)
	if !ok {
		return nil, false, fmt.Errorf("unknown resource_path %q", req.ResourcePath)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !req.Persist {
		for _, existing := range m.subs {
			if existing.persist {
				continue
			}
			if existing.resourcePath == req.ResourcePath &&
				existing.apiVersion == apiVersion &&
				sameParams(existing.params, req.Params) {
				return existing, false, nil
			}
		}
	}

	id := uuid.New().String()
	sub := &Subscription{
		id:              id,
		resourcePath:    req.ResourcePath,
		kind:            kind,
		resourceID:      resourceID,
		params:          req.Params,
		filter:          filter.ParseFilter(toMultiValue(req.Params)),
		maxUpdateRateMs: req.MaxUpdateRateMs,
		persist:         req.Persist,
		apiVersion:      apiVersion,
		downgradeFloor:  downgradeFloor,
		wsHref:          fmt.Sprintf("%s/ws/?uid=%s", m.wsHrefBase, id),
		sockets:         make(map[*Socket]struct{}),
	}
	m.subs[id] = sub
	metrics.SubscriptionsActive.Set(float64(len(m.subs)))
	return sub, true, nil
}

func sameParams(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func toMultiValue(params map[string]string) map[string][]string {
	out := make(map[string][]string, len(params))
	for k, v := range params {
		out[k] = []string{v}
	}
	return out
}

// Get returns a subscription by id.
func (m *Manager) Get(id string) (*Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	return s, ok
}

// List returns every subscription descriptor.
func (m *Manager) List() []Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Descriptor, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s.Descriptor())
	}
	return out
}

// ErrNotPersistent is returned by Delete for a non-persistent subscription.
type ErrNotPersistent struct{ ID string }

func (e ErrNotPersistent) Error() string {
	return fmt.Sprintf("subscription %s is not persistent", e.ID)
}

// Delete removes a persistent subscription; deleting a non-persistent
// one is forbidden.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return fmt.Errorf("subscription %s not found", id)
	}
	if !sub.persist {
		return ErrNotPersistent{ID: id}
	}
	delete(m.subs, id)
	metrics.SubscriptionsActive.Set(float64(len(m.subs)))
	sub.closeAllSockets()
	return nil
}

// Attach registers sock against subscription id, sends the sync grain,
// and starts the socket's read-drain loop. Returns an error if the
// subscription doesn't exist.
func (m *Manager) Attach(id string, sock *Socket) error {
	m.mu.Lock()
	sub, ok := m.subs[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("subscription %s not found", id)
	}

	sub.mu.Lock()
	sub.sockets[sock] = struct{}{}
	sub.mu.Unlock()
	metrics.SocketsAttached.Inc()

	if err := m.sendSync(sub, sock); err != nil {
		m.log.WithError(err).Warn("failed to send sync grain")
	}

	go sock.drain(func() { m.detach(sub, sock) })
	return nil
}

func (m *Manager) detach(sub *Subscription, sock *Socket) {
	sock.Close()
	sub.mu.Lock()
	delete(sub.sockets, sock)
	remaining := len(sub.sockets)
	sub.mu.Unlock()
	metrics.SocketsAttached.Dec()

	if remaining == 0 && !sub.persist {
		m.mu.Lock()
		delete(m.subs, sub.id)
		metrics.SubscriptionsActive.Set(float64(len(m.subs)))
		m.mu.Unlock()
	}
}

// sendSync sends one change entry per currently-matching resource with
// pre == post == resource, so a freshly attached socket starts in sync.
func (m *Manager) sendSync(sub *Subscription, sock *Socket) error {
	records, err := m.store.ListCollection(sub.kind)
	if err != nil {
		return err
	}
	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		if sub.resourceID != "" {
			recID, _ := rec["id"].(string)
			if ids.Canonicalise(recID) != sub.resourceID {
				continue
			}
		}
		projected, ok, err := m.catalogue.Downgrade(sub.kind, rec, sub.apiVersion, sub.downgradeFloor)
		if err != nil || !ok {
			continue
		}
		if !sub.filter.Match(projected) {
			continue
		}
		id, _ := projected["id"].(string)
		entries = append(entries, Entry{Path: id, Pre: projected, Post: projected})
	}
	grain := NewGrain(sub.id, "/"+sub.kind.Collection()+"/", entries)
	return sock.Send(grain)
}

func (s *Subscription) closeAllSockets() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sock := range s.sockets {
		sock.Close()
	}
	s.sockets = make(map[*Socket]struct{})
}

// DisconnectAll force-closes every attached socket on every
// subscription, used after sustained change-feed loss.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()
	for _, s := range subs {
		s.closeAllSockets()
	}
}

// Dispatch processes a single decoded change-feed event: it resolves
// the event's kind from its key, decodes pre/post, and forwards to
// every subscription whose resource_path matches.
func (m *Manager) Dispatch(ev changefeed.Event) {
	if ev.IsIndexSkip() {
		// Downstream resync policy: see DESIGN.md "Effect of an
		// index_skip sentinel on query subscribers".
		m.DisconnectAll()
		return
	}
	if ev.Node == nil {
		return
	}
	kind, resourceID, ok := kindAndIDFromKey(ev.Node.Key)
	if !ok {
		return
	}
	resourceID = ids.Canonicalise(resourceID)

	pre, _ := changefeed.DecodeValue(ev.PrevNode)
	post, _ := changefeed.DecodeValue(ev.Node)
	if ev.Action == "delete" || ev.Action == "expire" {
		post = nil
	}

	m.mu.Lock()
	targets := make([]*Subscription, 0)
	for _, sub := range m.subs {
		if sub.kind != kind {
			continue
		}
		if sub.resourceID != "" && sub.resourceID != resourceID {
			continue
		}
		targets = append(targets, sub)
	}
	m.mu.Unlock()

	for _, sub := range targets {
		m.dispatchOne(sub, kind, pre, post)
	}
}

func (m *Manager) dispatchOne(sub *Subscription, kind resource.Kind, pre, post map[string]interface{}) {
	var preProj, postProj map[string]interface{}
	var preOK, postOK bool
	var err error

	if pre != nil {
		preProj, preOK, err = m.catalogue.Downgrade(kind, pre, sub.apiVersion, sub.downgradeFloor)
		if err != nil {
			preOK = false
		}
	}
	if post != nil {
		postProj, postOK, err = m.catalogue.Downgrade(kind, post, sub.apiVersion, sub.downgradeFloor)
		if err != nil {
			postOK = false
		}
	}
	if !preOK && !postOK {
		// Both legs legalise to nothing for this subscription's version;
		// drop silently.
		return
	}

	preVisible := preOK && sub.filter.Match(preProj)
	postVisible := postOK && sub.filter.Match(postProj)

	var entry Entry
	switch {
	case !preVisible && postVisible:
		id, _ := postProj["id"].(string)
		entry = Entry{Path: id, Pre: nil, Post: postProj}
	case preVisible && !postVisible:
		id, _ := preProj["id"].(string)
		entry = Entry{Path: id, Pre: preProj, Post: nil}
	case preVisible && postVisible:
		id, _ := postProj["id"].(string)
		entry = Entry{Path: id, Pre: preProj, Post: postProj}
	default:
		return
	}

	grain := NewGrain(sub.id, "/"+kind.Collection()+"/", []Entry{entry})

	sub.mu.Lock()
	sockets := make([]*Socket, 0, len(sub.sockets))
	for sock := range sub.sockets {
		sockets = append(sockets, sock)
	}
	sub.mu.Unlock()

	for _, sock := range sockets {
		if err := sock.Send(grain); err != nil {
			m.log.WithError(err).Debug("failed to send grain to subscriber")
		}
	}
}

// kindAndIDFromKey splits a substrate resource key ("resource/<kind>s/<id>")
// into its kind and resource id. id is empty if the key names the
// collection root rather than a single resource.
func kindAndIDFromKey(key string) (kind resource.Kind, id string, ok bool) {
	parts := strings.Split(strings.Trim(key, "/"), "/")
	if len(parts) < 2 || parts[0] != "resource" {
		return "", "", false
	}
	kind, ok = resource.ParseKind(parts[1])
	if !ok {
		return "", "", false
	}
	if len(parts) >= 3 {
		id = parts[2]
	}
	return kind, id, true
}

func normaliseResourcePath(p string) string {
	return strings.Trim(p, "/")
}

// parseResourcePath accepts both a bare collection path ("nodes") and a
// single-resource path ("nodes/<id>"), matching the reference client's
// prefix-match behaviour: a subscription may be scoped to one resource
// as well as a whole collection. id is empty for a collection-scoped
// subscription.
func parseResourcePath(p string) (kind resource.Kind, id string, ok bool) {
	trimmed := normaliseResourcePath(p)
	if trimmed == "" {
		return "", "", false
	}
	parts := strings.Split(trimmed, "/")
	kind, ok = resource.ParseKind(parts[0])
	if !ok {
		return "", "", false
	}
	switch len(parts) {
	case 1:
		return kind, "", true
	case 2:
		if parts[1] == "" {
			return kind, "", true
		}
		return kind, ids.Canonicalise(parts[1]), true
	default:
		return "", "", false
	}
}
