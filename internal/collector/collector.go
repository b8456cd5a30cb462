// Package collector implements the periodic liveness & garbage
// collector: it acquires a CAS lock to serialise replicas, enumerates
// alive nodes, and reaps descendants of dead or orphaned parents down
// to a fixpoint.
package collector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bbc/nmos-discovery-registration-ri/internal/metrics"
	"github.com/bbc/nmos-discovery-registration-ri/internal/resource"
	"github.com/bbc/nmos-discovery-registration-ri/internal/substrate"
)

const (
	DefaultInterval    = 10 * time.Second
	DefaultPassTimeout = 9 * time.Second
	DefaultLockTTL     = 15 * time.Second
)

// Collector runs the fixed-cadence liveness and garbage sweep.
type Collector struct {
	substrate *substrate.Client
	identity  string
	interval  time.Duration
	timeout   time.Duration
	lockTTL   time.Duration
	log       *logrus.Entry

	stop chan struct{}
	done chan struct{}
}

// New returns a Collector ready to Run. identity is the value written
// into the lock key, so operators can tell which replica last
// collected.
func New(sub *substrate.Client, identity string, log *logrus.Entry) *Collector {
	if log == nil {
		log = logrus.WithField("component", "collector")
	}
	return &Collector{
		substrate: sub,
		identity:  identity,
		interval:  DefaultInterval,
		timeout:   DefaultPassTimeout,
		lockTTL:   DefaultLockTTL,
		log:       log,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SetInterval overrides the pass cadence; call before Run.
func (c *Collector) SetInterval(d time.Duration) {
	c.interval = d
}

// Run fires collection passes on a fixed-period timer until Stop is
// called. It never returns an error to the caller: all exceptions are
// logged and the next pass is scheduled unconditionally.
func (c *Collector) Run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.pass(ctx)
		}
	}
}

// Stop requests that Run return after its current tick, and blocks
// until it has.
func (c *Collector) Stop() {
	close(c.stop)
	<-c.done
}

// pass performs exactly one collection attempt: lock, bound, collect,
// release. Any failure is logged and swallowed.
func (c *Collector) pass(parent context.Context) {
	if _, err := c.substrate.CreateCAS(substrate.GarbageCollectionLockKey, c.identity, int(c.lockTTL.Seconds())); err != nil {
		c.log.Debug("not collecting - another collector holds the lock")
		metrics.CollectorLockContended.Inc()
		return
	}
	defer c.release()

	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.collect(ctx)
	metrics.CollectorPassDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.log.WithError(err).Warn("garbage collection pass failed")
	}
}

func (c *Collector) release() {
	if _, err := c.substrate.Delete(substrate.GarbageCollectionLockKey); err != nil {
		c.log.WithError(err).Warn("could not remove collector lock")
	}
}

type loadedResource struct {
	kind   resource.Kind
	fields map[string]interface{}
}

// collect implements steps 3-8.
func (c *Collector) collect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	health := substrate.NewHealthCache(c.timeout)
	if err := health.Populate(c.substrate); err != nil {
		return err
	}

	all, err := c.loadAllResources()
	if err != nil {
		return err
	}

	toKill := make(map[string]loadedResource)

	// Seed with dead nodes.
	for _, r := range all {
		if r.kind != resource.KindNode {
			continue
		}
		id, _ := r.fields["id"].(string)
		if !health.Alive(id) {
			toKill[killKey(r.kind, id)] = r
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		newly := findDeadResources(all, toKill)
		if len(newly) == 0 {
			break
		}
		for k, v := range newly {
			toKill[k] = v
		}
		all = shrink(all, toKill)
	}

	for _, r := range toKill {
		id, _ := r.fields["id"].(string)
		key := substrate.ResourceKey(r.kind.Collection(), id)
		c.log.WithFields(logrus.Fields{"kind": r.kind, "id": id}).Info("removing orphaned resource")
		if _, err := c.substrate.Delete(key); err != nil {
			c.log.WithError(err).Warn("failed to delete resource during collection")
			continue
		}
		metrics.CollectorReaped.WithLabelValues(string(r.kind)).Inc()
	}
	return nil
}

func killKey(kind resource.Kind, id string) string { return string(kind) + "/" + id }

func (c *Collector) loadAllResources() ([]loadedResource, error) {
	var all []loadedResource
	for _, kind := range resource.Kinds {
		resp, err := c.substrate.GetRecursive(substrate.ResourceCollectionKey(kind.Collection()))
		if err != nil {
			if err == substrate.ErrNotFound {
				continue
			}
			return nil, err
		}
		if resp.Node == nil {
			continue
		}
		for _, n := range resp.Node.Nodes {
			var fields map[string]interface{}
			if jerr := json.Unmarshal([]byte(n.Value), &fields); jerr != nil {
				continue
			}
			all = append(all, loadedResource{kind: kind, fields: fields})
		}
	}
	return all, nil
}

// findDeadResources implements step 6: for each non-node
// resource not already queued, find the single governing parent (first
// present field in declared order) and mark it dead if that parent is
// missing from the live set or itself already queued for removal.
func findDeadResources(all []loadedResource, toKill map[string]loadedResource) map[string]loadedResource {
	newly := map[string]loadedResource{}

	index := make(map[string]map[string]bool, len(resource.Kinds))
	for _, r := range all {
		id, _ := r.fields["id"].(string)
		if index[string(r.kind)] == nil {
			index[string(r.kind)] = map[string]bool{}
		}
		index[string(r.kind)][id] = true
	}

	for _, r := range all {
		if r.kind == resource.KindNode {
			continue
		}
		id, _ := r.fields["id"].(string)
		k := killKey(r.kind, id)
		if _, already := toKill[k]; already {
			continue
		}

		ref, hasParent := resource.RequiredParents(r.kind, r.fields)
		if !hasParent {
			newly[k] = r
			continue
		}
		parentID := ""
		if v, ok := r.fields[ref.FieldName]; ok {
			parentID, _ = v.(string)
		}
		parentAlive := index[string(ref.ParentKind)][parentID] && !isQueued(toKill, ref.ParentKind, parentID)
		if !parentAlive {
			newly[k] = r
		}
	}
	return newly
}

func isQueued(toKill map[string]loadedResource, kind resource.Kind, id string) bool {
	_, ok := toKill[killKey(kind, id)]
	return ok
}

// shrink removes every queued-for-removal resource from the search
// space; a resource that is going to be deleted can never parent
// another.
func shrink(all []loadedResource, toKill map[string]loadedResource) []loadedResource {
	out := make([]loadedResource, 0, len(all))
	for _, r := range all {
		id, _ := r.fields["id"].(string)
		if _, dead := toKill[killKey(r.kind, id)]; dead {
			continue
		}
		out = append(out, r)
	}
	return out
}
