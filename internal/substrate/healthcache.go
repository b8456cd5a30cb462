package substrate

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// HealthCache holds the set of node ids considered alive as of the last
// Populate call, for the duration of a single collector pass. It is not
// a resource cache: resource content is always read fresh from the
// substrate. This only memoises the liveness listing so a single
// collector pass doesn't re-issue the recursive health/ read on every
// fixpoint iteration.
type HealthCache struct {
	cache *gocache.Cache
}

// NewHealthCache returns a cache whose entries expire after ttl. The
// collector passes its own pass deadline as ttl, so a snapshot does not
// outlive the pass that produced it.
func NewHealthCache(ttl time.Duration) *HealthCache {
	return &HealthCache{cache: gocache.New(ttl, ttl)}
}

// Populate lists health/ recursively and records every live node id.
func (h *HealthCache) Populate(c *Client) error {
	resp, err := c.GetRecursive(HealthRootKey)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	if resp.Node == nil {
		return nil
	}
	for _, n := range resp.Node.Nodes {
		parts := strings.Split(n.Key, "/")
		nodeID := parts[len(parts)-1]
		h.cache.SetDefault(nodeID, struct{}{})
	}
	return nil
}

// Alive reports whether nodeID has a live liveness key in the snapshot.
func (h *HealthCache) Alive(nodeID string) bool {
	_, found := h.cache.Get(nodeID)
	return found
}
