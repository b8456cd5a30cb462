package substrate

import "fmt"

// Key composition is isolated here so the rest of the core works in
// typed records rather than ad-hoc string paths.

// ResourceKey returns the substrate key for a single resource.
func ResourceKey(collection, id string) string {
	return fmt.Sprintf("resource/%s/%s", collection, id)
}

// ResourceCollectionKey returns the substrate key for a resource
// collection (recursive read/delete root).
func ResourceCollectionKey(collection string) string {
	return fmt.Sprintf("resource/%s", collection)
}

// HealthKey returns the liveness TTL key for a node id.
func HealthKey(nodeID string) string {
	return fmt.Sprintf("health/%s", nodeID)
}

// HealthRootKey is the recursive root under which every node's
// liveness key lives.
const HealthRootKey = "health"

// TimelineKey returns the opaque per-flow segment key.
func TimelineKey(flowID, storeID, minTsUTC string) string {
	return fmt.Sprintf("timeline/flows/%s/%s/%s", flowID, storeID, minTsUTC)
}

// GarbageCollectionLockKey is the well-known CAS lock key collectors
// contend for.
const GarbageCollectionLockKey = "garbage_collection"

// ResourceRootKey is the recursive root watched by the change feed.
const ResourceRootKey = "resource"
