package queryapi

import (
	"encoding/json"

	"github.com/bbc/nmos-discovery-registration-ri/internal/resource"
	"github.com/bbc/nmos-discovery-registration-ri/internal/substrate"
)

// SubstrateStore reads resource collections straight out of the
// substrate, keeping the @_apiversion metadata attribute intact so
// callers (the filter/downgrade pipeline, the subscription manager's
// sync grain) can make version decisions before it gets stripped.
type SubstrateStore struct {
	Substrate *substrate.Client
}

// ListCollection satisfies subscription.Store.
func (s *SubstrateStore) ListCollection(kind resource.Kind) ([]map[string]interface{}, error) {
	resp, err := s.Substrate.GetRecursive(substrate.ResourceCollectionKey(kind.Collection()))
	if err != nil {
		if err == substrate.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	if resp.Node == nil {
		return nil, nil
	}
	out := make([]map[string]interface{}, 0, len(resp.Node.Nodes))
	for _, n := range resp.Node.Nodes {
		var fields map[string]interface{}
		if jerr := json.Unmarshal([]byte(n.Value), &fields); jerr != nil {
			continue
		}
		out = append(out, fields)
	}
	return out, nil
}

// Get reads a single resource record, metadata intact.
func (s *SubstrateStore) Get(kind resource.Kind, id string) (map[string]interface{}, error) {
	resp, err := s.Substrate.Get(substrate.ResourceKey(kind.Collection(), id))
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(resp.Node.Value), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
