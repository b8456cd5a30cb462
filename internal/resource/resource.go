// Package resource describes the six registrable kinds of the fabric
// and the parent/child relations that the registration core and the
// garbage collector both need to walk.
package resource

import "fmt"

// Kind identifies one of the six registrable resource types.
type Kind string

const (
	KindNode     Kind = "node"
	KindDevice   Kind = "device"
	KindSource   Kind = "source"
	KindFlow     Kind = "flow"
	KindSender   Kind = "sender"
	KindReceiver Kind = "receiver"
)

// Kinds is the canonical ordering used whenever all six need enumerating
// (substrate loads, schema registration, route setup).
var Kinds = []Kind{KindNode, KindDevice, KindSource, KindFlow, KindSender, KindReceiver}

// Collection returns the plural path segment under which a kind's
// records live, e.g. "nodes", "devices".
func (k Kind) Collection() string {
	return string(k) + "s"
}

// ParseKind maps a collection path segment (e.g. "nodes") back to a Kind.
func ParseKind(collection string) (Kind, bool) {
	for _, k := range Kinds {
		if k.Collection() == collection {
			return k, true
		}
	}
	return "", false
}

// ParentRef names one possible parent relation for a kind: the parent's
// collection and the field on the child that carries the parent's id.
type ParentRef struct {
	ParentKind Kind
	FieldName  string
}

// ParentTable lists, per kind, the possible parent relations in
// strongest-to-weakest order. A kind with more than one entry is only
// ever governed by the first entry whose field is actually present on
// the record (see internal/collector), preserved for backward
// compatibility with pre-v1.1 flow records that only carried source_id.
var ParentTable = map[Kind][]ParentRef{
	KindDevice:   {{KindNode, "node_id"}},
	KindSource:   {{KindDevice, "device_id"}},
	KindSender:   {{KindDevice, "device_id"}},
	KindReceiver: {{KindDevice, "device_id"}},
	KindFlow:     {{KindDevice, "device_id"}, {KindSource, "source_id"}},
}

// ZeroUUID is the all-zero identifier rejected everywhere an id is required.
const ZeroUUID = "00000000-0000-0000-0000-000000000000"

// Record is a decoded registration record as stored in the substrate,
// before or after API-version projection. Fields is the raw JSON object;
// Kind and ID and APIVersion are pulled out for convenience.
type Record struct {
	Kind       Kind
	ID         string
	APIVersion string
	Fields     map[string]interface{}
}

// RequiredParents returns the parent relation that governs this record,
// honouring the single-governing-parent rule: the first ParentRef (in
// declared order) whose field is present on the record wins; if none of
// the declared fields are present, the record has no satisfiable parent.
func RequiredParents(k Kind, fields map[string]interface{}) (ParentRef, bool) {
	for _, ref := range ParentTable[k] {
		if v, ok := fields[ref.FieldName]; ok && v != nil && v != "" {
			return ref, true
		}
	}
	return ParentRef{}, false
}

// Validate performs the structural checks common to every kind,
// independent of per-version schema validation: presence of "id" and
// rejection of the zero UUID.
func Validate(fields map[string]interface{}) (string, error) {
	rawID, ok := fields["id"]
	if !ok {
		return "", fmt.Errorf("missing required attribute: id")
	}
	id, ok := rawID.(string)
	if !ok || id == "" {
		return "", fmt.Errorf("attribute id must be a non-empty string")
	}
	if id == ZeroUUID {
		return "", fmt.Errorf("id must not be the all-zero UUID")
	}
	return id, nil
}
