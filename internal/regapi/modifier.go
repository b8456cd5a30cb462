package regapi

import (
	"github.com/bbc/nmos-discovery-registration-ri/internal/ids"
	"github.com/bbc/nmos-discovery-registration-ri/internal/resource"
)

// uuidFields lists, per kind, the top-level and nested UUID-bearing
// field paths that get canonicalised before validation. Grounded on
// nmosregistration/modifier.py's per-kind SCHEMA table: "id" is general
// to every kind, the rest are kind-specific.
var uuidFields = map[resource.Kind][]fieldPath{
	resource.KindNode: {},
	resource.KindDevice: {
		{"node_id"},
	},
	resource.KindSource: {
		{"device_id"},
	},
	resource.KindFlow: {
		{"device_id"},
		{"source_id"},
	},
	resource.KindSender: {
		{"device_id"},
		{"flow_id"},
	},
	resource.KindReceiver: {
		{"device_id"},
		{"subscription", "sender_id"},
	},
}

// listUUIDFields names fields whose value is a list of UUIDs to
// canonicalise element-wise (device.senders[], device.receivers[]).
var listUUIDFields = map[resource.Kind][]string{
	resource.KindDevice: {"senders", "receivers"},
}

type fieldPath []string

// Modify rewrites well-known identifier fields to canonical (lowercase)
// form. It is deterministic and side-effect free beyond mutating the
// fields map it is given, which the caller owns exclusively at this
// point in the request pipeline.
func Modify(kind resource.Kind, fields map[string]interface{}) {
	if v, ok := fields["id"].(string); ok {
		fields["id"] = ids.Canonicalise(v)
	}

	for _, path := range uuidFields[kind] {
		canonicaliseAt(fields, path)
	}
	for _, name := range listUUIDFields[kind] {
		raw, ok := fields[name].([]interface{})
		if !ok {
			continue
		}
		for i, v := range raw {
			if s, ok := v.(string); ok {
				raw[i] = ids.Canonicalise(s)
			}
		}
	}
}

func canonicaliseAt(fields map[string]interface{}, path fieldPath) {
	if len(path) == 1 {
		if v, ok := fields[path[0]].(string); ok {
			fields[path[0]] = ids.Canonicalise(v)
		}
		return
	}
	nested, ok := fields[path[0]].(map[string]interface{})
	if !ok {
		return
	}
	canonicaliseAt(nested, path[1:])
}
