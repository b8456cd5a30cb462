package subscription

import (
	"github.com/bbc/nmos-discovery-registration-ri/internal/ids"
)

// Grain is the single JSON object pushed to every attached subscriber
// socket.
type Grain struct {
	GrainType          string     `json:"grain_type"`
	SourceID           string     `json:"source_id"`
	FlowID             string     `json:"flow_id"`
	OriginTimestamp    string     `json:"origin_timestamp"`
	SyncTimestamp      string     `json:"sync_timestamp"`
	CreationTimestamp  string     `json:"creation_timestamp"`
	Rate               rational   `json:"rate"`
	Duration           rational   `json:"duration"`
	GrainBody          grainBody  `json:"grain"`
}

type rational struct {
	Numerator   int `json:"numerator"`
	Denominator int `json:"denominator"`
}

type grainBody struct {
	Type  string  `json:"type"`
	Topic string  `json:"topic"`
	Data  []Entry `json:"data"`
}

// Entry is one {path, pre, post} transition inside a grain.
type Entry struct {
	Path string                 `json:"path"`
	Pre  map[string]interface{} `json:"pre"`
	Post map[string]interface{} `json:"post"`
}

// emptyObject ensures invisible legs serialise as `{}` rather than `null`.
func emptyObject(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// NewGrain wraps entries for subscriptionID/topic into the wire format;
// subscriptionID becomes flow_id. NMOS overloads the grain envelope
// (itself modeled on a media flow) to also carry non-media subscription
// events.
func NewGrain(subscriptionID, topic string, entries []Entry) Grain {
	for i := range entries {
		entries[i].Pre = emptyObject(entries[i].Pre)
		entries[i].Post = emptyObject(entries[i].Post)
	}
	return Grain{
		GrainType:         "event",
		SourceID:          ids.ProcessIdentity,
		FlowID:            subscriptionID,
		OriginTimestamp:   "0:0",
		SyncTimestamp:     "0:0",
		CreationTimestamp: "0:0",
		Rate:              rational{0, 1},
		Duration:          rational{0, 1},
		GrainBody: grainBody{
			Type:  "urn:x-nmos:format:data.event",
			Topic: topic,
			Data:  entries,
		},
	}
}
