package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bbc/nmos-discovery-registration-ri/internal/ids"
)

func TestNewGrainSetsEnvelopeFields(t *testing.T) {
	g := NewGrain("sub-1", "/nodes/", []Entry{{Path: "n1", Pre: nil, Post: map[string]interface{}{"id": "n1"}}})
	assert.Equal(t, "event", g.GrainType)
	assert.Equal(t, ids.ProcessIdentity, g.SourceID)
	assert.Equal(t, "sub-1", g.FlowID)
	assert.Equal(t, "/nodes/", g.GrainBody.Topic)
	assert.Equal(t, "urn:x-nmos:format:data.event", g.GrainBody.Type)
}

func TestNewGrainReplacesNilLegsWithEmptyObject(t *testing.T) {
	entries := []Entry{
		{Path: "n1", Pre: nil, Post: map[string]interface{}{"id": "n1"}},
		{Path: "n2", Pre: map[string]interface{}{"id": "n2"}, Post: nil},
	}
	g := NewGrain("sub-1", "/nodes/", entries)
	assert.Equal(t, map[string]interface{}{}, g.GrainBody.Data[0].Pre, "a nil pre leg must serialise as {} not null")
	assert.Equal(t, map[string]interface{}{"id": "n1"}, g.GrainBody.Data[0].Post)
	assert.Equal(t, map[string]interface{}{"id": "n2"}, g.GrainBody.Data[1].Pre)
	assert.Equal(t, map[string]interface{}{}, g.GrainBody.Data[1].Post, "a nil post leg must serialise as {} not null")
}
