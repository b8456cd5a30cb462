package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbc/nmos-discovery-registration-ri/internal/resource"
	"github.com/bbc/nmos-discovery-registration-ri/internal/substrate"
)

type fakeSubstrate struct {
	keys map[string]string
}

func newTestCollector(t *testing.T, fake *fakeSubstrate) *Collector {
	t.Helper()
	backing := httptest.NewServer(http.HandlerFunc(fake.serve))
	t.Cleanup(backing.Close)
	client := substrate.NewClient(backing.URL, 2*time.Second)
	return New(client, "test-replica", nil)
}

func (f *fakeSubstrate) serve(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("recursive") == "true" {
			var nodes []string
			for k, v := range f.keys {
				if strings.HasPrefix(k, key+"/") {
					nodes = append(nodes, fmt.Sprintf(`{"key":"/%s","value":%q}`, k, v))
				}
			}
			if len(nodes) == 0 {
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `{"errorCode":100,"message":"Key not found"}`)
				return
			}
			fmt.Fprintf(w, `{"node":{"key":"/%s","dir":true,"nodes":[%s]}}`, key, strings.Join(nodes, ","))
			return
		}
		v, ok := f.keys[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"errorCode":100,"message":"Key not found"}`)
			return
		}
		fmt.Fprintf(w, `{"node":{"key":"/%s","value":%q}}`, key, v)
	case http.MethodPut:
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		prevExist := r.Form.Get("prevExist")
		if prevExist == "false" {
			if _, exists := f.keys[key]; exists {
				w.WriteHeader(http.StatusPreconditionFailed)
				fmt.Fprint(w, `{"errorCode":105,"message":"Key already exists"}`)
				return
			}
			w.WriteHeader(http.StatusCreated)
		}
		f.keys[key] = r.Form.Get("value")
		fmt.Fprintf(w, `{"action":"set","node":{"key":"/%s","value":%q}}`, key, f.keys[key])
	case http.MethodDelete:
		delete(f.keys, key)
		fmt.Fprint(w, `{"action":"delete"}`)
	}
}

func recordJSON(id string, extra map[string]string) string {
	body := `{"id":"` + id + `"`
	for k, v := range extra {
		body += fmt.Sprintf(`,%q:%q`, k, v)
	}
	return body + "}"
}

func TestCollectRemovesDescendantsOfDeadNode(t *testing.T) {
	fake := &fakeSubstrate{keys: map[string]string{
		"resource/nodes/n1":    recordJSON("n1", nil),
		"resource/devices/d1":  recordJSON("d1", map[string]string{"node_id": "n1"}),
		"resource/sources/s1":  recordJSON("s1", map[string]string{"device_id": "d1"}),
		// no health/n1 key: n1 is dead.
	}}
	c := newTestCollector(t, fake)
	require.NoError(t, c.collect(context.Background()))
	_, devicePresent := fake.keys["resource/devices/d1"]
	assert.False(t, devicePresent, "collect() should have removed the device orphaned by its dead node")
	_, sourcePresent := fake.keys["resource/sources/s1"]
	assert.False(t, sourcePresent, "collect() should have removed the source orphaned transitively")
}

func TestCollectPreservesLiveTree(t *testing.T) {
	fake := &fakeSubstrate{keys: map[string]string{
		"resource/nodes/n1":   recordJSON("n1", nil),
		"resource/devices/d1": recordJSON("d1", map[string]string{"node_id": "n1"}),
		"health/n1":           "1234567890",
	}}
	c := newTestCollector(t, fake)
	require.NoError(t, c.collect(context.Background()))
	_, present := fake.keys["resource/devices/d1"]
	assert.True(t, present, "collect() should not remove a device whose node is alive")
}

func TestFindDeadResourcesGoverningParentMissing(t *testing.T) {
	all := []loadedResource{
		{kind: resource.KindFlow, fields: map[string]interface{}{"id": "f1", "device_id": "missing"}},
	}
	newly := findDeadResources(all, map[string]loadedResource{})
	_, flagged := newly[killKey(resource.KindFlow, "f1")]
	assert.True(t, flagged, "findDeadResources() should flag a flow whose device_id parent is absent")
}

func TestFindDeadResourcesParentPresentSurvives(t *testing.T) {
	all := []loadedResource{
		{kind: resource.KindDevice, fields: map[string]interface{}{"id": "d1", "node_id": "n1"}},
		{kind: resource.KindNode, fields: map[string]interface{}{"id": "n1"}},
	}
	newly := findDeadResources(all, map[string]loadedResource{})
	assert.Empty(t, newly, "findDeadResources() should find nothing when the parent is present")
}

func TestShrinkRemovesQueued(t *testing.T) {
	all := []loadedResource{
		{kind: resource.KindDevice, fields: map[string]interface{}{"id": "d1"}},
		{kind: resource.KindDevice, fields: map[string]interface{}{"id": "d2"}},
	}
	toKill := map[string]loadedResource{killKey(resource.KindDevice, "d1"): all[0]}
	out := shrink(all, toKill)
	require.Len(t, out, 1)
	assert.Equal(t, "d2", out[0].fields["id"])
}

func TestIsQueued(t *testing.T) {
	toKill := map[string]loadedResource{killKey(resource.KindSource, "s1"): {}}
	assert.True(t, isQueued(toKill, resource.KindSource, "s1"))
	assert.False(t, isQueued(toKill, resource.KindSource, "s2"))
}
