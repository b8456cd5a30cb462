package substrate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := NewClient(srv.URL, 2*time.Second)
	return c, srv.Close
}

func TestPut(t *testing.T) {
	c, closeFn := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "hello", r.Form.Get("value"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"action":"set","node":{"key":"/foo","value":"hello","modifiedIndex":5}}`))
	})
	defer closeFn()

	resp, err := c.Put("foo", "hello", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, resp.Node.ModifiedIndex)
}

func TestCreateCASFailure(t *testing.T) {
	c, closeFn := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
		w.Write([]byte(`{"errorCode":105,"message":"Key already exists"}`))
	})
	defer closeFn()

	_, err := c.CreateCAS("health/node1", "alive", 12)
	assert.ErrorIs(t, err, ErrCASFailed)
}

func TestGetNotFound(t *testing.T) {
	c, closeFn := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errorCode":100,"message":"Key not found"}`))
	})
	defer closeFn()

	_, err := c.Get("resource/nodes/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRecursive(t *testing.T) {
	c, closeFn := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("recursive"))
		w.Write([]byte(`{"node":{"key":"/resource/nodes","dir":true,"nodes":[
			{"key":"/resource/nodes/a","value":"{\"id\":\"a\"}"},
			{"key":"/resource/nodes/b","value":"{\"id\":\"b\"}"}
		]}}`))
	})
	defer closeFn()

	resp, err := c.GetRecursive("resource/nodes")
	require.NoError(t, err)
	assert.Len(t, resp.Node.Nodes, 2)
}

func TestIndexReadsHeader(t *testing.T) {
	c, closeFn := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Etcd-Index", "42")
		w.Write([]byte(`{"node":{"key":"/resource","dir":true}}`))
	})
	defer closeFn()

	idx, err := c.Index("resource")
	require.NoError(t, err)
	assert.EqualValues(t, 42, idx)
}

func TestWatchOnceDecodesEventIndexGone(t *testing.T) {
	c, closeFn := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		w.Write([]byte(`{"errorCode":401,"message":"event index is outdated and cleared","index":9000}`))
	})
	defer closeFn()

	resp, err := c.WatchOnce(context.Background(), "resource", 10, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ErrorCodeEventIndexGone, resp.ErrorCode)
}

func TestWatchOnceReturnsDeadlineExceededOnTimeout(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	c, closeFn := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
	})
	defer closeFn()

	_, err := c.WatchOnce(context.Background(), "resource", 10, 10*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestWatchOnceReturnsCanceledOnParentCancellation(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	c, closeFn := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
	})
	defer closeFn()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.WatchOnce(ctx, "resource", 10, time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}
