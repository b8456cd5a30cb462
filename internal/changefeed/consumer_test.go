package changefeed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbc/nmos-discovery-registration-ri/internal/substrate"
)

func TestBackoffDelaySchedule(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{1, 0}, {2, 1 * time.Second}, {3, 3 * time.Second}, {4, 10 * time.Second}, {99, 10 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, backoffDelay(tc.failures))
	}
}

func TestSleepWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleepWithContext(ctx, time.Second))
}

func TestDecodeValueNilNode(t *testing.T) {
	out, err := DecodeValue(nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestDecodeValueParsesBody(t *testing.T) {
	out, err := DecodeValue(&substrate.Node{Value: `{"id":"a"}`})
	require.NoError(t, err)
	assert.Equal(t, "a", out["id"])
}

func TestRunEmitsEventOnModification(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			fmt.Fprint(w, `{"action":"set","node":{"key":"/resource/nodes/n1","value":"{}","modifiedIndex":7}}`)
			return
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := substrate.NewClient(srv.URL, 5*time.Second)
	c := New(client, "resource", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case ev := <-c.Events():
		assert.Equal(t, "set", ev.Action)
		assert.EqualValues(t, 7, ev.Node.ModifiedIndex)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the change event")
	}
}

func TestRunEmitsIndexSkipOnHistoryGap(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusGone)
			fmt.Fprint(w, `{"errorCode":401,"message":"event index is outdated and cleared"}`)
			return
		}
		if r.URL.Query().Get("wait") != "true" {
			fmt.Fprint(w, `{"node":{"key":"/resource","dir":true}}`)
			return
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := substrate.NewClient(srv.URL, 5*time.Second)
	c := New(client, "resource", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case ev := <-c.Events():
		assert.True(t, ev.IsIndexSkip(), "expected an index_skip sentinel, got %+v", ev)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the index_skip event")
	}
}

func TestRunSurvivesRepeatedLongPollTimeoutsWithoutDisconnecting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("wait") != "true" {
			fmt.Fprint(w, `{"node":{"key":"/resource","dir":true}}`)
			return
		}
		<-r.Context().Done() // every long poll times out client-side; never responds
	}))
	defer srv.Close()

	var mu sync.Mutex
	disconnected := false
	client := substrate.NewClient(srv.URL, 5*time.Second)
	c := New(client, "resource", func() {
		mu.Lock()
		disconnected = true
		mu.Unlock()
	}, nil)
	c.pollTimeout = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	// Let several long-poll rounds elapse: ordinary quiet periods must
	// never accumulate into a forced disconnect.
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, disconnected, "repeated no-event timeouts must not trigger disconnectAll")
}

func TestRunDisconnectsAllAfterSustainedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // closed immediately: every dial now fails fast.

	var mu sync.Mutex
	disconnected := false
	client := substrate.NewClient(srv.URL, 200*time.Millisecond)
	c := New(client, "resource", func() {
		mu.Lock()
		disconnected = true
		mu.Unlock()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		d := disconnected
		mu.Unlock()
		if d {
			return
		}
		select {
		case <-deadline:
			t.Fatal("disconnectAll was never invoked after sustained transport failure")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
