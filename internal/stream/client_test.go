package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/stratwatch/internal/schema"
)

type recordingSink struct {
	mu           sync.Mutex
	updates      []schema.LiveUpdate
	connectivity []schema.Connectivity
}

func (r *recordingSink) ApplyLiveUpdate(update schema.LiveUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

func (r *recordingSink) ApplyConnectivity(signal schema.Connectivity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectivity = append(r.connectivity, signal)
}

func (r *recordingSink) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *recordingSink) signals() []schema.Connectivity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schema.Connectivity(nil), r.connectivity...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func testOptions(url string) Options {
	return Options{
		StreamURL:         url,
		HandshakeTimeout:  time.Second,
		HeartbeatTimeout:  500 * time.Millisecond,
		ReconnectMinDelay: 10 * time.Millisecond,
		ReconnectMaxDelay: 50 * time.Millisecond,
	}
}

func TestClientDisabledWithoutSubscriptionID(t *testing.T) {
	sink := &recordingSink{}
	client := NewClient("  ", testOptions("ws://unused.test"), sink, nil)

	done := make(chan struct{})
	go func() {
		client.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected disabled client to return immediately")
	}
	require.Empty(t, sink.signals())
}

func TestClientDeliversFramesAndConnectivity(t *testing.T) {
	var gotSubscription string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotSubscription = r.URL.Query().Get("subscription")
		mu.Unlock()
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"heartbeat"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"pnl","ts":1700000000000,"payload":{"totalPnl":"12"}}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"order","ts":1700000001000,"payload":{"id":"o-1"}}`))
		<-ctx.Done()
	}))
	defer server.Close()

	sink := &recordingSink{}
	client := NewClient("sub-1", testOptions(server.URL), sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	waitFor(t, func() bool { return sink.updateCount() >= 2 })

	mu.Lock()
	require.Equal(t, "sub-1", gotSubscription)
	mu.Unlock()

	signals := sink.signals()
	require.NotEmpty(t, signals)
	require.Equal(t, schema.ConnectivityConnected, signals[0])

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotNil(t, sink.updates[0].TotalPnl)
	require.NotNil(t, sink.updates[1].Event)
	require.Equal(t, schema.EventTypeOrder, sink.updates[1].Event.Type)
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	var conns int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		conns++
		n := conns
		mu.Unlock()
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		if n == 1 {
			// Drop the first connection right away to force a reconnect.
			_ = conn.Close(websocket.StatusInternalError, "going away")
			return
		}
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"type":"pnl","ts":1700000002000,"payload":{"todayPnl":"1"}}`))
		<-r.Context().Done()
	}))
	defer server.Close()

	sink := &recordingSink{}
	client := NewClient("sub-1", testOptions(server.URL), sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	waitFor(t, func() bool { return sink.updateCount() >= 1 })

	signals := sink.signals()
	// connected, disconnected (drop), connected (re-handshake).
	require.GreaterOrEqual(t, len(signals), 3)
	require.Equal(t, schema.ConnectivityConnected, signals[0])
	require.Equal(t, schema.ConnectivityDisconnected, signals[1])
	require.Equal(t, schema.ConnectivityConnected, signals[2])

	mu.Lock()
	require.GreaterOrEqual(t, conns, 2)
	mu.Unlock()
}

func TestClientDropsMalformedFramesWithoutClosing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"status","ts":1700000003000,"payload":{"status":"paused"}}`))
		<-ctx.Done()
	}))
	defer server.Close()

	sink := &recordingSink{}
	client := NewClient("sub-1", testOptions(server.URL), sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	waitFor(t, func() bool { return sink.updateCount() >= 1 })
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotNil(t, sink.updates[0].Status)
	require.Equal(t, schema.StatusPaused, *sink.updates[0].Status)
}

func TestClientMarksDisconnectedOnMissedHeartbeat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		// Send nothing: the client heartbeat watchdog must expire.
		_ = conn
		<-r.Context().Done()
	}))
	defer server.Close()

	sink := &recordingSink{}
	opts := testOptions(server.URL)
	opts.HeartbeatTimeout = 100 * time.Millisecond
	client := NewClient("sub-1", opts, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	waitFor(t, func() bool {
		for _, s := range sink.signals() {
			if s == schema.ConnectivityDisconnected {
				return true
			}
		}
		return false
	})
}
