package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func serve(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.URL.Query().Get("user"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, hub *Hub, user string) *websocket.Conn {
	t.Helper()
	before := hub.Connections(user)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return hub.Connections(user) == before+1 }, time.Second, 10*time.Millisecond)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m Message
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestHubDeliversToUser(t *testing.T) {
	hub := NewHub(zap.NewNop())
	srv := serve(t, hub)
	alice1 := dial(t, srv, hub, "alice")
	alice2 := dial(t, srv, hub, "alice")
	bob := dial(t, srv, hub, "bob")

	hub.Notify("alice", "escrow.updated", map[string]string{"id": "e1"})

	for _, c := range []*websocket.Conn{alice1, alice2} {
		m := read(t, c)
		assert.Equal(t, "escrow.updated", m.Event)
		assert.Equal(t, map[string]any{"id": "e1"}, m.Data)
	}

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err)
}

func TestHubForgetsClosedSockets(t *testing.T) {
	hub := NewHub(zap.NewNop())
	srv := serve(t, hub)
	conn := dial(t, srv, hub, "carol")

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Connections("carol") == 0 }, 2*time.Second, 10*time.Millisecond)
	hub.Notify("carol", "transaction.created", nil)
}

func TestHubClose(t *testing.T) {
	hub := NewHub(zap.NewNop())
	srv := serve(t, hub)
	conn := dial(t, srv, hub, "dave")

	hub.Close()
	assert.Zero(t, hub.Connections("dave"))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestEncode(t *testing.T) {
	raw, err := Encode("pool.updated", map[string]int{"members": 3})
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "pool.updated", m["event"])
	assert.Contains(t, m, "at")
}

// TestBridgeRelaysThroughRedis needs a live server, e.g.
// TEST_REDIS_URL=redis://localhost:6379/0.
func TestBridgeRelaysThroughRedis(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := Dial(ctx, url)
	require.NoError(t, err)
	defer rdb.Close()

	hub := NewHub(zap.NewNop())
	bridge := NewBridge(rdb, hub, zap.NewNop())
	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx) }()

	srv := serve(t, hub)
	conn := dial(t, srv, hub, "erin")

	// The subscription may not be live yet; publish until it is.
	got := make(chan Message, 1)
	go func() {
		var m Message
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&m); err == nil {
			got <- m
		}
	}()
	var m Message
	require.Eventually(t, func() bool {
		bridge.Notify("erin", "transaction.created", "tx")
		select {
		case m = <-got:
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, "transaction.created", m.Event)

	cancel()
	assert.NoError(t, <-done)
}
