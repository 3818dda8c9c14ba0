package statusfeed

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e Event
	require.NoError(t, conn.ReadJSON(&e))
	return e
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(nil)
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	a := dial(t, server)
	b := dial(t, server)
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, time.Millisecond)

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hub.Publish(Event{Mode: "connected", Previous: "connecting", At: at})

	for _, conn := range []*websocket.Conn{a, b} {
		e := readEvent(t, conn)
		require.Equal(t, "connected", e.Mode)
		require.Equal(t, "connecting", e.Previous)
		require.True(t, at.Equal(e.At))
	}
}

func TestHub_LateJoinerGetsLatest(t *testing.T) {
	hub := NewHub(nil)
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	hub.Publish(Event{Mode: "connecting", Previous: "disconnected", At: time.Now()})
	hub.Publish(Event{Mode: "connected", Previous: "connecting", At: time.Now()})

	conn := dial(t, server)
	require.Equal(t, "connected", readEvent(t, conn).Mode)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, time.Millisecond)
	hub.Publish(Event{Mode: "validating", Previous: "connected", At: time.Now()})
	require.Equal(t, "validating", readEvent(t, conn).Mode)
}

func TestHub_ClientLeaves(t *testing.T) {
	hub := NewHub(nil)
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, time.Millisecond)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub := NewHub(nil)
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, time.Millisecond)

	hub.Close()
	require.Zero(t, hub.Clients())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))

	late, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	require.NoError(t, err)
	defer late.Close()
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = late.ReadMessage()
	require.Error(t, err, "a closed hub refuses new clients")
}
