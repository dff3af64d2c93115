package liveness

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ahmetk3436/tidewatch/internal/models"
	"github.com/ahmetk3436/tidewatch/pkg/logger"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer serves devices on /device?id= and dashboards on /dashboard?user=.
func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/device", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.ServeDevice(context.Background(), r.URL.Query().Get("id"), conn)
	})
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.ServeDashboard(r.URL.Query().Get("user"), conn)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitDevices(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(hub.ConnectedDevices()) == n }, 2*time.Second, 5*time.Millisecond)
}

// answer replies to every presence query until the connection closes.
func answer(conn *websocket.Conn) {
	go func() {
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == TypePresenceQuery {
				conn.WriteJSON(Message{Type: TypePresenceResponse, RoundID: msg.RoundID})
			}
		}
	}()
}

func collect(ch <-chan string, n int, timeout time.Duration) []string {
	var out []string
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case id := <-ch:
			out = append(out, id)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestHub_BroadcastAndCollect(t *testing.T) {
	hub := NewHub(logger.Nop(), HubOptions{Concurrency: 2})
	srv := newTestServer(t, hub)

	answer(dial(t, srv, "/device?id=dev-1"))
	answer(dial(t, srv, "/device?id=dev-2"))
	dial(t, srv, "/device?id=dev-silent")
	waitDevices(t, hub, 3)

	responses, closeRound := hub.OpenRound("round-1")
	defer closeRound()

	reached, err := hub.BroadcastQuery(context.Background(), "round-1")
	require.NoError(t, err)
	assert.Equal(t, 3, reached)

	got := collect(responses, 3, 300*time.Millisecond)
	assert.ElementsMatch(t, []string{"dev-1", "dev-2"}, got)
}

func TestHub_ResponsesForOtherRoundsAreIgnored(t *testing.T) {
	hub := NewHub(logger.Nop(), HubOptions{})
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "/device?id=dev-1")
	waitDevices(t, hub, 1)

	responses, closeRound := hub.OpenRound("current")
	defer closeRound()
	require.NoError(t, conn.WriteJSON(Message{Type: TypePresenceResponse, RoundID: "stale"}))
	require.NoError(t, conn.WriteJSON(Message{Type: TypePresenceResponse, RoundID: "current"}))

	got := collect(responses, 2, 200*time.Millisecond)
	assert.Equal(t, []string{"dev-1"}, got)
}

func TestHub_NoDevices(t *testing.T) {
	hub := NewHub(logger.Nop(), HubOptions{})
	reached, err := hub.BroadcastQuery(context.Background(), "r")
	require.NoError(t, err)
	assert.Equal(t, 0, reached)
}

func TestHub_ReconnectReplacesSession(t *testing.T) {
	hub := NewHub(logger.Nop(), HubOptions{})
	srv := newTestServer(t, hub)

	dial(t, srv, "/device?id=dev-1")
	waitDevices(t, hub, 1)
	answer(dial(t, srv, "/device?id=dev-1"))
	time.Sleep(20 * time.Millisecond)
	waitDevices(t, hub, 1)

	responses, closeRound := hub.OpenRound("r")
	defer closeRound()
	reached, err := hub.BroadcastQuery(context.Background(), "r")
	require.NoError(t, err)
	assert.Equal(t, 1, reached)
	assert.Equal(t, []string{"dev-1"}, collect(responses, 1, time.Second))
}

func TestHub_DisconnectRemovesDevice(t *testing.T) {
	hub := NewHub(logger.Nop(), HubOptions{})
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "/device?id=dev-1")
	waitDevices(t, hub, 1)
	conn.Close()
	waitDevices(t, hub, 0)
}

func TestHub_ReadingsReachHandler(t *testing.T) {
	var (
		mu  sync.Mutex
		got []models.SensorReading
	)
	hub := NewHub(logger.Nop(), HubOptions{OnReading: func(_ context.Context, r models.SensorReading) error {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
		return nil
	}})
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "/device?id=dev-7")
	waitDevices(t, hub, 1)

	v := 7.4
	at := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, conn.WriteJSON(Message{Type: TypeReading, Parameter: "ph", Value: &v, Timestamp: &at}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "dev-7", got[0].DeviceID)
	assert.Equal(t, models.ParameterPH, got[0].Parameter)
	assert.Equal(t, 7.4, got[0].Value)
	assert.True(t, got[0].Timestamp.Equal(at))
}

func TestHub_ReadingWithoutValueGetsError(t *testing.T) {
	hub := NewHub(logger.Nop(), HubOptions{OnReading: func(context.Context, models.SensorReading) error { return nil }})
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "/device?id=dev-1")
	waitDevices(t, hub, 1)
	require.NoError(t, conn.WriteJSON(Message{Type: TypeReading, Parameter: "ph"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, TypeError, msg.Type)
}

func TestHub_PushToUser(t *testing.T) {
	hub := NewHub(logger.Nop(), HubOptions{})
	srv := newTestServer(t, hub)

	a := dial(t, srv, "/dashboard?user=u1")
	b := dial(t, srv, "/dashboard?user=u1")
	dial(t, srv, "/dashboard?user=u2")

	require.Eventually(t, func() bool {
		return hub.PushToUser("u1", map[string]string{"type": TypeNotification, "id": "n1"}) == 2
	}, 2*time.Second, 10*time.Millisecond)

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var body map[string]string
		require.NoError(t, json.Unmarshal(data, &body))
		assert.Equal(t, TypeNotification, body["type"])
	}

	assert.Equal(t, 0, hub.PushToUser("nobody", map[string]string{}))
}
