package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"chat-sync/errors"
)

var upgrader = websocket.Upgrader{}

// newServer runs handle for every websocket connection it accepts and
// returns a manager pointed at it.
func newServer(t *testing.T, handle func(conn *websocket.Conn, token string)) *Manager {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handle(conn, token)
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	return NewManager(Options{
		URL:               wsURL,
		ReconnectAttempts: 3,
		ReconnectDelay:    20 * time.Millisecond,
	}, slog.Default())
}

func waitStatus(t *testing.T, watch <-chan Status, want Status) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case status := <-watch:
			if status == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %q", want)
		}
	}
}

func TestConnect_AttachesCredentialAndDeliversPushes(t *testing.T) {
	req := require.New(t)
	var gotToken atomic.Value
	m := newServer(t, func(conn *websocket.Conn, token string) {
		gotToken.Store(token)
		_ = conn.WriteJSON(frame{Event: "new-message", Payload: json.RawMessage(`{"id":1}`)})
		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	watch := m.Watch()
	m.Connect("tok-abc")
	defer m.Disconnect()
	waitStatus(t, watch, StatusConnected)

	select {
	case push := <-m.Pushes():
		req.Equal("new-message", push.Event)
		req.JSONEq(`{"id":1}`, string(push.Payload))
	case <-time.After(3 * time.Second):
		req.Fail("no push received")
	}
	req.Equal("tok-abc", gotToken.Load())
}

func TestSend_CorrelatesAck(t *testing.T) {
	req := require.New(t)
	m := newServer(t, func(conn *websocket.Conn, _ string) {
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			_ = conn.WriteJSON(frame{ID: f.ID, Status: "ok", Data: json.RawMessage(`{"id":3}`)})
		}
	})

	watch := m.Watch()
	m.Connect("tok")
	defer m.Disconnect()
	waitStatus(t, watch, StatusConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ack, err := m.Send(ctx, "new-channel", map[string]string{"name": "music"})
	req.NoError(err)
	req.True(ack.OK())
	req.JSONEq(`{"id":3}`, string(ack.Data))
}

func TestSend_WhenDisconnectedIsTransportError(t *testing.T) {
	req := require.New(t)
	m := NewManager(Options{URL: "ws://127.0.0.1:1/ws"}, slog.Default())
	_, err := m.Send(context.Background(), "send-message", nil)
	req.ErrorIs(err, errors.ErrTransport)
}

func TestSend_AckTimeout(t *testing.T) {
	req := require.New(t)
	m := newServer(t, func(conn *websocket.Conn, _ string) {
		// Swallow commands, never ack.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	watch := m.Watch()
	m.Connect("tok")
	defer m.Disconnect()
	waitStatus(t, watch, StatusConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := m.Send(ctx, "new-channel", map[string]string{"name": "music"})
	req.ErrorIs(err, errors.ErrTransport)
}

func TestServerClose_TriggersImmediateReconnect(t *testing.T) {
	var connections atomic.Int32
	m := newServer(t, func(conn *websocket.Conn, _ string) {
		n := connections.Add(1)
		if n == 1 {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "restarting"))
			_ = conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	watch := m.Watch()
	m.Connect("tok")
	defer m.Disconnect()
	waitStatus(t, watch, StatusConnected)
	// First connection is killed by the server; the manager must come
	// back on its own.
	waitStatus(t, watch, StatusConnecting)
	waitStatus(t, watch, StatusConnected)
	require.GreaterOrEqual(t, connections.Load(), int32(2))
}

func TestDisconnect_SuppressesReconnect(t *testing.T) {
	req := require.New(t)
	var connections atomic.Int32
	m := newServer(t, func(conn *websocket.Conn, _ string) {
		connections.Add(1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	watch := m.Watch()
	m.Connect("tok")
	waitStatus(t, watch, StatusConnected)

	m.Disconnect()
	waitStatus(t, watch, StatusDisconnected)

	time.Sleep(100 * time.Millisecond)
	req.Equal(int32(1), connections.Load())
	req.Equal(StatusDisconnected, m.Status())
}

func TestConnect_IsIdempotentWhileLive(t *testing.T) {
	req := require.New(t)
	var connections atomic.Int32
	m := newServer(t, func(conn *websocket.Conn, _ string) {
		connections.Add(1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	watch := m.Watch()
	m.Connect("tok")
	defer m.Disconnect()
	waitStatus(t, watch, StatusConnected)

	m.Connect("tok")
	m.Connect("tok")
	time.Sleep(100 * time.Millisecond)
	req.Equal(int32(1), connections.Load())
}

func TestConnect_NewCredentialReplacesConnection(t *testing.T) {
	req := require.New(t)
	conns := make(chan *websocket.Conn, 2)
	tokens := make(chan string, 2)
	m := newServer(t, func(conn *websocket.Conn, token string) {
		tokens <- token
		conns <- conn
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	watch := m.Watch()
	m.Connect("token-one")
	defer m.Disconnect()
	waitStatus(t, watch, StatusConnected)
	first := <-conns
	req.Equal("token-one", <-tokens)

	m.Connect("token-two")
	waitStatus(t, watch, StatusConnected)
	second := <-conns
	req.Equal("token-two", <-tokens)

	// The first socket was released on the credential change; a frame
	// written on it must never surface on the shared push stream.
	_ = first.WriteJSON(frame{Event: "new-message", Payload: json.RawMessage(`{"id":777}`)})
	_ = second.WriteJSON(frame{Event: "new-message", Payload: json.RawMessage(`{"id":888}`)})

	select {
	case push := <-m.Pushes():
		req.JSONEq(`{"id":888}`, string(push.Payload), "stale connection leaked a push")
	case <-time.After(3 * time.Second):
		req.Fail("no push from the replacement connection")
	}
	select {
	case push := <-m.Pushes():
		req.Failf("stale connection still delivering", "payload %s", push.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}
