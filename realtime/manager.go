// Package realtime owns the single persistent connection to the chat
// server. Exactly one connection exists per session; only the manager
// opens and closes it. Inbound pushes are delivered in arrival order
// on one stream that survives reconnects, so downstream consumers
// subscribe exactly once.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chat-sync/errors"
)

// Status is the connection state observable by the UI and by the
// dispatcher's routing decision.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	readLimit    = 1 << 20
	pushBuffer   = 64
)

// Push is a transport-shaped inbound event. Decoding into domain
// events belongs to the reconciler.
type Push struct {
	Event   string
	Payload json.RawMessage
}

// Ack is the bounded-wait confirmation of one outbound command. Code
// distinguishes server-side transport trouble ("unavailable", worth a
// fallback) from a validation rejection (anything else).
type Ack struct {
	Status string          `json:"status"`
	Code   string          `json:"code,omitempty"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

const CodeUnavailable = "unavailable"

func (a Ack) OK() bool { return a.Status == "ok" }

// Retryable reports whether a failed ack should be retried over the
// fallback transport instead of being surfaced to the user.
func (a Ack) Retryable() bool { return a.Code == CodeUnavailable }

// frame is the wire shape in both directions. Outbound commands carry
// id+event+payload; acks echo the id with status; pushes carry only
// event+payload.
type frame struct {
	ID      string          `json:"id,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Status  string          `json:"status,omitempty"`
	Code    string          `json:"code,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type Options struct {
	// URL of the websocket endpoint, e.g. ws://host/ws.
	URL string
	// ReconnectAttempts bounds automatic retries after an unexpected
	// drop; ReconnectDelay is the fixed pause between attempts.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

type Manager struct {
	opts   Options
	dialer *websocket.Dialer
	log    *slog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	status     Status
	credential string
	generation int // bumped on Connect/Disconnect; stale goroutines exit
	pending    map[string]chan Ack
	watchers   []chan Status

	writeMu sync.Mutex
	pushes  chan Push
}

func NewManager(opts Options, log *slog.Logger) *Manager {
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = 5
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	return &Manager{
		opts:    opts,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:     log,
		status:  StatusDisconnected,
		pending: make(map[string]chan Ack),
		pushes:  make(chan Push, pushBuffer),
	}
}

// Connect attaches the credential and opens the connection. Idempotent:
// while a connection or an attempt for the same session is live it does
// nothing. A different credential replaces the live connection; the
// session never holds two sockets. Errors are logged and surfaced via
// status, never returned.
func (m *Manager) Connect(credential string) {
	m.mu.Lock()
	if m.status != StatusDisconnected && m.credential == credential {
		m.mu.Unlock()
		return
	}
	replaced := m.conn
	m.conn = nil
	m.credential = credential
	m.generation++
	m.failPendingLocked()
	m.setStatusLocked(StatusConnecting)
	go m.run(m.generation)
	m.mu.Unlock()

	m.closeConn(replaced)
}

// Disconnect tears the connection down and releases the resource.
// Safe to call when no connection exists. A drop caused by Disconnect
// never triggers a reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.generation++
	conn := m.conn
	m.conn = nil
	m.failPendingLocked()
	m.setStatusLocked(StatusDisconnected)
	m.mu.Unlock()

	m.closeConn(conn)
}

// closeConn sends a close frame and releases the socket. The pump
// reading it exits on the closed connection. No-op on nil.
func (m *Manager) closeConn(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	m.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	m.writeMu.Unlock()
	_ = conn.Close()
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) Connected() bool { return m.Status() == StatusConnected }

// Watch registers a status observer. Every transition is delivered
// best-effort; a slow observer misses intermediate states, never the
// stream itself.
func (m *Manager) Watch() <-chan Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Status, 8)
	ch <- m.status
	m.watchers = append(m.watchers, ch)
	return ch
}

// Pushes is the persistent inbound event stream. It is never closed
// and keeps its identity across reconnects.
func (m *Manager) Pushes() <-chan Push {
	return m.pushes
}

// Send emits one command frame and waits for its correlated ack. The
// wait is bounded by ctx. Callers get a transport error when the
// connection is not up or drops before the ack arrives.
func (m *Manager) Send(ctx context.Context, event string, payload any) (Ack, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Ack{}, fmt.Errorf("encoding %s: %w", event, err)
	}

	m.mu.Lock()
	if m.status != StatusConnected || m.conn == nil {
		m.mu.Unlock()
		return Ack{}, fmt.Errorf("%w: not connected", errors.ErrTransport)
	}
	conn := m.conn
	id := uuid.NewString()
	ackCh := make(chan Ack, 1)
	m.pending[id] = ackCh
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
	}()

	m.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteJSON(frame{ID: id, Event: event, Payload: raw})
	m.writeMu.Unlock()
	if err != nil {
		return Ack{}, fmt.Errorf("%w: writing %s: %v", errors.ErrTransport, event, err)
	}

	select {
	case ack, ok := <-ackCh:
		if !ok {
			return Ack{}, fmt.Errorf("%w: connection lost before ack", errors.ErrTransport)
		}
		return ack, nil
	case <-ctx.Done():
		return Ack{}, fmt.Errorf("%w: ack wait: %v", errors.ErrTransport, ctx.Err())
	}
}

// run drives one connection lifecycle: dial, pump, reconnect. It
// exits as soon as its generation goes stale (local disconnect or a
// newer Connect).
func (m *Manager) run(gen int) {
	attempts := 0
	for {
		if m.stale(gen) {
			return
		}

		conn, err := m.dial()
		if err != nil {
			m.log.Warn("Realtime dial failed", "error", err)
			attempts++
			if attempts > m.opts.ReconnectAttempts {
				m.giveUp(gen)
				return
			}
			if !m.pause(gen) {
				return
			}
			continue
		}

		if !m.adopt(gen, conn) {
			_ = conn.Close()
			return
		}
		attempts = 0

		serverClosed := m.readPump(gen, conn)
		if m.stale(gen) {
			return
		}

		m.transition(gen, StatusConnecting)
		if serverClosed {
			// The server ended the connection on purpose; try again
			// right away before falling into the delayed policy.
			m.log.Info("Server closed the connection, reconnecting")
			continue
		}
		attempts++
		if attempts > m.opts.ReconnectAttempts {
			m.giveUp(gen)
			return
		}
		if !m.pause(gen) {
			return
		}
	}
}

func (m *Manager) dial() (*websocket.Conn, error) {
	m.mu.Lock()
	credential := m.credential
	m.mu.Unlock()

	endpoint := fmt.Sprintf("%s?token=%s", m.opts.URL, url.QueryEscape(credential))
	conn, resp, err := m.dialer.Dial(endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// adopt installs a freshly dialed connection, unless the generation
// went stale while dialing.
func (m *Manager) adopt(gen int, conn *websocket.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return false
	}
	m.conn = conn
	m.setStatusLocked(StatusConnected)
	return true
}

// readPump consumes frames until the connection dies. Returns whether
// the server closed it explicitly. Pending acks are failed on exit.
func (m *Manager) readPump(gen int, conn *websocket.Conn) bool {
	stopPing := make(chan struct{})
	go m.pingLoop(conn, stopPing)
	defer close(stopPing)

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	serverClosed := false
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			serverClosed = websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway,
				websocket.CloseServiceRestart)
			m.log.Debug("Read pump ended", "error", err)
			break
		}

		var f frame
		if err := json.Unmarshal(payload, &f); err != nil {
			m.log.Warn("Dropping malformed frame", "error", err)
			continue
		}
		if f.ID != "" && f.Event == "" {
			m.deliverAck(f)
			continue
		}
		// In-order delivery: block rather than reorder or drop.
		m.pushes <- Push{Event: f.Event, Payload: f.Payload}
	}

	_ = conn.Close()
	m.mu.Lock()
	// A pump that was already replaced must not touch the state of
	// its successor.
	if m.conn == conn {
		m.conn = nil
		m.failPendingLocked()
	}
	m.mu.Unlock()
	return serverClosed
}

func (m *Manager) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			m.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (m *Manager) deliverAck(f frame) {
	m.mu.Lock()
	ackCh, ok := m.pending[f.ID]
	if ok {
		delete(m.pending, f.ID)
	}
	m.mu.Unlock()
	if ok {
		ackCh <- Ack{Status: f.Status, Code: f.Code, Error: f.Error, Data: f.Data}
	}
}

func (m *Manager) failPendingLocked() {
	for id, ackCh := range m.pending {
		close(ackCh)
		delete(m.pending, id)
	}
}

func (m *Manager) stale(gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen != m.generation
}

func (m *Manager) transition(gen int, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return
	}
	m.setStatusLocked(status)
}

func (m *Manager) giveUp(gen int) {
	m.log.Warn("Reconnect attempts exhausted")
	m.transition(gen, StatusDisconnected)
}

// pause waits the reconnect delay; false means the generation went
// stale meanwhile.
func (m *Manager) pause(gen int) bool {
	time.Sleep(m.opts.ReconnectDelay)
	return !m.stale(gen)
}

func (m *Manager) setStatusLocked(status Status) {
	if m.status == status {
		return
	}
	m.status = status
	for _, w := range m.watchers {
		select {
		case w <- status:
		default:
		}
	}
}
