package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"chat-sync/domain"
)

// frame mirrors the realtime wire protocol.
type frame struct {
	ID      string          `json:"id,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Status  string          `json:"status,omitempty"`
	Code    string          `json:"code,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// fakeServer is a minimal chat backend: token login, the REST surface
// and the websocket command/push protocol. Just enough to run the
// client end to end without a deployment.
type fakeServer struct {
	httpServer *httptest.Server
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	channels []domain.Channel
	messages []domain.Message
	nextID   int
	conns    map[*websocket.Conn]*sync.Mutex
}

func newFakeServer() *fakeServer {
	s := &fakeServer{
		channels: []domain.Channel{
			{ID: 1, Name: "general"},
			{ID: 2, Name: "random", Removable: true},
		},
		nextID: 10,
		conns:  make(map[*websocket.Conn]*sync.Mutex),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/login", s.handleLogin)
	mux.HandleFunc("/api/v1/channels", s.handleChannels)
	mux.HandleFunc("/api/v1/channels/", s.handleChannelByID)
	mux.HandleFunc("/api/v1/messages", s.handleMessages)
	mux.HandleFunc("/ws", s.handleSocket)
	s.httpServer = httptest.NewServer(mux)
	return s
}

func (s *fakeServer) URL() string { return s.httpServer.URL }

func (s *fakeServer) SocketURL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http") + "/ws"
}

func (s *fakeServer) Close() { s.httpServer.Close() }

func (s *fakeServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" {
		http.Error(w, `{"message":"bad credentials"}`, http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]string{
		"token":    "e2e-" + body.Username,
		"username": body.Username,
	})
}

func authorized(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Authorization"), "Bearer e2e-")
}

func (s *fakeServer) handleChannels(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		http.Error(w, `{"message":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		channels := append([]domain.Channel(nil), s.channels...)
		s.mu.Unlock()
		writeJSON(w, channels)
	case http.MethodPost:
		var body struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		created := s.createChannel(body.Name)
		s.broadcast("new-channel", created)
		writeJSON(w, created)
	default:
		http.Error(w, "", http.StatusMethodNotAllowed)
	}
}

func (s *fakeServer) handleChannelByID(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		http.Error(w, `{"message":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/channels/")
	id, err := strconv.Atoi(raw)
	if err != nil {
		http.Error(w, `{"message":"bad channel id"}`, http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var body struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		renamed, ok := s.renameChannel(domain.ChannelID(id), body.Name)
		if !ok {
			http.Error(w, `{"message":"unknown channel"}`, http.StatusNotFound)
			return
		}
		s.broadcast("channel-renamed", renamed)
		writeJSON(w, renamed)
	case http.MethodDelete:
		if !s.removeChannel(domain.ChannelID(id)) {
			http.Error(w, `{"message":"unknown channel"}`, http.StatusNotFound)
			return
		}
		s.broadcast("channel-removed", map[string]int{"id": id})
		writeJSON(w, map[string]int{"id": id})
	default:
		http.Error(w, "", http.StatusMethodNotAllowed)
	}
}

func (s *fakeServer) handleMessages(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		http.Error(w, `{"message":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		messages := append([]domain.Message(nil), s.messages...)
		s.mu.Unlock()
		writeJSON(w, messages)
	case http.MethodPost:
		var m domain.Message
		_ = json.NewDecoder(r.Body).Decode(&m)
		stored := s.appendMessage(m)
		s.broadcast("new-message", stored)
		writeJSON(w, stored)
	default:
		http.Error(w, "", http.StatusMethodNotAllowed)
	}
}

// handleSocket speaks the command/ack/push protocol over one
// connection until the client hangs up.
func (s *fakeServer) handleSocket(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Query().Get("token"), "e2e-") {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	writeMu := &sync.Mutex{}
	s.mu.Lock()
	s.conns[conn] = writeMu
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Event == "" {
			continue
		}
		ack := s.execute(f)
		writeMu.Lock()
		_ = conn.WriteJSON(ack)
		writeMu.Unlock()
	}
}

func (s *fakeServer) execute(f frame) frame {
	ack := frame{ID: f.ID, Status: "ok"}
	switch f.Event {
	case "send-message":
		var m domain.Message
		_ = json.Unmarshal(f.Payload, &m)
		stored := s.appendMessage(m)
		ack.Data = marshal(stored)
		s.broadcast("new-message", stored)
	case "new-channel":
		var body struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(f.Payload, &body)
		created := s.createChannel(body.Name)
		ack.Data = marshal(created)
		s.broadcast("new-channel", created)
	case "channel-renamed":
		var body struct {
			ID   domain.ChannelID `json:"id"`
			Name string           `json:"name"`
		}
		_ = json.Unmarshal(f.Payload, &body)
		renamed, ok := s.renameChannel(body.ID, body.Name)
		if !ok {
			return frame{ID: f.ID, Status: "error", Error: "unknown channel"}
		}
		ack.Data = marshal(renamed)
		s.broadcast("channel-renamed", renamed)
	case "channel-removed":
		var body struct {
			ID domain.ChannelID `json:"id"`
		}
		_ = json.Unmarshal(f.Payload, &body)
		if !s.removeChannel(body.ID) {
			return frame{ID: f.ID, Status: "error", Error: "unknown channel"}
		}
		s.broadcast("channel-removed", body)
	default:
		return frame{ID: f.ID, Status: "error", Error: "unknown event"}
	}
	return ack
}

func (s *fakeServer) createChannel(name string) domain.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	created := domain.Channel{ID: domain.ChannelID(s.nextID), Name: name, Removable: true}
	s.channels = append(s.channels, created)
	return created
}

func (s *fakeServer) renameChannel(id domain.ChannelID, name string) (domain.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.channels {
		if c.ID == id {
			s.channels[i].Name = name
			return s.channels[i], true
		}
	}
	return domain.Channel{}, false
}

func (s *fakeServer) removeChannel(id domain.ChannelID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.channels[:0]
	found := false
	for _, c := range s.channels {
		if c.ID == id {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	s.channels = kept

	remaining := s.messages[:0]
	for _, m := range s.messages {
		if m.ChannelID != id {
			remaining = append(remaining, m)
		}
	}
	s.messages = remaining
	return found
}

func (s *fakeServer) appendMessage(m domain.Message) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m.ID = s.nextID
	s.messages = append(s.messages, m)
	return m
}

// broadcast pushes an event to every live connection.
func (s *fakeServer) broadcast(event string, payload any) {
	push := frame{Event: event, Payload: marshal(payload)}

	s.mu.Lock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(s.conns))
	for conn, mu := range s.conns {
		conns[conn] = mu
	}
	s.mu.Unlock()

	for conn, mu := range conns {
		mu.Lock()
		_ = conn.WriteJSON(push)
		mu.Unlock()
	}
}

func marshal(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
