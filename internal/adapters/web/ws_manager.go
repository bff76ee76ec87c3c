package web

import (
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/MaxwellDPS/flocksense/internal/core/domain"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// allowedOrigins are accepted besides same-origin requests.
var allowedOrigins = []string{
	"http://localhost:8080",
	"http://127.0.0.1:8080",
	"http://[::1]:8080",
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
		return true
	}
	for _, allowed := range allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// WSMessage is the envelope pushed to clients.
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// TransitionPayload carries a threat-level change.
type TransitionPayload struct {
	Detection domain.Detection   `json:"detection"`
	Previous  domain.ThreatLevel `json:"previous"`
}

// WSManager tracks connected clients and broadcasts transitions.
type WSManager struct {
	log     *slog.Logger
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewWSManager creates an empty manager.
func NewWSManager(log *slog.Logger) *WSManager {
	if log == nil {
		log = slog.Default()
	}
	return &WSManager{
		log:     log,
		clients: make(map[*websocket.Conn]bool),
	}
}

// HandleWebSocket upgrades the connection and registers the client.
func (m *WSManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warn("websocket upgrade", "error", err)
		return
	}

	m.mu.Lock()
	m.clients[conn] = true
	m.mu.Unlock()

	// Clients never send application messages; the read loop exists to
	// notice disconnects.
	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.clients, conn)
			m.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// BroadcastTransition pushes a level change to every client. Write
// failures drop the client; the read loop handles cleanup.
func (m *WSManager) BroadcastTransition(d domain.Detection, previous domain.ThreatLevel) {
	msg := WSMessage{
		Type:    "level_transition",
		Payload: TransitionPayload{Detection: d, Previous: previous},
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.clients {
		if err := conn.WriteJSON(msg); err != nil {
			m.log.Debug("websocket write", "error", err)
			conn.Close()
			delete(m.clients, conn)
		}
	}
}
