package ws

import (
	"context"
	"encoding/json"
	"sync"

	"perfassess/internal/platform/logger"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Message is the WebSocket envelope format
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Hub manages the observer connections of every session
type Hub struct {
	log *logger.Logger

	// session -> connections
	observers map[string]map[*Connection]bool
	mu        sync.RWMutex

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *BroadcastMessage
	done       chan struct{}
}

// Connection represents a WebSocket connection
type Connection struct {
	SessionID  string
	ObserverID string
	Send       chan []byte
}

// BroadcastMessage is a message to broadcast. A nil Message disconnects the
// session's observers.
type BroadcastMessage struct {
	SessionID string
	Message   *Message
}

// NewHub creates a hub; Run must be running for it to deliver anything
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		log:        log,
		observers:  make(map[string]map[*Connection]bool),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run delivers messages until ctx is done, then closes every connection
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, conns := range h.observers {
				for conn := range conns {
					close(conn.Send)
				}
				delete(h.observers, id)
			}
			h.mu.Unlock()
			return nil

		case conn := <-h.register:
			h.mu.Lock()
			if h.observers[conn.SessionID] == nil {
				h.observers[conn.SessionID] = make(map[*Connection]bool)
			}
			h.observers[conn.SessionID][conn] = true
			h.mu.Unlock()
			h.log.Info("observer connected", "session", conn.SessionID, "observer", conn.ObserverID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.observers[conn.SessionID]; ok && conns[conn] {
				delete(conns, conn)
				close(conn.Send)
				if len(conns) == 0 {
					delete(h.observers, conn.SessionID)
				}
				h.log.Info("observer disconnected", "session", conn.SessionID, "observer", conn.ObserverID)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			if msg.Message == nil {
				h.disconnect(msg.SessionID)
				continue
			}
			data, err := json.Marshal(msg.Message)
			if err != nil {
				h.log.Error("unencodable observer message", "session", msg.SessionID, "type", msg.Message.Type, "error", err)
				continue
			}
			h.mu.RLock()
			for conn := range h.observers[msg.SessionID] {
				select {
				case conn.Send <- data:
				default:
					// Drop message if buffer full
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) disconnect(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.observers[sessionID] {
		close(conn.Send)
	}
	delete(h.observers, sessionID)
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		close(conn.Send)
	}
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Observers counts the connections of a session
func (h *Hub) Observers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers[sessionID])
}

// BroadcastToObservers sends a message to every observer of a session
// (implements service.Broadcaster)
func (h *Hub) BroadcastToObservers(sessionID string, msgType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("unencodable observer message", "type", msgType, "error", err)
		return
	}
	h.send(&BroadcastMessage{
		SessionID: sessionID,
		Message: &Message{
			Type:    MessageType(msgType),
			Payload: data,
		},
	})
}

// DisconnectSession closes every observer connection of a session after the
// messages already queued for it (implements service.Broadcaster)
func (h *Hub) DisconnectSession(sessionID string) {
	h.send(&BroadcastMessage{SessionID: sessionID})
}

func (h *Hub) send(msg *BroadcastMessage) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}
