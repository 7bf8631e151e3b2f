package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"perfassess/internal/model"
	"perfassess/internal/platform/logger"
	"perfassess/internal/service"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // tokens gate access, not origins
	},
}

// SnapshotSource provides the current snapshot for observers joining late
type SnapshotSource interface {
	Snapshot(ctx context.Context, id string) (*model.PerformanceAssessment, error)
}

// Handler handles WebSocket connections
type Handler struct {
	hub       *Hub
	authSvc   *service.AuthService
	snapshots SnapshotSource
	log       *logger.Logger
}

// NewHandler creates a new WebSocket handler; snapshots may be nil
func NewHandler(hub *Hub, authSvc *service.AuthService, snapshots SnapshotSource, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{
		hub:       hub,
		authSvc:   authSvc,
		snapshots: snapshots,
		log:       log,
	}
}

// ObserverWS handles GET /v1/ws/sessions/{id}/observer
func (h *Handler) ObserverWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	token := r.URL.Query().Get("token")

	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.authSvc.ValidateObserverToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := &Connection{
		SessionID:  id,
		ObserverID: claims.ObserverID,
		Send:       make(chan []byte, 256),
	}
	h.sendCurrent(r.Context(), conn)
	h.hub.Register(conn)

	go h.writePump(wsConn, conn)
	go h.readPump(wsConn, conn)
}

// sendCurrent queues the session's latest snapshot so a new observer does
// not wait for the next change
func (h *Handler) sendCurrent(ctx context.Context, conn *Connection) {
	if h.snapshots == nil {
		return
	}
	snap, err := h.snapshots.Snapshot(ctx, conn.SessionID)
	if err != nil || snap == nil {
		return
	}
	payload, err := json.Marshal(service.SnapshotMessage{Snapshot: snap})
	if err != nil {
		return
	}
	data, err := json.Marshal(&Message{Type: service.MsgSnapshot, Payload: payload})
	if err != nil {
		return
	}
	conn.Send <- data
}

func (h *Handler) readPump(wsConn *websocket.Conn, conn *Connection) {
	defer func() {
		h.hub.Unregister(conn)
		wsConn.Close()
	}()

	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// observers only listen
		if _, _, err := wsConn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read failed", "session", conn.SessionID, "error", err)
			}
			return
		}
	}
}

func (h *Handler) writePump(wsConn *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := wsConn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
