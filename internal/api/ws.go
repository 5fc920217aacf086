package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const socketWriteTimeout = 10 * time.Second

// wsMessage is a client frame on the chat socket.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// wsReply is a server frame on the chat socket.
type wsReply struct {
	Type   string      `json:"type"`
	Turn   interface{} `json:"turn,omitempty"`
	Error  string      `json:"error,omitempty"`
	Status int         `json:"status,omitempty"`
}

// SocketRegistry tracks the live chat socket of each session. A newer
// connection for the same session replaces the older one.
type SocketRegistry struct {
	mu     sync.Mutex
	active map[int64]*websocket.Conn
}

// NewSocketRegistry creates an empty registry.
func NewSocketRegistry() *SocketRegistry {
	return &SocketRegistry{active: make(map[int64]*websocket.Conn)}
}

// Register adds conn as the live socket of sessionID.
func (m *SocketRegistry) Register(sessionID int64, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[sessionID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	m.active[sessionID] = conn
	slog.Info("Chat socket registered", "session_id", sessionID)
}

// Unregister removes conn if it is still the live socket of sessionID.
func (m *SocketRegistry) Unregister(sessionID int64, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[sessionID]; ok && current == conn {
		delete(m.active, sessionID)
		slog.Info("Chat socket unregistered", "session_id", sessionID)
	}
}

// CloseSession closes the live socket of sessionID, if any.
func (m *SocketRegistry) CloseSession(sessionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conn, ok := m.active[sessionID]; ok {
		_ = conn.Close(websocket.StatusNormalClosure, "session ended")
		delete(m.active, sessionID)
		slog.Info("Chat socket closed", "session_id", sessionID)
	}
}

// Len returns the number of live sockets.
func (m *SocketRegistry) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// ServeChatSocket upgrades to a websocket and runs chat turns for one session.
func (h *ChatHandler) ServeChatSocket(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.svc.SessionStatus(r.Context(), sessionID); err != nil {
		WriteError(w, r, err)
		return
	}
	slog.Info("Chat socket request", "session_id", sessionID, "ip", r.RemoteAddr)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "bye"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.sockets.Register(sessionID, ws)
	defer h.sockets.Unregister(sessionID, ws)

	h.readLoop(r.Context(), ws, sessionID)
}

func (h *ChatHandler) readLoop(ctx context.Context, ws *websocket.Conn, sessionID int64) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.writeFrame(ctx, ws, wsReply{Type: "error", Error: "invalid message", Status: http.StatusBadRequest})
			continue
		}

		switch msg.Type {
		case "ping":
			h.writeFrame(ctx, ws, wsReply{Type: "pong"})
		case "message", "":
			h.handleSocketMessage(ctx, ws, sessionID, msg.Content)
		default:
			h.writeFrame(ctx, ws, wsReply{Type: "error", Error: "unknown message type", Status: http.StatusBadRequest})
		}
	}
}

func (h *ChatHandler) handleSocketMessage(ctx context.Context, ws *websocket.Conn, sessionID int64, content string) {
	if h.limiter != nil && !h.limiter.Allow(sessionKey(sessionID)) {
		h.writeFrame(ctx, ws, wsReply{Type: "error", Error: "rate limit exceeded", Status: http.StatusTooManyRequests})
		return
	}

	slog.Info("Chat socket message",
		"session_id", sessionID,
		"message_length", len(content),
	)
	turn, err := h.svc.SubmitUserMessage(ctx, sessionID, content)
	if err != nil {
		status := StatusFor(err)
		message := err.Error()
		if status == http.StatusInternalServerError {
			slog.Error("Chat socket turn failed", "session_id", sessionID, "error", err)
			message = "internal server error"
		}
		h.writeFrame(ctx, ws, wsReply{Type: "error", Error: message, Status: status})
		return
	}
	h.writeFrame(ctx, ws, wsReply{Type: "reply", Turn: turn})
}

func (h *ChatHandler) writeFrame(ctx context.Context, ws *websocket.Conn, v wsReply) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to encode socket frame", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, socketWriteTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("Failed to write socket frame", "error", err, "type", v.Type)
	}
}
