package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/easelhq/easel"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The upgrade accepts any origin. The CORS middleware only sets
	// response headers for allowed origins; it rejects no request.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConn serializes writes to one WebSocket client.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// handleChatWS upgrades to WebSocket and bridges the event bus to the
// client: every bus event forwards as an "event" frame, chat requests
// run the agent loop, cancel requests flag the session.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := &wsConn{conn: conn}
	s.logger.Info("websocket client connected")

	unsubscribe := s.bus.SubscribeAll(func(event easel.Event) {
		_ = client.send(map[string]any{
			"type":       "event",
			"event_type": string(event.Type),
			"data":       event.Data,
			"session_id": event.SessionID,
			"timestamp":  event.Timestamp,
		})
	})
	defer func() {
		unsubscribe()
		conn.Close()
		s.logger.Info("websocket client disconnected")
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame struct {
			Type      string `json:"type"`
			SessionID string `json:"session_id"`
			Message   string `json:"message"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			_ = client.send(map[string]any{"type": "error", "error": "Invalid JSON"})
			continue
		}

		switch frame.Type {
		case "ping":
			_ = client.send(map[string]any{"type": "pong"})
		case "cancel":
			s.loop.Cancel(frame.SessionID)
			_ = client.send(map[string]any{"type": "cancelled", "session_id": frame.SessionID})
		case "chat":
			s.handleWSChat(client, frame.SessionID, frame.Message)
		default:
			_ = client.send(map[string]any{"type": "error", "error": "Unknown message type: " + frame.Type})
		}
	}
}

func (s *Server) handleWSChat(client *wsConn, sessionID, message string) {
	if strings.TrimSpace(message) == "" {
		_ = client.send(map[string]any{"type": "error", "error": "message is required"})
		return
	}

	ctx := context.Background()
	if sessionID == "" {
		id, err := s.store.CreateSession(ctx, "WS Session")
		if err != nil {
			_ = client.send(map[string]any{"type": "error", "error": err.Error()})
			return
		}
		sessionID = id
		_ = client.send(map[string]any{"type": "session_created", "session_id": sessionID})
	}

	// Run the turn without blocking the read loop so a cancel frame
	// can arrive while the agent is working.
	go func() {
		response, err := s.loop.Run(ctx, sessionID, message)
		if err != nil {
			_ = client.send(map[string]any{
				"type":       "error",
				"session_id": sessionID,
				"error":      err.Error(),
			})
			return
		}
		_ = client.send(map[string]any{
			"type":       "response",
			"session_id": sessionID,
			"content":    response,
		})
	}()
}
