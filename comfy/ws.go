package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/easelhq/easel"
)

// wsEventTypes maps backend frame types to bus event types. Frames with
// other types are ignored.
var wsEventTypes = map[string]easel.EventType{
	"status":          easel.EventBackendStatus,
	"executing":       easel.EventBackendExecuting,
	"progress":        easel.EventBackendProgress,
	"executed":        easel.EventBackendExecuted,
	"execution_error": easel.EventBackendExecutionError,
}

// wsListener owns one WebSocket connection to the backend and relays
// its execution frames onto the event bus as backend.* events.
type wsListener struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// ConnectWS opens the WebSocket connection and starts the relay
// goroutine. No-op if already connected.
func (c *Client) ConnectWS(ctx context.Context) error {
	if c.ws != nil {
		return nil
	}
	wsURL := fmt.Sprintf("%s?clientId=%s", c.wsURL, c.clientID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}

	lctx, lcancel := context.WithCancel(context.Background())
	l := &wsListener{conn: conn, cancel: lcancel, done: make(chan struct{})}
	c.ws = l
	go c.listen(lctx, l)
	c.logger.Info("websocket connected", "url", wsURL)
	return nil
}

// DisconnectWS closes the WebSocket connection and stops the relay.
func (c *Client) DisconnectWS() error {
	l := c.ws
	if l == nil {
		return nil
	}
	c.ws = nil
	var err error
	l.once.Do(func() {
		l.cancel()
		err = l.conn.Close()
		<-l.done
	})
	return err
}

func (c *Client) listen(ctx context.Context, l *wsListener) {
	defer close(l.done)
	for {
		_, raw, err := l.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		var frame struct {
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue // binary preview frames and malformed payloads
		}
		eventType, ok := wsEventTypes[frame.Type]
		if !ok {
			continue
		}
		if c.bus != nil {
			c.bus.Emit(easel.NewEvent(eventType, "", frame.Data))
		}
	}
}
