package ws

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu  sync.RWMutex
	ids map[string]bool
}

// subscribeMsg narrows (or widens) the client's feed:
//
//	{"action":"subscribe","request_ids":["0x.."]}
//	{"action":"unsubscribe","request_ids":["0x.."]}
//	{"action":"all"}
type subscribeMsg struct {
	Action     string   `json:"action"`
	RequestIDs []string `json:"request_ids"`
}

// wants reports whether the client receives events for id. A client with no
// filter receives everything.
func (c *client) wants(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids) == 0 || c.ids[strings.ToLower(id)]
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, id := range msg.RequestIDs {
			c.ids[strings.ToLower(id)] = true
		}
	case "unsubscribe":
		for _, id := range msg.RequestIDs {
			delete(c.ids, strings.ToLower(id))
		}
	case "all":
		clear(c.ids)
	}
}

// queue buffers msg without blocking; it is used before the pumps start.
func (c *client) queue(msg []byte) {
	if msg == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(data, &msg) == nil && msg.Action != "" {
			c.apply(msg)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
