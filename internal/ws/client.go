package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origins are enforced by CORS and tokens by middleware
	},
}

// Client represents a single WebSocket connection
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	room    string
	send    chan []byte
	logger  *zap.Logger
	onClose func()
	once    sync.Once
}

// Session describes one connection: the room it joins, the events queued
// before any broadcast reaches it, and a hook run once it disconnects.
type Session struct {
	Room    string
	Initial []Event
	OnClose func()
}

func (c *Client) Room() string { return c.room }

func (c *Client) close() {
	c.once.Do(func() {
		if c.onClose != nil {
			c.onClose()
		}
	})
}

// ReadPump pumps messages from the WebSocket connection to the hub.
// Clients don't send messages; the loop only detects disconnects.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", zap.String("room", c.room), zap.Error(err))
			}
			break
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One frame per event; snapshots are too large to batch.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS upgrades the request and registers the connection with hub. The
// caller authenticates the request beforehand. On failure the session's
// OnClose still runs and nil is returned.
func ServeWS(hub *Hub, logger *zap.Logger, w http.ResponseWriter, r *http.Request, s Session) *Client {
	client := &Client{
		hub:     hub,
		room:    s.Room,
		send:    make(chan []byte, sendBuffer),
		logger:  logger,
		onClose: s.OnClose,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		client.close()
		return nil
	}
	client.conn = conn

	for _, ev := range s.Initial {
		if msg, err := encode(ev); err == nil {
			client.send <- msg
		}
	}

	if !hub.addClient(client) {
		conn.Close()
		client.close()
		return nil
	}

	go client.WritePump()
	go client.ReadPump()
	return client
}
