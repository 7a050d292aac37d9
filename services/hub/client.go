package hub

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// send pings to peer with this period; must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maximum message size allowed from peer; WebRTC SDP offers can be large
	maxMessageSize = 64 * 1024
)

// Client is a WebSocket connection registered in the Hub.
// room and closed are guarded by the hub mutex.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   Identity
	send chan []byte

	room   string
	closed bool
}

func newClient(h *Hub, conn *websocket.Conn, id Identity) *Client {
	return &Client{
		hub:  h,
		conn: conn,
		id:   id,
		send: make(chan []byte, sendBufSize),
	}
}

// readPump reads frames until the connection fails, then unregisters the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
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
				c.hub.logger.Debug("websocket closed", err, map[string]interface{}{"user": c.id.UserID})
			}
			return
		}

		var in Inbound
		if err = json.Unmarshal(data, &in); err != nil {
			c.hub.sendError(c, errBadFrame)
			continue
		}
		c.hub.handle(c, in)
	}
}

// writePump writes queued frames and keeps the connection alive.
// It closes the connection once the hub closes the send channel.
func (c *Client) writePump() {
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
