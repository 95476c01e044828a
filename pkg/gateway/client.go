package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 << 10

	sendBuffer = 256

	// CloseHeartbeatTimeout is sent when presence monitoring gives up on a
	// silent connection.
	CloseHeartbeatTimeout = 4000
)

// Client is a middleman between the websocket connection and the server.
type Client struct {
	id     string
	userID string
	server *Server
	conn   *websocket.Conn
	log    *slog.Logger

	// Buffered channel of outbound frames.
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(s *Server, conn *websocket.Conn, userID string) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		userID: userID,
		server: s,
		conn:   conn,
		log:    s.log.With("conn", id, "user", userID),
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }

// enqueue hands a frame to the write pump. A client whose buffer is full
// is too slow to keep up and gets disconnected.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn("send buffer full, dropping connection")
		go c.close(websocket.ClosePolicyViolation, "too slow")
		return false
	}
}

// close ends the connection once. The read pump notices and runs the
// disconnect path.
func (c *Client) close(code int, reason string) {
	c.once.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		close(c.done)
		c.conn.Close()
	})
}

// readPump pumps frames from the websocket connection to the handlers.
// Frames of one connection are handled in arrival order.
func (c *Client) readPump() {
	defer c.server.disconnect(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Debug("read failed", "error", err)
			}
			return
		}
		c.server.dispatch(c, message)
	}
}

// writePump pumps frames to the websocket connection, one websocket
// message per frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("write failed", "error", err)
				go c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				go c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

func (c *Client) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.server.handlerTimeout)
}
