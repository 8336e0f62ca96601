package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendBuffer     = 64
)

// client is a Sender backed by a websocket connection. Writes go through a
// single pump goroutine.
type client struct {
	conn   *websocket.Conn
	info   ConnInfo
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	typing *rate.Limiter
}

func newClient(conn *websocket.Conn, info ConnInfo, typing *rate.Limiter) *client {
	return &client{
		conn:   conn,
		info:   info,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		typing: typing,
	}
}

func (c *client) ID() string     { return c.info.ConnID }
func (c *client) UserID() string { return c.info.UserID }

func (c *client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// AllowTyping spends one typing token.
func (c *client) AllowTyping() bool {
	return c.typing == nil || c.typing.Allow()
}

func (c *client) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
