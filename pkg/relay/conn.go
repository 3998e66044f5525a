package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"hashland/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
	sendBuffer     = 64
)

// Conn is one client connection. Session and user fields are owned by the Hub
// and guarded by its mutex.
type Conn struct {
	ID string

	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	alive     atomic.Bool

	sessionID string
	users     map[string]struct{}
	closed    bool
}

func newConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ID:    uuid.NewString(),
		ws:    ws,
		send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
		users: make(map[string]struct{}),
	}
	c.alive.Store(true)
	return c
}

// trySend queues msg without blocking. Slow or closing peers are skipped.
func (c *Conn) trySend(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		logger.Debug("Relay send queue full, dropping message", "conn", c.ID)
		return false
	}
}

// close tears down the transport. Safe to call more than once.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

// ping sends a liveness probe. Safe to call concurrently with writePump.
func (c *Conn) ping() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *Conn) readPump(h *Hub) {
	defer func() {
		h.HandleClose(c)
		c.close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Debug("Relay read error", "conn", c.ID, "err", err)
			}
			return
		}
		h.HandleMessage(c, msg)
	}
}

func (c *Conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("Relay write error", "conn", c.ID, "err", err)
				c.close()
				return
			}
		}
	}
}
