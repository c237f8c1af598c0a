// Package websocket - per-connection read/write pumps.
// File: websocket/connection.go
package websocket

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"go-score-hub/logger"
	"go-score-hub/models"
)

// WSConn is the subset of *websocket.Conn the coordinator uses; tests swap in
// fakes.
type WSConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	ReadMessage() (int, []byte, error)
	Close() error
	RemoteAddr() net.Addr
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
}

// Pump timing and protocol limits.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Connection represents a single judge (or observer) WebSocket connection.
// Exclusively owned by the coordinator for its lifetime.
type Connection struct {
	ID        string
	SessionID string
	JudgeID   string
	Role      models.Role

	conn  WSConn
	send  chan []byte
	coord *Coordinator

	mu            sync.Mutex
	state         models.ConnectionState
	lastHeartbeat time.Time
	strikes       int
	closed        bool
}

// State returns the connection's lifecycle state.
func (c *Connection) State() models.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s models.ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Touch refreshes the liveness timestamp. Called on heartbeat messages and on
// any successful read.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
}

// LastHeartbeat returns the last time the client proved liveness.
func (c *Connection) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// strike counts a protocol violation and reports the running total.
func (c *Connection) strike() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strikes++
	return c.strikes
}

// enqueue hands a message to the write pump without blocking; a slow client
// loses broadcasts rather than stalling the session. Safe to call on a
// connection that has already been closed.
func (c *Connection) enqueue(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		logger.Warn.Printf("[Connection] dropping message for judge=%s session=%s (send buffer full)",
			c.JudgeID, c.SessionID)
		c.coord.metrics.PublishBroadcastDrop(c.SessionID)
	}
}

// close shuts the send channel at most once.
func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump handles inbound messages until the socket dies, then reports the
// disconnect to the coordinator.
func (c *Connection) readPump() {
	defer func() {
		c.coord.Disconnect(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		c.Touch()
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			logger.Warn.Printf("[readPump] read error from judge=%s session=%s: %v", c.JudgeID, c.SessionID, err)
			return
		}
		if messageType != websocket.TextMessage {
			logger.Debug.Printf("[readPump] ignoring non-text messageType=%d", messageType)
			continue
		}
		c.Touch()
		if !c.coord.HandleMessage(c, message) {
			return
		}
	}
}

// writePump sends queued messages and periodic pings until the connection is
// closed.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn.Printf("[writePump] write error to judge=%s session=%s: %v", c.JudgeID, c.SessionID, err)
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Warn.Printf("[writePump] ping error for judge=%s session=%s: %v", c.JudgeID, c.SessionID, err)
				return
			}
		}
	}
}
