// Package websocket is the broker's dispatcher: it owns client connections,
// routes permission and plan traffic to the owning session, and validates
// inbound decisions.
package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/common/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB
)

// Client is one connected UI over the websocket channel, optionally bound to
// a chat session. The hub owns all clients; pendingIDs tracks the request ids
// this client has been told about and has not yet answered.
type Client struct {
	ID        string
	sessionID string
	conn      *websocket.Conn
	hub       *Hub
	logger    *logger.Logger

	// send is the bounded outbound queue; enqueue drops the oldest frame
	// when it is full so a slow consumer never stalls fan-out.
	send chan []byte
	ping chan struct{}

	alive    atomic.Bool
	lastSeen atomic.Int64

	mu           sync.Mutex
	sessionSet   bool
	pendingIDs   map[string]struct{}
	pendingOrder []string
}

// NewClient wraps an upgraded connection. queueMax bounds the outbound queue.
func NewClient(id, sessionID string, conn *websocket.Conn, hub *Hub, queueMax int, log *logger.Logger) *Client {
	if queueMax < 1 {
		// enqueue's drop-oldest loop needs room for at least one frame.
		queueMax = 1
	}
	c := &Client{
		ID:         id,
		sessionID:  sessionID,
		sessionSet: sessionID != "",
		conn:       conn,
		hub:        hub,
		send:       make(chan []byte, queueMax),
		ping:       make(chan struct{}, 1),
		pendingIDs: make(map[string]struct{}),
		logger: log.WithFields(
			zap.String("client_id", id),
			zap.String("session_id", sessionID)),
	}
	c.alive.Store(true)
	c.touch()
	return c
}

// SessionID returns the session this client is bound to, empty if unbound.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// bindSession binds an unbound client to a session. Returns false when the
// client is already bound to a different session.
func (c *Client) bindSession(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionSet {
		return c.sessionID == sessionID
	}
	c.sessionID = sessionID
	c.sessionSet = true
	return true
}

// touch records activity for the heartbeat sweep.
func (c *Client) touch() {
	c.alive.Store(true)
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the time of the client's last observed activity.
func (c *Client) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// trackPending records a request id delivered to this client. The set is
// capped: beyond maxPendingAcks the oldest tracked id is dropped.
func (c *Client) trackPending(requestID string, maxPendingAcks int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pendingIDs[requestID]; ok {
		return
	}
	c.pendingIDs[requestID] = struct{}{}
	c.pendingOrder = append(c.pendingOrder, requestID)

	for len(c.pendingIDs) > maxPendingAcks && len(c.pendingOrder) > 0 {
		oldest := c.pendingOrder[0]
		c.pendingOrder = c.pendingOrder[1:]
		delete(c.pendingIDs, oldest)
	}
}

// hasPending reports whether this client was told about the request.
func (c *Client) hasPending(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pendingIDs[requestID]
	return ok
}

// untrackPending removes a request id from the client's pending set.
func (c *Client) untrackPending(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pendingIDs, requestID)
}

// pendingRequests returns the ids this client has not yet answered.
func (c *Client) pendingRequests() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.pendingIDs))
	for _, id := range c.pendingOrder {
		if _, ok := c.pendingIDs[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// enqueue appends a frame to the outbound queue, evicting the oldest frame
// when full. Called only under the hub's client lock so it never races the
// hub closing the channel.
func (c *Client) enqueue(data []byte) {
	for {
		select {
		case c.send <- data:
			return
		default:
		}
		select {
		case <-c.send:
			c.logger.Warn("Outbound queue full, dropping oldest frame")
		default:
		}
	}
}

// requestPing asks the write pump to send a ping control frame.
func (c *Client) requestPing() {
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

// ReadPump pumps inbound frames to the hub. Runs on the connection's reader
// goroutine; exits on read error and unregisters the client.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait()))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait()))
		c.hub.handleInbound(ctx, c, message)
	}
}

// WritePump pumps queued frames to the connection and answers the hub's ping
// requests. Exits when the hub closes the send channel or a write fails.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Batch additional queued messages
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-c.ping:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
