package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/common/config"
	"github.com/toolgate/toolgate/internal/common/logger"
	"github.com/toolgate/toolgate/internal/events"
	"github.com/toolgate/toolgate/internal/events/bus"
	"github.com/toolgate/toolgate/internal/permission"
	"github.com/toolgate/toolgate/pkg/protocol"
)

// Hub owns all connected clients and routes broker traffic to them. Outbound
// frames carry a hub-wide monotonic sequence number; within one client they
// are delivered in that order.
type Hub struct {
	permissions *permission.Manager
	plans       *permission.PlanManager
	bus         bus.EventBus
	cfg         config.DispatcherConfig
	logger      *logger.Logger

	mu      sync.RWMutex
	clients map[string]*Client

	// seq is guarded by mu. Stamping and enqueueing happen under one
	// critical section so per-client delivery follows sequence order.
	seq uint64
}

// NewHub creates a dispatcher hub over the given managers.
func NewHub(permissions *permission.Manager, plans *permission.PlanManager, eventBus bus.EventBus, cfg config.DispatcherConfig, log *logger.Logger) *Hub {
	return &Hub{
		permissions: permissions,
		plans:       plans,
		bus:         eventBus,
		cfg:         cfg,
		clients:     make(map[string]*Client),
		logger:      log.WithFields(zap.String("component", "ws_hub")),
	}
}

// pongWait is how long a connection may stay silent before its reads fail.
// Two heartbeat sweeps plus slack, so one lost pong is survivable at the
// transport level while the hub-level sweep still enforces liveness.
func (h *Hub) pongWait() time.Duration {
	return 2*h.cfg.HeartbeatInterval() + 5*time.Second
}

// Run drives the heartbeat sweep until ctx is cancelled, then closes every
// client with a normal-close indication.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	ticker := time.NewTicker(h.cfg.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep removes clients that have not shown life since the previous tick,
// then clears the alive flag and pings the survivors.
func (h *Hub) sweep() {
	h.mu.RLock()
	snapshot := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	for _, c := range snapshot {
		if !c.alive.Swap(false) {
			h.logger.Warn("Client missed heartbeat, removing",
				zap.String("client_id", c.ID),
				zap.Time("last_seen", c.LastSeen()))
			h.Unregister(c)
			if c.conn != nil {
				c.conn.Close()
			}
			continue
		}
		c.requestPing()
	}
}

// Register adds a client and pushes it the current queue status.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	h.logger.Info("Client connected",
		zap.String("client_id", c.ID),
		zap.String("session_id", c.SessionID()))
	h.BroadcastQueueStatus()
}

// Unregister removes a client. One client-disconnected event is emitted per
// request id the client left unanswered; the requests themselves stay
// pending in the manager.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	close(c.send)
	h.mu.Unlock()

	sessionID := c.SessionID()
	for _, requestID := range c.pendingRequests() {
		h.publish(events.BuildClientDisconnectedSubject(sessionID), events.ClientDisconnected,
			events.ClientDisconnectedPayload{
				ClientID:  c.ID,
				RequestID: requestID,
				SessionID: sessionID,
			})
	}

	h.logger.Info("Client disconnected",
		zap.String("client_id", c.ID),
		zap.Int("unanswered", len(c.pendingRequests())))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// stamp assigns the next sequence number when the message carries one and
// marshals it. Callers must hold mu exclusively: if stamping and enqueueing
// were split across two lock holders, concurrent senders could land frames
// at the same client in inverted sequence order.
func (h *Hub) stamp(msg any) ([]byte, bool) {
	if seq, ok := msg.(protocol.Sequenced); ok {
		h.seq++
		seq.SetSequenceNumber(h.seq)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal outbound message", zap.Error(err))
		return nil, false
	}
	return data, true
}

// SendToSession fans a message out to the clients bound to sessionID. An
// empty sessionID targets every client: an unbound request has no owner to
// scope to. Returns the clients reached.
func (h *Hub) SendToSession(sessionID string, msg any) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, ok := h.stamp(msg)
	if !ok {
		return nil
	}

	var targets []*Client
	for _, c := range h.clients {
		if sessionID != "" && c.SessionID() != "" && c.SessionID() != sessionID {
			continue
		}
		c.enqueue(data)
		targets = append(targets, c)
	}
	return targets
}

// Broadcast sends a message to every connected client.
func (h *Hub) Broadcast(msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, ok := h.stamp(msg)
	if !ok {
		return
	}
	for _, c := range h.clients {
		c.enqueue(data)
	}
}

// sendToClient sends a message to a single client, if still registered.
func (h *Hub) sendToClient(c *Client, msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, registered := h.clients[c.ID]; !registered {
		return
	}
	data, ok := h.stamp(msg)
	if !ok {
		return
	}
	c.enqueue(data)
}

// StripPendingID removes a request id from every client's pending set. Used
// when a request leaves the queue without that client answering it.
func (h *Hub) StripPendingID(requestID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.untrackPending(requestID)
	}
}

// BroadcastQueueStatus pushes the current queue gauges to every client.
// Processing counts requests already delivered to at least one client.
func (h *Hub) BroadcastQueueStatus() {
	h.mu.RLock()
	delivered := make(map[string]struct{})
	for _, c := range h.clients {
		for _, id := range c.pendingRequests() {
			delivered[id] = struct{}{}
		}
	}
	h.mu.RUnlock()

	processing := 0
	for id := range delivered {
		if _, ok := h.permissions.Get(id); ok {
			processing++
		}
	}
	pending := h.permissions.PendingCount()

	h.Broadcast(protocol.NewPermissionQueueStatus(pending, processing))
}

// closeAllClients drops every client with a normal close.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	for _, c := range clients {
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) publish(subject, eventType string, payload any) {
	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(context.Background(), subject, bus.NewEvent(eventType, "ws-hub", payload)); err != nil {
		h.logger.Error("Failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}
