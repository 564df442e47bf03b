package websocket

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/toolgate/toolgate/pkg/protocol"
)

// handleInbound validates and dispatches one client frame. Validation
// failures are answered with a permission-error to the sender only; the
// broker never drops a connection over a malformed frame.
func (h *Hub) handleInbound(ctx context.Context, c *Client, raw []byte) {
	msg, err := protocol.DecodeClientMessage(raw)
	if err != nil {
		var ve *protocol.ValidationError
		if errors.As(err, &ve) {
			h.sendError(c, ve.RequestID, ve.Reason)
		} else {
			h.sendError(c, "", "invalid message")
		}
		return
	}

	switch m := msg.(type) {
	case *protocol.PermissionResponse:
		h.handlePermissionResponse(c, m)
	case *protocol.PermissionSyncRequest:
		h.handleSyncRequest(c, m)
	case *protocol.PlanApprovalResponse:
		h.handlePlanResponse(c, m)
	}
}

// handlePermissionResponse applies a user decision. The session-ownership
// check is the defense against one client answering another session's
// prompts; membership in the client's own pending set comes first so a
// client cannot probe for ids it was never shown. With session-scoped
// fan-out a wrong-session client is normally caught by that membership
// check; the mismatch error below covers clients whose binding changed
// after the id reached them, e.g. via a leaked id plus a later sync.
func (h *Hub) handlePermissionResponse(c *Client, m *protocol.PermissionResponse) {
	if !c.hasPending(m.RequestID) {
		h.sendError(c, m.RequestID, "Request not found in your pending queue")
		return
	}

	if req, ok := h.permissions.Get(m.RequestID); ok {
		clientSession := c.SessionID()
		if req.SessionID != "" && clientSession != "" && req.SessionID != clientSession {
			h.logger.Warn("Session mismatch on permission response",
				zap.String("client_id", c.ID),
				zap.String("client_session", clientSession),
				zap.String("request_id", m.RequestID),
				zap.String("request_session", req.SessionID))
			h.sendError(c, m.RequestID, "Unauthorized: session mismatch")
			return
		}
	}

	c.untrackPending(m.RequestID)

	if !h.permissions.Resolve(m.RequestID, m.Decision, m.UpdatedInput) {
		h.sendError(c, m.RequestID, "Request not found or already resolved")
		return
	}

	h.StripPendingID(m.RequestID)
	h.BroadcastQueueStatus()
}

// handleSyncRequest replies with the session's pending requests so a client
// can rebuild its queue after a reconnect, and re-arms the client to answer
// them.
func (h *Hub) handleSyncRequest(c *Client, m *protocol.PermissionSyncRequest) {
	if !c.bindSession(m.SessionID) {
		h.sendError(c, "", "Unauthorized: session mismatch")
		return
	}

	infos := h.permissions.RequestsForSession(m.SessionID)
	pending := make([]protocol.PendingRequestInfo, 0, len(infos))
	for _, info := range infos {
		c.trackPending(info.ID, h.cfg.MaxPendingAcks)
		pending = append(pending, protocol.PendingRequestInfo{
			ID:        info.ID,
			ToolName:  info.ToolName,
			Input:     info.Input,
			Timestamp: info.CreatedAt,
			SessionID: info.SessionID,
		})
	}

	h.logger.Debug("Sync request served",
		zap.String("client_id", c.ID),
		zap.String("session_id", m.SessionID),
		zap.Int("pending", len(pending)))
	h.sendToClient(c, protocol.NewPermissionSyncResponse(m.SessionID, pending))
}

// handlePlanResponse forwards a plan verdict to the plan manager.
func (h *Hub) handlePlanResponse(c *Client, m *protocol.PlanApprovalResponse) {
	if !h.plans.Resolve(m.PlanID, m.Decision, m.PermissionMode, m.Reason) {
		h.sendError(c, m.PlanID, "Plan not found or already resolved")
		return
	}

	h.logger.Info("Plan response accepted",
		zap.String("client_id", c.ID),
		zap.String("plan_id", m.PlanID),
		zap.String("decision", string(m.Decision)))
}

func (h *Hub) sendError(c *Client, requestID, message string) {
	h.sendToClient(c, protocol.NewPermissionError(requestID, message))
}
