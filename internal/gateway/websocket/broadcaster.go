package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/events"
	"github.com/toolgate/toolgate/internal/events/bus"
	"github.com/toolgate/toolgate/pkg/protocol"
)

// Broadcaster subscribes to the broker's lifecycle events and translates
// them into wire messages fanned out by the hub. The inbound path calls the
// managers directly; only the outbound path rides the bus, which keeps
// external NATS subscribers and connected clients seeing the same stream.
type Broadcaster struct {
	hub  *Hub
	subs []bus.Subscription
}

// NewBroadcaster wires the hub to the event bus. Call Stop to detach.
func NewBroadcaster(eventBus bus.EventBus, hub *Hub) (*Broadcaster, error) {
	b := &Broadcaster{hub: hub}

	subjects := map[string]bus.EventHandler{
		events.PermissionRequested: b.onPermissionRequested,
		events.PermissionTimedOut:  b.onPermissionTimedOut,
		events.PermissionCancelled: b.onPermissionCancelled,
		events.PermissionResolved:  b.onPermissionResolved,
		events.PlanRequested:       b.onPlanRequested,
		events.PlanTimedOut:        b.onPlanTimedOut,
	}

	for base, handler := range subjects {
		// Unbound requests publish on the base subject, session-bound ones
		// on base.<sessionId>; subscribe to both.
		for _, subject := range []string{base, base + ".*"} {
			sub, err := eventBus.Subscribe(subject, handler)
			if err != nil {
				b.Stop()
				return nil, fmt.Errorf("subscribe %s: %w", subject, err)
			}
			b.subs = append(b.subs, sub)
		}
	}
	return b, nil
}

// Stop detaches all subscriptions.
func (b *Broadcaster) Stop() {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
}

func (b *Broadcaster) onPermissionRequested(ctx context.Context, event *bus.Event) error {
	payload, err := decodePayload[events.PermissionRequestedPayload](event.Data)
	if err != nil {
		return err
	}

	msg := &protocol.PermissionRequest{
		Type:      protocol.TypePermissionRequest,
		ID:        payload.RequestID,
		ToolName:  payload.ToolName,
		Input:     payload.Input,
		Summary:   payload.Summary,
		RiskLevel: payload.RiskLevel,
		Category:  payload.Category,
		Timestamp: payload.CreatedAt,
		ExpiresAt: payload.ExpiresAt,
		SessionID: payload.SessionID,
	}

	targets := b.hub.SendToSession(payload.SessionID, msg)
	for _, c := range targets {
		c.trackPending(payload.RequestID, b.hub.cfg.MaxPendingAcks)
	}

	if len(targets) == 0 {
		b.hub.logger.Warn("No clients connected for permission request",
			zap.String("request_id", payload.RequestID),
			zap.String("session_id", payload.SessionID))
		b.hub.publish(events.BuildPermissionNoClientsSubject(payload.SessionID), events.PermissionNoClients,
			events.PermissionNoClientsPayload{
				RequestID: payload.RequestID,
				ToolName:  payload.ToolName,
				SessionID: payload.SessionID,
			})
	}

	b.hub.BroadcastQueueStatus()
	return nil
}

func (b *Broadcaster) onPermissionTimedOut(ctx context.Context, event *bus.Event) error {
	payload, err := decodePayload[events.PermissionTimedOutPayload](event.Data)
	if err != nil {
		return err
	}
	b.hub.Broadcast(protocol.NewPermissionTimeout(payload.RequestID, payload.ToolName))
	b.hub.StripPendingID(payload.RequestID)
	b.hub.BroadcastQueueStatus()
	return nil
}

func (b *Broadcaster) onPermissionCancelled(ctx context.Context, event *bus.Event) error {
	payload, err := decodePayload[events.PermissionCancelledPayload](event.Data)
	if err != nil {
		return err
	}
	b.hub.Broadcast(protocol.NewPermissionCancelled(payload.RequestID, payload.Reason))
	b.hub.StripPendingID(payload.RequestID)
	b.hub.BroadcastQueueStatus()
	return nil
}

func (b *Broadcaster) onPermissionResolved(ctx context.Context, event *bus.Event) error {
	payload, err := decodePayload[events.PermissionResolvedPayload](event.Data)
	if err != nil {
		return err
	}
	// The responding client's queue status refresh happens inline; this
	// covers resolutions that arrived via other paths (MCP, DropSession).
	b.hub.StripPendingID(payload.RequestID)
	b.hub.BroadcastQueueStatus()
	return nil
}

func (b *Broadcaster) onPlanRequested(ctx context.Context, event *bus.Event) error {
	payload, err := decodePayload[events.PlanRequestedPayload](event.Data)
	if err != nil {
		return err
	}
	b.hub.Broadcast(&protocol.PlanApprovalRequest{
		Type:      protocol.TypePlanApprovalRequest,
		PlanID:    payload.PlanID,
		Content:   payload.Content,
		SessionID: payload.SessionID,
		Timestamp: payload.CreatedAt,
		ExpiresAt: payload.ExpiresAt,
	})
	return nil
}

func (b *Broadcaster) onPlanTimedOut(ctx context.Context, event *bus.Event) error {
	payload, err := decodePayload[events.PlanTimedOutPayload](event.Data)
	if err != nil {
		return err
	}
	b.hub.Broadcast(protocol.NewPlanApprovalTimeout(payload.PlanID))
	return nil
}

// decodePayload recovers a typed payload from event data. In-process the
// data is already the typed struct; after a NATS round-trip it is a
// map[string]interface{} and goes through a JSON re-decode.
func decodePayload[T any](data any) (T, error) {
	if payload, ok := data.(T); ok {
		return payload, nil
	}
	var out T
	raw, err := json.Marshal(data)
	if err != nil {
		return out, fmt.Errorf("re-encode event payload: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode event payload: %w", err)
	}
	return out, nil
}
