package websocket

import (
	"fmt"

	"github.com/toolgate/toolgate/internal/common/config"
	"github.com/toolgate/toolgate/internal/common/logger"
	"github.com/toolgate/toolgate/internal/events/bus"
	"github.com/toolgate/toolgate/internal/permission"
)

// Gateway bundles the dispatcher's moving parts.
type Gateway struct {
	Hub         *Hub
	Handler     *Handler
	Broadcaster *Broadcaster
}

// Provide builds the websocket gateway over the managers and event bus.
func Provide(cfg config.DispatcherConfig, permissions *permission.Manager, plans *permission.PlanManager, eventBus bus.EventBus, log *logger.Logger) (*Gateway, error) {
	hub := NewHub(permissions, plans, eventBus, cfg, log)
	broadcaster, err := NewBroadcaster(eventBus, hub)
	if err != nil {
		return nil, fmt.Errorf("wire broadcaster: %w", err)
	}
	return &Gateway{
		Hub:         hub,
		Handler:     NewHandler(hub, log),
		Broadcaster: broadcaster,
	}, nil
}
