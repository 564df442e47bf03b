// Package integration provides end-to-end tests for the toolgate broker.
// These tests start a real HTTP server and talk to it over WebSocket.
package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/internal/common/config"
	"github.com/toolgate/toolgate/internal/common/logger"
	"github.com/toolgate/toolgate/internal/events/bus"
	"github.com/toolgate/toolgate/internal/gateway/websocket"
	"github.com/toolgate/toolgate/internal/permission"
)

// TestServer runs the full broker wiring behind an httptest server: managers,
// event bus, hub, broadcaster, and the /ws route.
type TestServer struct {
	Server      *httptest.Server
	Permissions *permission.Manager
	Plans       *permission.PlanManager
	EventBus    bus.EventBus
	Gateway     *websocket.Gateway
	Logger      *logger.Logger
	cancelFunc  context.CancelFunc
}

// NewTestServer starts a broker with the default test timeout.
func NewTestServer(t *testing.T) *TestServer {
	return NewTestServerWithTimeout(t, 5*time.Second)
}

// NewTestServerWithTimeout starts a broker whose permission and plan reviews
// expire after the given timeout.
func NewTestServerWithTimeout(t *testing.T, timeout time.Duration) *TestServer {
	t.Helper()

	// Quiet logger for tests
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  "error",
		Format: "console",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	eventBus := bus.NewMemoryEventBus(log)

	permissions := permission.NewManager(permission.ManagerConfig{
		Timeout:         timeout,
		MaxQueueSize:    100,
		CleanupInterval: time.Minute,
		CacheMaxEntries: 1000,
		CacheTTL:        time.Hour,
	}, eventBus, log)
	plans := permission.NewPlanManager(timeout, eventBus, log)

	gateway, err := websocket.Provide(config.DispatcherConfig{
		HeartbeatSeconds: 30,
		ClientQueueMax:   100,
		MaxPendingAcks:   100,
	}, permissions, plans, eventBus, log)
	require.NoError(t, err)

	go gateway.Hub.Run(ctx)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", gateway.Handler.HandleConnection)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"clients":     gateway.Hub.ClientCount(),
			"permissions": permissions.Stats(),
			"plans":       plans.Stats(),
		})
	})

	server := httptest.NewServer(router)

	return &TestServer{
		Server:      server,
		Permissions: permissions,
		Plans:       plans,
		EventBus:    eventBus,
		Gateway:     gateway,
		Logger:      log,
		cancelFunc:  cancel,
	}
}

// Close shuts the broker down in production order: abort reviews, stop the
// managers, drop the clients, then the HTTP server and the bus.
func (ts *TestServer) Close() {
	ts.Plans.Cancel()
	ts.Permissions.Shutdown()
	ts.cancelFunc()
	ts.Gateway.Broadcaster.Stop()
	ts.Server.Close()
	ts.EventBus.Close()
}
