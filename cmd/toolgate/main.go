// Package main is the entry point for the toolgate broker.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/toolgate/toolgate/internal/common/config"
	"github.com/toolgate/toolgate/internal/common/httpmw"
	"github.com/toolgate/toolgate/internal/common/logger"
	"github.com/toolgate/toolgate/internal/events"
	"github.com/toolgate/toolgate/internal/gateway/mcp"
	"github.com/toolgate/toolgate/internal/gateway/websocket"
	"github.com/toolgate/toolgate/internal/permission"
	"github.com/toolgate/toolgate/internal/telemetry"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting toolgate broker...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Event bus (NATS when configured, in-memory otherwise)
	providedBus, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer busCleanup()

	// 5. Permission and plan managers
	permissions := permission.NewManager(permission.ManagerConfig{
		Timeout:         cfg.Permission.Timeout(),
		MaxQueueSize:    cfg.Permission.MaxQueueSize,
		CleanupInterval: cfg.Permission.CleanupInterval(),
		CacheMaxEntries: cfg.Permission.CacheMaxEntries,
		CacheTTL:        cfg.Permission.CacheTTL(),
	}, providedBus.Bus, log)
	plans := permission.NewPlanManager(cfg.Permission.Timeout(), providedBus.Bus, log)

	// 6. WebSocket gateway
	gateway, err := websocket.Provide(cfg.Dispatcher, permissions, plans, providedBus.Bus, log)
	if err != nil {
		log.Fatal("Failed to initialize gateway", zap.Error(err))
	}
	defer gateway.Broadcaster.Stop()

	// 7. HTTP router
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(httpmw.RequestLogger(log, "toolgate"))
	router.Use(httpmw.OtelTracing("toolgate"))
	router.Use(gin.Recovery())

	router.GET("/ws", gateway.Handler.HandleConnection)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"clients":     gateway.Hub.ClientCount(),
			"permissions": permissions.Stats(),
			"plans":       plans.Stats(),
		})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 8. Optional MCP permission-prompt surface
	var mcpServer *mcp.Server
	if cfg.MCP.Enabled {
		mcpServer = mcp.New(mcp.Config{Port: cfg.MCP.Port}, permissions, log)
		if err := mcpServer.Start(ctx); err != nil {
			log.Fatal("Failed to start MCP server", zap.Error(err))
		}
	}

	// 9. Run group: hub heartbeat loop and HTTP server
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		gateway.Hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("HTTP server listening",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// 10. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case <-gctx.Done():
		log.Error("Run group failed", zap.Error(gctx.Err()))
	}

	log.Info("Shutting down toolgate broker...")

	// 11. Graceful shutdown: abort in-flight reviews, stop accepting work,
	// close clients normally.
	plans.Cancel()
	permissions.Shutdown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDuration())
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if mcpServer != nil {
		if err := mcpServer.Stop(shutdownCtx); err != nil {
			log.Error("MCP server shutdown error", zap.Error(err))
		}
	}
	if err := g.Wait(); err != nil {
		log.Error("Run group error", zap.Error(err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		log.Error("Telemetry shutdown error", zap.Error(err))
	}

	log.Info("toolgate broker stopped")
}
