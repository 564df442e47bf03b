// Package main runs an embedded broker and drives it with scripted tool
// traffic, so the websocket surface can be exercised end to end with any
// websocket client.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/common/config"
	"github.com/toolgate/toolgate/internal/common/logger"
	"github.com/toolgate/toolgate/internal/events"
	"github.com/toolgate/toolgate/internal/gateway/websocket"
	"github.com/toolgate/toolgate/internal/permission"
)

func main() {
	scenario := flag.String("scenario", "simple", "scenario to run: simple, burst, plan, all")
	sessionID := flag.String("session", "demo-session", "session id the scripted agent runs under")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providedBus, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer busCleanup()

	permissions := permission.NewManager(permission.ManagerConfig{
		Timeout:         cfg.Permission.Timeout(),
		MaxQueueSize:    cfg.Permission.MaxQueueSize,
		CleanupInterval: cfg.Permission.CleanupInterval(),
		CacheMaxEntries: cfg.Permission.CacheMaxEntries,
		CacheTTL:        cfg.Permission.CacheTTL(),
	}, providedBus.Bus, log)
	plans := permission.NewPlanManager(cfg.Permission.Timeout(), providedBus.Bus, log)

	gateway, err := websocket.Provide(cfg.Dispatcher, permissions, plans, providedBus.Bus, log)
	if err != nil {
		log.Fatal("Failed to initialize gateway", zap.Error(err))
	}
	defer gateway.Broadcaster.Stop()
	go gateway.Hub.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/ws", gateway.Handler.HandleConnection)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}
	go func() {
		log.Info("Mock agent broker listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("connect", fmt.Sprintf("ws://localhost:%d/ws?session_id=%s", cfg.Server.Port, *sessionID)))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	runner := &scenarioRunner{
		permissions: permissions,
		plans:       plans,
		sessionID:   *sessionID,
		logger:      log,
	}
	go runner.Run(ctx, *scenario)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Stopping mock agent...")
	plans.Cancel()
	permissions.Shutdown()
	cancel()
	server.Close()
}
