package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ichi0g0y/ring-overlay/internal/env"
	"github.com/ichi0g0y/ring-overlay/internal/localdb"
	"github.com/ichi0g0y/ring-overlay/internal/shared/logger"
	"github.com/ichi0g0y/ring-overlay/internal/shared/paths"
	"github.com/ichi0g0y/ring-overlay/internal/version"
	"github.com/ichi0g0y/ring-overlay/internal/webserver"
	"go.uber.org/zap"
)

func main() {
	logger.Init(false)
	defer logger.Sync()

	logger.Info("Starting ring-overlay server", zap.String("version", version.String()))

	env.LoadEnv()
	if env.Value.DebugMode {
		logger.Init(true)
		logger.Info("Debug mode enabled")
	}

	if err := paths.EnsureDataDirs(); err != nil {
		logger.Fatal("Failed to ensure data directories", zap.Error(err))
	}

	opts := localdb.Options{Driver: env.Value.DBDriver, Path: env.Value.DBPath}
	if env.Value.DatabaseURL != nil {
		opts.URL = *env.Value.DatabaseURL
	}
	store, err := localdb.SetupDB(opts)
	if err != nil {
		logger.Fatal("Failed to setup database", zap.Error(err))
	}

	deps, hub := buildDependencies(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopRelay := startRelay(ctx, hub)

	port := env.Value.ServerPort
	if err := webserver.StartWebServer(port, deps); err != nil {
		logger.Fatal("Failed to start web server", zap.Error(err))
	}

	logger.Info("Server started",
		zap.Int("port", port),
		zap.String("driver", store.Driver()),
		zap.String("feed", fmt.Sprintf("http://localhost:%d/api/locations", port)),
		zap.String("live", fmt.Sprintf("ws://localhost:%d/ws/rings?location=<id>", port)))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	webserver.Shutdown()
	// 購読中のセッションはレジストリを閉じると終了する
	if err := hub.Close(); err != nil {
		logger.Warn("Failed to close broadcast registry", zap.Error(err))
	}
	cancel()
	stopRelay()
	if err := store.Close(); err != nil {
		logger.Warn("Failed to close database", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}
