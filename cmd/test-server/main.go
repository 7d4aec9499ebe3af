package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ichi0g0y/ring-overlay/internal/allocator"
	"github.com/ichi0g0y/ring-overlay/internal/broadcast"
	"github.com/ichi0g0y/ring-overlay/internal/cache"
	"github.com/ichi0g0y/ring-overlay/internal/env"
	"github.com/ichi0g0y/ring-overlay/internal/imageexport"
	"github.com/ichi0g0y/ring-overlay/internal/localdb"
	"github.com/ichi0g0y/ring-overlay/internal/location"
	"github.com/ichi0g0y/ring-overlay/internal/shared/logger"
	"github.com/ichi0g0y/ring-overlay/internal/webserver"
	"go.uber.org/zap"
)

// 一時ディレクトリの DB (modernc, cgo 不要) にデモ地点を1つ入れて起動する開発用サーバー。
func main() {
	logger.Init(true)
	defer logger.Sync()

	env.LoadEnv()

	dir, err := os.MkdirTemp("", "ring-overlay-test-*")
	if err != nil {
		logger.Fatal("Failed to create temp dir", zap.Error(err))
	}
	defer os.RemoveAll(dir)

	store, err := localdb.SetupDB(localdb.Options{
		Driver: localdb.DriverSQLite,
		Path:   filepath.Join(dir, "local.db"),
	})
	if err != nil {
		logger.Fatal("Failed to setup database", zap.Error(err))
	}
	defer store.Close()

	locations := location.NewService(store, cache.NewGate(cache.NewMemoryStore()))
	demo, err := locations.Create(context.Background(), location.Input{
		Longitude: 139.7671,
		Latitude:  35.6812,
		Localize:  map[string]string{"en": "Tokyo Station", "ja": "東京駅"},
	})
	if err != nil {
		logger.Fatal("Failed to seed demo location", zap.Error(err))
	}

	hub := broadcast.NewRegistry(env.Value.HubBufferSize)
	deps := webserver.Dependencies{
		Allocator:     allocator.New(store, store),
		Locations:     locations,
		Images:        imageexport.NewService(store, store, imageexport.NewFileExporter(filepath.Join(dir, "images"))),
		Hub:           hub,
		AdminToken:    "test-token",
		PublicBaseURL: fmt.Sprintf("http://localhost:%d", env.Value.ServerPort),
	}

	port := env.Value.ServerPort
	if err := webserver.StartWebServer(port, deps); err != nil {
		logger.Fatal("Failed to start web server", zap.Error(err))
	}

	fmt.Printf("Test server started on port %d\n", port)
	fmt.Printf("  demo location: %s\n", demo.ID)
	fmt.Printf("  live view:     ws://localhost:%d/ws/rings?location=%s\n", port, demo.ID)
	fmt.Printf("  admin token:   %s\n", deps.AdminToken)
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	fmt.Println("\nShutting down...")

	webserver.Shutdown()
	_ = hub.Close()
}
