package webserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ichi0g0y/ring-overlay/internal/allocator"
	"github.com/ichi0g0y/ring-overlay/internal/broadcast"
	"github.com/ichi0g0y/ring-overlay/internal/imageexport"
	"github.com/ichi0g0y/ring-overlay/internal/location"
	"github.com/ichi0g0y/ring-overlay/internal/shared/logger"
	"github.com/ichi0g0y/ring-overlay/internal/version"
)

var httpServer *http.Server

// Dependencies はハンドラが使うサービス群。cmd/server で組み立てる。
type Dependencies struct {
	Allocator *allocator.Allocator
	Locations *location.Service
	Images    *imageexport.Service
	Hub       *broadcast.Registry
	// AdminToken が空なら地点の変更系 API は常に 401。
	AdminToken    string
	PublicBaseURL string
}

type api struct {
	allocator     *allocator.Allocator
	locations     *location.Service
	images        *imageexport.Service
	hub           *broadcast.Registry
	adminToken    string
	publicBaseURL string
	startedAt     time.Time
}

// corsMiddleware adds CORS headers to HTTP handlers
func corsMiddleware(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, If-None-Match")
		w.Header().Set("Access-Control-Expose-Headers", "ETag")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		handler(w, r)
	}
}

// NewHandler はルーティング済みの http.Handler を返す。
func NewHandler(deps Dependencies) http.Handler {
	a := &api{
		allocator:     deps.Allocator,
		locations:     deps.Locations,
		images:        deps.Images,
		hub:           deps.Hub,
		adminToken:    deps.AdminToken,
		publicBaseURL: deps.PublicBaseURL,
		startedAt:     time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/rings", corsMiddleware(a.handleRings))
	mux.HandleFunc("/api/locations", corsMiddleware(a.handleLocations))
	mux.HandleFunc("/api/locations/qr", corsMiddleware(a.handleLocationQR))
	mux.HandleFunc("/api/images", corsMiddleware(a.handleImages))
	mux.HandleFunc("/api/health", corsMiddleware(a.handleHealth))
	mux.HandleFunc("/ws/rings", a.handleRingSocket)
	return mux
}

func StartWebServer(port int, deps Dependencies) error {
	httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      NewHandler(deps),
		WriteTimeout: 30 * time.Second,
		ReadTimeout:  10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("Starting web server", zap.Int("port", port))

	// Start server in goroutine and wait briefly to check for immediate errors
	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	// Wait briefly to catch immediate binding errors
	select {
	case err := <-errChan:
		if err != nil {
			logger.Error("Failed to start web server", zap.Error(err))
			return fmt.Errorf("failed to start web server on port %d: %w", port, err)
		}
	case <-time.After(100 * time.Millisecond):
		// Server started successfully
	}

	return nil
}

// Shutdown gracefully shuts down the web server
func Shutdown() {
	if httpServer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown web server gracefully", zap.Error(err))
	} else {
		logger.Info("Web server shutdown complete")
	}
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(a.startedAt).Round(time.Second).String(),
		"version":   version.Get(),
		"hub":       a.hub.Stats(),
		"timestamp": time.Now().UTC(),
	})
}
