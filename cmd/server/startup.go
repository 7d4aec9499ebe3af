package main

import (
	"context"
	"errors"

	"github.com/ichi0g0y/ring-overlay/internal/allocator"
	"github.com/ichi0g0y/ring-overlay/internal/broadcast"
	"github.com/ichi0g0y/ring-overlay/internal/cache"
	"github.com/ichi0g0y/ring-overlay/internal/env"
	"github.com/ichi0g0y/ring-overlay/internal/imageexport"
	"github.com/ichi0g0y/ring-overlay/internal/localdb"
	"github.com/ichi0g0y/ring-overlay/internal/location"
	"github.com/ichi0g0y/ring-overlay/internal/relay"
	"github.com/ichi0g0y/ring-overlay/internal/shared/logger"
	"github.com/ichi0g0y/ring-overlay/internal/webserver"
	"go.uber.org/zap"
)

func buildDependencies(store *localdb.Store) (webserver.Dependencies, *broadcast.Registry) {
	hub := broadcast.NewRegistry(env.Value.HubBufferSize)

	adminToken := ""
	if env.Value.AdminToken != nil {
		adminToken = *env.Value.AdminToken
	} else {
		logger.Warn("ADMIN_TOKEN is not set; location changes are disabled")
	}

	deps := webserver.Dependencies{
		Allocator:     allocator.New(store, store),
		Locations:     location.NewService(store, cache.NewGate(newFeedTagStore(store))),
		Images:        imageexport.NewService(store, store, imageexport.NewFileExporter(env.Value.ImageDir)),
		Hub:           hub,
		AdminToken:    adminToken,
		PublicBaseURL: env.Value.PublicBaseURL,
	}
	return deps, hub
}

// newFeedTagStore は FEED_CACHE_BACKEND に応じて ETag の置き場所を選ぶ。
func newFeedTagStore(store *localdb.Store) cache.Store {
	if env.Value.FeedCacheBackend == "db" {
		logger.Info("Feed cache backend: database", zap.String("namespace", cache.Namespace))
		return localdb.NewFeedTagStore(store, cache.Namespace)
	}
	logger.Info("Feed cache backend: memory")
	return cache.NewMemoryStore()
}

// startRelay は KAFKA_BROKERS が設定されていれば配信内容を Kafka に複製する。
// 戻り値は relay の終了を待つ関数。
func startRelay(ctx context.Context, hub *broadcast.Registry) func() {
	if len(env.Value.KafkaBrokers) == 0 {
		return func() {}
	}

	r, err := relay.New(hub, relay.NewKafkaWriter(env.Value.KafkaBrokers, env.Value.KafkaTopic))
	if err != nil {
		logger.Error("Failed to start event relay", zap.Error(err))
		return func() {}
	}

	logger.Info("Event relay started",
		zap.Strings("brokers", env.Value.KafkaBrokers),
		zap.String("topic", env.Value.KafkaTopic))

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Event relay stopped", zap.Error(err))
		}
	}()

	return func() {
		<-done
		if err := r.Close(); err != nil {
			logger.Warn("Failed to close event relay", zap.Error(err))
		}
	}
}
