package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ichi0g0y/ring-overlay/internal/shared/logger"
)

// Namespace はフィードのタグを置くキー。
const Namespace = "location_feed_etag"

// Gate は Store に置いたタグで条件付き読み出しを判定する。
// Store の失敗は「鮮度不明」として扱い、呼び出し側は全件読み出しに進む。
type Gate struct {
	store Store
	now   func() time.Time
}

func NewGate(store Store) *Gate {
	return &Gate{store: store, now: time.Now}
}

// NotModified reports whether the client's If-None-Match still matches the stored tag.
// A cold or failing store always answers false.
func (g *Gate) NotModified(ctx context.Context, ifNoneMatch string) bool {
	if ifNoneMatch == "" {
		return false
	}
	tag, ok, err := g.store.Get(ctx)
	if err != nil {
		logger.Warn("Failed to read feed tag", zap.Error(err))
		return false
	}
	return ok && Matches(ifNoneMatch, tag)
}

// Current returns the stored tag, minting one when the store is cold.
// An empty string means the freshness is unknown.
func (g *Gate) Current(ctx context.Context) string {
	tag, ok, err := g.store.Get(ctx)
	if err != nil {
		logger.Warn("Failed to read feed tag", zap.Error(err))
		return ""
	}
	if ok {
		return tag
	}

	tag = NewEtag(g.now())
	if err := g.store.Set(ctx, tag); err != nil {
		logger.Warn("Failed to store feed tag", zap.Error(err))
		return ""
	}
	return tag
}

// Invalidate mints a fresh tag after a successful write.
// When the new tag cannot be stored the slot is cleared so no stale tag survives.
func (g *Gate) Invalidate(ctx context.Context) {
	tag := NewEtag(g.now())
	if err := g.store.Set(ctx, tag); err != nil {
		logger.Warn("Failed to store feed tag, clearing", zap.Error(err))
		if err := g.store.Clear(ctx); err != nil {
			logger.Error("Failed to clear feed tag", zap.Error(err))
		}
		return
	}
	logger.Debug("Feed tag invalidated", zap.String("etag", tag))
}
