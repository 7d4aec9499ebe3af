package localdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// FeedTagStore は volatile_tags テーブルの1行を ETag 置き場として使う。
type FeedTagStore struct {
	store     *Store
	namespace string
}

func NewFeedTagStore(store *Store, namespace string) *FeedTagStore {
	return &FeedTagStore{store: store, namespace: namespace}
}

// Get returns the stored tag. ok is false when nothing is stored.
func (f *FeedTagStore) Get(ctx context.Context) (string, bool, error) {
	var tag string
	err := f.store.db.QueryRowContext(ctx, f.store.rebind(`SELECT tag FROM volatile_tags WHERE namespace = ?`), f.namespace).Scan(&tag)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get feed tag: %w", err)
	}
	return tag, true, nil
}

func (f *FeedTagStore) Set(ctx context.Context, tag string) error {
	return retryOnContention(ctx, func() error {
		_, err := f.store.db.ExecContext(ctx, f.store.rebind(`INSERT INTO volatile_tags (namespace, tag, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (namespace) DO UPDATE SET tag = excluded.tag, updated_at = excluded.updated_at`),
			f.namespace, tag, time.Now().UnixNano())
		if err != nil {
			return fmt.Errorf("failed to set feed tag: %w", err)
		}
		return nil
	})
}

func (f *FeedTagStore) Clear(ctx context.Context) error {
	return retryOnContention(ctx, func() error {
		if _, err := f.store.db.ExecContext(ctx, f.store.rebind(`DELETE FROM volatile_tags WHERE namespace = ?`), f.namespace); err != nil {
			return fmt.Errorf("failed to clear feed tag: %w", err)
		}
		return nil
	})
}
