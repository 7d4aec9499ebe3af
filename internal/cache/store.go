package cache

import (
	"context"
	"sync"
)

// Store は単一スロットのタグ置き場。
type Store interface {
	Get(ctx context.Context) (tag string, ok bool, err error)
	Set(ctx context.Context, tag string) error
	Clear(ctx context.Context) error
}

// MemoryStore はプロセス内の Store。
type MemoryStore struct {
	mu  sync.RWMutex
	tag string
	ok  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(context.Context) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tag, m.ok, nil
}

func (m *MemoryStore) Set(_ context.Context, tag string) error {
	m.mu.Lock()
	m.tag, m.ok = tag, true
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	m.tag, m.ok = "", false
	m.mu.Unlock()
	return nil
}
