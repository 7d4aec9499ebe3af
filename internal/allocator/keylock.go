package allocator

import (
	"context"
	"sync"
)

// keyedLock は key ごとの排他。待機は context でキャンセルできる。
// 使われなくなったキーのエントリは最後の unlock で取り除く。
type keyedLock[K comparable] struct {
	mu    sync.Mutex
	slots map[K]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func newKeyedLock[K comparable]() *keyedLock[K] {
	return &keyedLock[K]{slots: make(map[K]*lockSlot)}
}

// lock blocks until key is free or ctx is done. The returned func releases it.
func (l *keyedLock[K]) lock(ctx context.Context, key K) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.release(key, slot)
		})
	}, nil
}

func (l *keyedLock[K]) release(key K, slot *lockSlot) {
	l.mu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}

func (l *keyedLock[K]) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
