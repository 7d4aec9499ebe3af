// Package broadcast はスコープ (location) ごとのプロセス内ファンアウトを提供する。
//
// Publish は決してブロックしない。購読者のバッファが埋まっている場合、
// そのメッセージはその購読者に対してだけ捨てられる。同じスコープへの Publish は
// 直列化されるので、全購読者は同じ順序でメッセージを受け取る。
//
// Registry はサービスのルートで作り、終了時に Close する。
package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize は購読者チャネルの既定容量。
const DefaultBufferSize = 64

var ErrRegistryClosed = errors.New("broadcast registry is closed")

// Message は1件の配信。Payload は送信済みのフレームそのもの。
type Message struct {
	Scope   string
	Payload []byte
}

type subscriber struct {
	ch      chan Message
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Sent returns how many messages reached this subscriber.
func (s *Subscription) Sent() uint64 { return s.sub.sent.Load() }

type topic struct {
	mu   sync.Mutex
	subs map[uint64]*subscriber
}

func (t *topic) deliver(msg Message) (sent, dropped int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.subs {
		select {
		case s.ch <- msg:
			s.sent.Add(1)
			sent++
		default:
			s.dropped.Add(1)
			dropped++
		}
	}
	return sent, dropped
}

// Subscription は1購読。C は Unsubscribe か Registry.Close で閉じられる。
type Subscription struct {
	C <-chan Message

	id       uint64
	scope    string
	wildcard bool
	sub      *subscriber
}

func (s *Subscription) Scope() string { return s.scope }

// Dropped returns how many messages were discarded for this subscriber.
func (s *Subscription) Dropped() uint64 { return s.sub.dropped.Load() }

type Registry struct {
	mu       sync.RWMutex
	topics   map[string]*topic
	wildcard *topic
	closed   bool
	buffer   int

	nextID         atomic.Uint64
	totalPublished atomic.Uint64
	totalSent      atomic.Uint64
	totalDropped   atomic.Uint64
}

func NewRegistry(bufferSize int) *Registry {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Registry{
		topics:   make(map[string]*topic),
		wildcard: &topic{subs: make(map[uint64]*subscriber)},
		buffer:   bufferSize,
	}
}

// Subscribe registers a subscriber for one scope.
func (r *Registry) Subscribe(scope string) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}

	t, ok := r.topics[scope]
	if !ok {
		t = &topic{subs: make(map[uint64]*subscriber)}
		r.topics[scope] = t
	}
	return r.add(t, scope, false), nil
}

// SubscribeAll registers a subscriber that receives every scope's messages.
func (r *Registry) SubscribeAll() (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	return r.add(r.wildcard, "", true), nil
}

func (r *Registry) add(t *topic, scope string, wildcard bool) *Subscription {
	s := &subscriber{ch: make(chan Message, r.buffer)}
	id := r.nextID.Add(1)

	t.mu.Lock()
	t.subs[id] = s
	t.mu.Unlock()

	return &Subscription{C: s.ch, id: id, scope: scope, wildcard: wildcard, sub: s}
}

// Unsubscribe removes the subscription and closes its channel. Repeated calls are no-ops.
func (r *Registry) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	t := r.wildcard
	if !sub.wildcard {
		var ok bool
		if t, ok = r.topics[sub.scope]; !ok {
			return
		}
	}

	t.mu.Lock()
	if s, ok := t.subs[sub.id]; ok {
		delete(t.subs, sub.id)
		close(s.ch)
	}
	empty := len(t.subs) == 0
	t.mu.Unlock()

	if empty && !sub.wildcard {
		delete(r.topics, sub.scope)
	}
}

// Publish delivers payload to the scope's subscribers and every wildcard subscriber.
// It returns how many scope subscribers received it.
func (r *Registry) Publish(scope string, payload []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return 0
	}
	r.totalPublished.Add(1)

	msg := Message{Scope: scope, Payload: payload}
	delivered := 0
	if t, ok := r.topics[scope]; ok {
		sent, dropped := t.deliver(msg)
		r.totalSent.Add(uint64(sent))
		r.totalDropped.Add(uint64(dropped))
		delivered = sent
	}
	sent, dropped := r.wildcard.deliver(msg)
	r.totalSent.Add(uint64(sent))
	r.totalDropped.Add(uint64(dropped))
	return delivered
}

// Stats はレジストリ全体の統計。
type Stats struct {
	TotalPublished uint64         `json:"total_published"`
	TotalSent      uint64         `json:"total_sent"`
	TotalDropped   uint64         `json:"total_dropped"`
	Subscribers    int            `json:"subscribers"`
	Scopes         map[string]int `json:"scopes"`
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalPublished: r.totalPublished.Load(),
		TotalSent:      r.totalSent.Load(),
		TotalDropped:   r.totalDropped.Load(),
		Scopes:         make(map[string]int, len(r.topics)),
	}
	collect := func(t *topic) int {
		t.mu.Lock()
		defer t.mu.Unlock()
		return len(t.subs)
	}
	for scope, t := range r.topics {
		n := collect(t)
		stats.Scopes[scope] = n
		stats.Subscribers += n
	}
	stats.Subscribers += collect(r.wildcard)
	return stats
}

// Close closes every subscription channel. Later Subscribe calls fail.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	r.closed = true

	for _, t := range append(mapValues(r.topics), r.wildcard) {
		t.mu.Lock()
		for id, s := range t.subs {
			close(s.ch)
			delete(t.subs, id)
		}
		t.mu.Unlock()
	}
	r.topics = make(map[string]*topic)
	return nil
}

func mapValues(m map[string]*topic) []*topic {
	out := make([]*topic, 0, len(m)+1)
	for _, t := range m {
		out = append(out, t)
	}
	return out
}
