// Package relay は受理済みのリングイベントを Kafka にミラーする。
// ベストエフォートで、書き込みに失敗したイベントはログに残して捨てる。
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ichi0g0y/ring-overlay/internal/broadcast"
	"github.com/ichi0g0y/ring-overlay/internal/shared/logger"
)

const defaultWriteTimeout = 5 * time.Second

// Writer is the subset of kafka.Writer the relay needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter はスコープ (location id) をキーにパーティションを決める Writer を作る。
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

type Relay struct {
	registry     *broadcast.Registry
	sub          *broadcast.Subscription
	writer       Writer
	writeTimeout time.Duration
}

// New subscribes to every scope of registry.
func New(registry *broadcast.Registry, writer Writer) (*Relay, error) {
	sub, err := registry.SubscribeAll()
	if err != nil {
		return nil, err
	}
	return &Relay{registry: registry, sub: sub, writer: writer, writeTimeout: defaultWriteTimeout}, nil
}

// Run forwards messages until ctx is done or the subscription closes.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-r.sub.C:
			if !ok {
				return nil
			}
			r.forward(ctx, msg)
		}
	}
}

func (r *Relay) forward(ctx context.Context, msg broadcast.Message) {
	writeCtx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	err := r.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(msg.Scope),
		Value: msg.Payload,
		Time:  time.Now(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("Failed to relay ring event", zap.String("scope", msg.Scope), zap.Error(err))
	}
}

// Close unsubscribes and closes the writer.
func (r *Relay) Close() error {
	r.registry.Unsubscribe(r.sub)
	return r.writer.Close()
}
