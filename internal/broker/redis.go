// Package broker wraps the durable message broker used for cross-instance
// fan-out. Redis pub/sub is the only implementation; the Publisher interface
// keeps the broadcaster testable without a live server.
package broker

import (
	"context"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"github.com/sentinelstack/sentinel-ingest/internal/utils"
)

// Handler is invoked once per delivered message.
type Handler func(payload []byte)

// Publisher publishes opaque payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Redis is a Publisher plus a subscription loop backed by redis pub/sub.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis wraps an already configured redis client.
func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, logger: logger}
}

// Publish sends the payload to the topic. Failures are transient: the
// broadcaster falls back to direct local delivery.
func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.client.Publish(ctx, topic, payload).Err(); err != nil {
		return utils.E(utils.KindTransient, "broker.publish", "redis publish", err)
	}
	return nil
}

// Subscribe consumes the topic until ctx is cancelled, invoking handler for
// each delivered message. It returns when the context ends or the
// subscription channel closes.
func (r *Redis) Subscribe(ctx context.Context, topic string, handler Handler) error {
	sub := r.client.Subscribe(ctx, topic)
	defer sub.Close()

	// Wait for the subscription to be established so publishers racing with
	// startup are not silently missed.
	if _, err := sub.Receive(ctx); err != nil {
		return utils.E(utils.KindTransient, "broker.subscribe", "subscribe "+topic, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handler([]byte(msg.Payload))
		}
	}
}

// Close releases the underlying client connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
