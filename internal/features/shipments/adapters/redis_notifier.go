package adapters

import (
	"context"
	"encoding/json"
	"fmt"

	"orchid-tracker/internal/core/logger"
	"orchid-tracker/internal/features/shipments/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChangeChannel is the pub/sub channel carrying shipment change events.
const ChangeChannel = "shipments.changes"

const subscriptionBuffer = 64

// RedisChangeStream implements ports.ChangePublisher and ports.ChangeNotifier
// on Redis pub/sub. Delivery follows publish order; there is no replay, which
// matches the non-restartable subscription contract.
type RedisChangeStream struct {
	client  *redis.Client
	channel string
}

// NewRedisChangeStream connects to Redis and returns the change stream.
func NewRedisChangeStream(redisURL string) (*RedisChangeStream, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	return &RedisChangeStream{
		client:  redis.NewClient(opts),
		channel: ChangeChannel,
	}, nil
}

// Publish broadcasts one change event to every subscriber.
func (s *RedisChangeStream) Publish(ctx context.Context, event ports.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}

	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

// Subscribe opens a live subscription on the change channel.
func (s *RedisChangeStream) Subscribe(ctx context.Context) (ports.Subscription, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)

	// Confirm the subscription before handing it out so no event published
	// after Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to change channel: %w", err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan ports.ChangeEvent, subscriptionBuffer),
	}
	go sub.pump()

	return sub, nil
}

// Close closes the Redis connection.
func (s *RedisChangeStream) Close() error {
	return s.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	events chan ports.ChangeEvent
}

// pump decodes raw messages into the events channel until the subscription
// closes, then closes the channel.
func (s *redisSubscription) pump() {
	defer close(s.events)

	for msg := range s.pubsub.Channel() {
		var event ports.ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			logger.Get().Warn("Dropping undecodable change event", zap.Error(err))
			continue
		}
		s.events <- event
	}
}

// Events returns the decoded change feed. The channel closes after Close.
func (s *redisSubscription) Events() <-chan ports.ChangeEvent {
	return s.events
}

// Close tears the subscription down; the pump goroutine exits and the events
// channel is closed.
func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
