package adapters

import (
	"context"
	"encoding/json"
	"fmt"

	"orchid-tracker/internal/core/logger"
	"orchid-tracker/internal/features/shipments/ports"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// KafkaChangeStream implements ports.ChangePublisher and ports.ChangeNotifier
// on Kafka. Selected with NOTIFIER_DRIVER=kafka for deployments that already
// run a broker; semantics match the Redis stream (ordered per key, no
// exactly-once guarantee).
type KafkaChangeStream struct {
	producer sarama.SyncProducer
	brokers  []string
	topic    string
	groupID  string
}

// NewKafkaChangeStream creates the producer side of the stream.
func NewKafkaChangeStream(brokers []string, topic, groupID string) (*KafkaChangeStream, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &KafkaChangeStream{
		producer: producer,
		brokers:  brokers,
		topic:    topic,
		groupID:  groupID,
	}, nil
}

// Publish sends one change event keyed by tracking number, so updates to the
// same shipment stay ordered within a partition.
func (s *KafkaChangeStream) Publish(ctx context.Context, event ports.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(event.TrackingNumber),
		Value: sarama.ByteEncoder(payload),
	}

	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send change event: %w", err)
	}
	return nil
}

// Subscribe joins the consumer group and yields decoded change events.
func (s *KafkaChangeStream) Subscribe(ctx context.Context) (ports.Subscription, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(s.brokers, s.groupID, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{
		group:  group,
		topic:  s.topic,
		events: make(chan ports.ChangeEvent, subscriptionBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go sub.run(subCtx)

	return sub, nil
}

// Close closes the producer.
func (s *KafkaChangeStream) Close() error {
	if err := s.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

type kafkaSubscription struct {
	group  sarama.ConsumerGroup
	topic  string
	events chan ports.ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}
}

// run drives the consume loop; Consume returns on every rebalance and must be
// called again until the context is cancelled.
func (s *kafkaSubscription) run(ctx context.Context) {
	defer close(s.events)
	defer close(s.done)

	for {
		if err := s.group.Consume(ctx, []string{s.topic}, s); err != nil {
			logger.Get().Error("Kafka consume failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Events returns the decoded change feed. The channel closes after Close.
func (s *kafkaSubscription) Events() <-chan ports.ChangeEvent {
	return s.events
}

// Close leaves the consumer group and stops the feed.
func (s *kafkaSubscription) Close() error {
	s.cancel()
	err := s.group.Close()
	<-s.done
	return err
}

// Setup implements sarama.ConsumerGroupHandler.
func (s *kafkaSubscription) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (s *kafkaSubscription) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim decodes messages into the events channel.
func (s *kafkaSubscription) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if event, ok := decodeChangeMessage(msg.Value); ok {
			select {
			case s.events <- event:
			case <-session.Context().Done():
				return nil
			}
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// decodeChangeMessage unmarshals one raw stream message; undecodable
// payloads are dropped with a warning.
func decodeChangeMessage(payload []byte) (ports.ChangeEvent, bool) {
	var event ports.ChangeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		logger.Get().Warn("Dropping undecodable change event", zap.Error(err))
		return ports.ChangeEvent{}, false
	}
	return event, true
}
