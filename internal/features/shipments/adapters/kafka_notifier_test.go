package adapters

import (
	"context"
	"testing"

	"orchid-tracker/internal/features/shipments/domain"
	"orchid-tracker/internal/features/shipments/ports"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestKafkaChangeStream_Publish verifies the event is sent keyed by tracking
// number.
func TestKafkaChangeStream_Publish(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	stream := &KafkaChangeStream{producer: mockProducer, topic: "shipments.changes"}

	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		event, ok := decodeChangeMessage(value)
		require.True(t, ok)
		assert.Equal(t, ports.ChangeUpsert, event.Kind)
		assert.Equal(t, "OM123456789", event.TrackingNumber)
		return nil
	})

	record := domain.ShipmentRecord{TrackingNumber: "OM123456789", CurrentStatus: domain.StatusOrderCreated}
	err := stream.Publish(context.Background(), ports.ChangeEvent{
		Kind:           ports.ChangeUpsert,
		TrackingNumber: record.TrackingNumber,
		Record:         &record,
	})
	require.NoError(t, err)

	require.NoError(t, mockProducer.Close())
}

// TestKafkaChangeStream_PublishError verifies broker failures surface to the
// caller.
func TestKafkaChangeStream_PublishError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	stream := &KafkaChangeStream{producer: mockProducer, topic: "shipments.changes"}

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := stream.Publish(context.Background(), ports.ChangeEvent{
		Kind:           ports.ChangeDelete,
		TrackingNumber: "OM123456789",
	})
	assert.Error(t, err)

	require.NoError(t, mockProducer.Close())
}

// TestDecodeChangeMessage verifies the decode path drops garbage instead of
// failing the consumer.
func TestDecodeChangeMessage(t *testing.T) {
	event, ok := decodeChangeMessage([]byte(`{"kind":"delete","trackingNumber":"OM123456789"}`))
	require.True(t, ok)
	assert.Equal(t, ports.ChangeDelete, event.Kind)

	_, ok = decodeChangeMessage([]byte(`not-json`))
	assert.False(t, ok)
}
