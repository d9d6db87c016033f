package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewShipment verifies the seeded history and the origin/destination invariant.
func TestNewShipment(t *testing.T) {
	now := time.Date(2024, 7, 21, 10, 0, 0, 0, time.UTC)

	record, err := NewShipment("OM123456789", "Yangon", "Kuala Lumpur", "25 Oct, 2025", now)
	require.NoError(t, err)

	assert.Equal(t, StatusOrderCreated, record.CurrentStatus)
	require.Len(t, record.History, 1)
	assert.Equal(t, StatusOrderCreated, record.History[0].Status)
	assert.Equal(t, "Yangon", record.History[0].Location)
	assert.Equal(t, "21/07/2024, 10:00:00 GMT", record.History[0].Timestamp)
}

// TestNewShipment_SameOriginDestination verifies creation is rejected.
func TestNewShipment_SameOriginDestination(t *testing.T) {
	_, err := NewShipment("OM123456789", "Yangon", "Yangon", "25 Oct, 2025", time.Now())
	assert.ErrorIs(t, err, ErrSameOriginDestination)
}

// TestShipmentRecord_ApplyEvent verifies the event is prepended and the
// current status follows the head of the history.
func TestShipmentRecord_ApplyEvent(t *testing.T) {
	now := time.Date(2024, 7, 21, 10, 0, 0, 0, time.UTC)
	record, err := NewShipment("OM123456789", "Yangon", "Kuala Lumpur", "25 Oct, 2025", now)
	require.NoError(t, err)

	updated := record.ApplyEvent(TrackingEvent{
		Status:    StatusInTransit,
		Location:  "Bangkok",
		Timestamp: EventTimestamp(now.Add(24 * time.Hour)),
		Details:   "In transit to destination country",
	})

	assert.Equal(t, StatusInTransit, updated.CurrentStatus)
	require.Len(t, updated.History, 2)
	assert.Equal(t, StatusInTransit, updated.History[0].Status)
	assert.Equal(t, StatusOrderCreated, updated.History[1].Status)

	// Original record is untouched.
	assert.Len(t, record.History, 1)
	assert.Equal(t, StatusOrderCreated, record.CurrentStatus)
}

// TestShipmentRecord_ApplyMetadata verifies only descriptive fields change.
func TestShipmentRecord_ApplyMetadata(t *testing.T) {
	now := time.Date(2024, 7, 21, 10, 0, 0, 0, time.UTC)
	record, err := NewShipment("OM123456789", "Yangon", "Kuala Lumpur", "25 Oct, 2025", now)
	require.NoError(t, err)

	updated, err := record.ApplyMetadata(MetadataFields{
		Origin:            "Mandalay",
		Destination:       "Singapore",
		EstimatedDelivery: "30 Oct, 2025",
		Weight:            "5.5",
		Dimensions:        "20x20x10 cm",
		PieceCount:        2,
		ShipmentType:      "Parcel",
	})
	require.NoError(t, err)

	assert.Equal(t, "Mandalay", updated.Origin)
	assert.Equal(t, "Singapore", updated.Destination)
	assert.Equal(t, "5.5", updated.Weight)
	assert.Equal(t, 2, updated.PieceCount)

	// History and status are not part of a metadata edit.
	assert.Equal(t, record.History, updated.History)
	assert.Equal(t, record.CurrentStatus, updated.CurrentStatus)
}

// TestShipmentRecord_ApplyMetadata_SameCities verifies the invariant holds on edit too.
func TestShipmentRecord_ApplyMetadata_SameCities(t *testing.T) {
	record := ShipmentRecord{TrackingNumber: "OM123456789", Origin: "Yangon", Destination: "Kuala Lumpur"}

	_, err := record.ApplyMetadata(MetadataFields{Origin: "Bangkok", Destination: "Bangkok"})
	assert.ErrorIs(t, err, ErrSameOriginDestination)
}

// TestValidStatus exercises the vocabulary check.
func TestValidStatus(t *testing.T) {
	assert.True(t, ValidStatus(StatusDelivered))
	assert.True(t, ValidStatus("On Hold"))
	assert.False(t, ValidStatus("Lost"))
	assert.False(t, ValidStatus(""))
}
