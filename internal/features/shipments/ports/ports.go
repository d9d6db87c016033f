package ports

import (
	"context"

	"orchid-tracker/internal/features/shipments/domain"
)

// ChangeKind discriminates change-stream events.
type ChangeKind string

const (
	// ChangeUpsert signals an inserted or updated record.
	ChangeUpsert ChangeKind = "upsert"
	// ChangeDelete signals a removed record.
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent is one entry of the shipment change stream. Record is set for
// upserts; TrackingNumber is always set.
type ChangeEvent struct {
	Kind           ChangeKind             `json:"kind"`
	TrackingNumber string                 `json:"trackingNumber"`
	Record         *domain.ShipmentRecord `json:"record,omitempty"`
}

// ShipmentRepository is the secondary port for the shipment collection.
type ShipmentRepository interface {
	// List returns every shipment record.
	List(ctx context.Context) ([]domain.ShipmentRecord, error)
	// GetByKey returns the record for a tracking number, or
	// domain.ErrShipmentNotFound.
	GetByKey(ctx context.Context, trackingNumber string) (*domain.ShipmentRecord, error)
	// Insert persists a new record. Returns
	// domain.ErrDuplicateTrackingNumber on a key collision.
	Insert(ctx context.Context, record *domain.ShipmentRecord) error
	// UpdateStatus prepends the event, replaces the current status and bumps
	// the version. The stored record is returned.
	UpdateStatus(ctx context.Context, trackingNumber string, event domain.TrackingEvent) (*domain.ShipmentRecord, error)
	// UpdateMetadata replaces descriptive fields only. The stored record is
	// returned.
	UpdateMetadata(ctx context.Context, trackingNumber string, fields domain.MetadataFields) (*domain.ShipmentRecord, error)
	// Delete removes the record for a tracking number.
	Delete(ctx context.Context, trackingNumber string) error
}

// ChangePublisher pushes change events to every connected client.
type ChangePublisher interface {
	Publish(ctx context.Context, event ChangeEvent) error
}

// Subscription is a live, non-restartable change feed. It must be closed by
// the consumer; after Close the events channel is closed and no goroutine is
// left behind.
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}

// ChangeNotifier opens subscriptions on the shipment change stream.
type ChangeNotifier interface {
	Subscribe(ctx context.Context) (Subscription, error)
}
